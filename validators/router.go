package validators

import (
	"context"
	"fmt"

	goVerify "github.com/MrEthical07/goVerify"
)

// ByKind routes validation to a per-kind validator, falling back to
// Default. A kind with no validator and no default is an error, which the
// engine reports as TransientUpstream.
type ByKind struct {
	Kinds   map[goVerify.FlowKind]goVerify.CodeValidator
	Default goVerify.CodeValidator
}

func (b ByKind) Validate(ctx context.Context, principal string, kind goVerify.FlowKind, value string) (bool, error) {
	v, ok := b.Kinds[kind]
	if !ok {
		v = b.Default
	}
	if v == nil {
		return false, fmt.Errorf("no validator for flow kind %q", kind)
	}
	return v.Validate(ctx, principal, kind, value)
}

var _ goVerify.CodeValidator = ByKind{}

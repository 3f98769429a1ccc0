package goVerify

import "context"

// CodeValidator checks a submitted code or credential against the real
// secret. A non-nil error is reported as TransientUpstream and never counts
// as a failed attempt.
type CodeValidator interface {
	Validate(ctx context.Context, principal string, kind FlowKind, value string) (bool, error)
}

// CodeIssuer generates and delivers a code, or for two-factor setup the
// shared secret and backup codes.
type CodeIssuer interface {
	Issue(ctx context.Context, principal string, kind FlowKind, channel, destination string) (IssueReceipt, error)
}

// CompletionHandler runs before a flow commits its terminal step, for
// example to store the new password of a reset. An error leaves the flow
// where it was and surfaces as TransientUpstream.
//
// Complete must be idempotent. If the engine fails to commit after Complete
// returned nil, the caller sees TransientUpstream and a retried Submit
// calls Complete again for the same instance ID.
type CompletionHandler interface {
	Complete(ctx context.Context, instance FlowInstance, input Input) error
}

// CodeValidatorFunc adapts a function to CodeValidator.
type CodeValidatorFunc func(ctx context.Context, principal string, kind FlowKind, value string) (bool, error)

func (f CodeValidatorFunc) Validate(ctx context.Context, principal string, kind FlowKind, value string) (bool, error) {
	return f(ctx, principal, kind, value)
}

// CodeIssuerFunc adapts a function to CodeIssuer.
type CodeIssuerFunc func(ctx context.Context, principal string, kind FlowKind, channel, destination string) (IssueReceipt, error)

func (f CodeIssuerFunc) Issue(ctx context.Context, principal string, kind FlowKind, channel, destination string) (IssueReceipt, error) {
	return f(ctx, principal, kind, channel, destination)
}

// CompletionHandlerFunc adapts a function to CompletionHandler.
type CompletionHandlerFunc func(ctx context.Context, instance FlowInstance, input Input) error

func (f CompletionHandlerFunc) Complete(ctx context.Context, instance FlowInstance, input Input) error {
	return f(ctx, instance, input)
}

// TicketSigner mints completion tickets. *ticket.Signer satisfies it.
type TicketSigner interface {
	Sign(principal, kind, flowID, step string) (string, error)
}

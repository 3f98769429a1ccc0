package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLocked means the principal is inside an active lockout window.
	ErrLocked = errors.New("locked")
	// ErrCooldownActive means a resend was requested before the cooldown elapsed.
	ErrCooldownActive = errors.New("cooldown active")
	// ErrInvalidInput means the submitted value failed local validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCode means the validator rejected a code.
	ErrInvalidCode = errors.New("invalid code")
	// ErrInvalidCredentials means the validator rejected credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAttemptsExhausted means the step ran out of attempts and the flow must be restarted.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	// ErrTransientUpstream means a collaborator or backend failed; the call is safe to retry.
	ErrTransientUpstream = errors.New("transient upstream failure")

	ErrFlowNotFound      = errors.New("flow not found")
	ErrUnknownFlowKind   = errors.New("unknown flow kind")
	ErrStepNotNavigable  = errors.New("step not navigable")
	ErrResendNotAllowed  = errors.New("resend not allowed at this step")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrEngineNotReady    = errors.New("engine not initialized")
	ErrMissingPrincipal  = errors.New("principal required")
	ErrBuilderReused     = errors.New("builder already used")
	ErrValidatorRequired = errors.New("code validator required")
	ErrIssuerRequired    = errors.New("code issuer required")
)

// ErrorKind is the caller-facing classification of an operation outcome.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindLocked
	KindCooldownActive
	KindInvalidInput
	KindInvalidCode
	KindInvalidCredentials
	KindAttemptsExhausted
	KindTransientUpstream
	// KindOther covers programming and lookup errors such as unknown kinds.
	KindOther
)

var kindNames = [...]string{
	KindNone:               "none",
	KindLocked:             "locked",
	KindCooldownActive:     "cooldown_active",
	KindInvalidInput:       "invalid_input",
	KindInvalidCode:        "invalid_code",
	KindInvalidCredentials: "invalid_credentials",
	KindAttemptsExhausted:  "attempts_exhausted",
	KindTransientUpstream:  "transient_upstream",
	KindOther:              "other",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindLocked:
		return ErrLocked
	case KindCooldownActive:
		return ErrCooldownActive
	case KindInvalidInput:
		return ErrInvalidInput
	case KindInvalidCode:
		return ErrInvalidCode
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindAttemptsExhausted:
		return ErrAttemptsExhausted
	case KindTransientUpstream:
		return ErrTransientUpstream
	}
	return nil
}

// FlowError is the classified outcome of Begin, Submit, Resend or Back.
// errors.Is matches both its kind sentinel and the underlying cause.
type FlowError struct {
	Kind ErrorKind
	// Wait is the lockout or cooldown time left. Zero for other kinds.
	Wait time.Duration
	// RemainingAttempts is set for InvalidCode and InvalidCredentials.
	// -1 means the step has no attempt cap.
	RemainingAttempts int
	// Field names the offending input for InvalidInput.
	Field string
	// Step is the step the flow is at after the call.
	Step Step

	cause error
}

func (e *FlowError) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case KindLocked, KindCooldownActive:
		msg += fmt.Sprintf(" (retry in %s)", e.Wait)
	case KindInvalidCode, KindInvalidCredentials:
		if e.RemainingAttempts >= 0 {
			msg += fmt.Sprintf(" (%d attempts remaining)", e.RemainingAttempts)
		}
	case KindInvalidInput:
		if e.Field != "" {
			msg += " (" + e.Field + ")"
		}
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// KindOf classifies any error returned by the engine. Backend failures and
// context errors count as TransientUpstream.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, ErrCooldownActive):
		return KindCooldownActive
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMissingPrincipal):
		return KindInvalidInput
	case errors.Is(err, ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrAttemptsExhausted):
		return KindAttemptsExhausted
	case errors.Is(err, ErrTransientUpstream),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransientUpstream
	}
	return KindOther
}

// RetryAfter returns the wait carried by a Locked or CooldownActive error.
func RetryAfter(err error) (time.Duration, bool) {
	var fe *FlowError
	if !errors.As(err, &fe) {
		return 0, false
	}
	if fe.Kind != KindLocked && fe.Kind != KindCooldownActive {
		return 0, false
	}
	return fe.Wait, true
}

func lockedError(step Step, wait time.Duration) *FlowError {
	return &FlowError{Kind: KindLocked, Wait: wait, Step: step, RemainingAttempts: 0}
}

func cooldownError(step Step, wait time.Duration) *FlowError {
	return &FlowError{Kind: KindCooldownActive, Wait: wait, Step: step}
}

func invalidInputError(step Step, field string, cause error) *FlowError {
	return &FlowError{Kind: KindInvalidInput, Field: field, Step: step, cause: cause}
}

func exhaustedError(step Step) *FlowError {
	return &FlowError{Kind: KindAttemptsExhausted, Step: step}
}

func transientError(step Step, cause error) *FlowError {
	return &FlowError{Kind: KindTransientUpstream, Step: step, cause: cause}
}

func rejectedError(kind ErrorKind, step Step, remaining int) *FlowError {
	return &FlowError{Kind: kind, Step: step, RemainingAttempts: remaining}
}

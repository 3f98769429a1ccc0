package goVerify

import (
	"fmt"
	"time"
)

// FlowKind names a verification process. Each kind maps to one FlowPolicy.
type FlowKind string

const (
	FlowLogin             FlowKind = "login"
	FlowEmailVerification FlowKind = "email_verification"
	FlowPasswordReset     FlowKind = "password_reset"
	FlowTwoFactorSetup    FlowKind = "two_factor_setup"
)

// Kinds lists the built-in flow kinds in a stable order.
func Kinds() []FlowKind {
	return []FlowKind{FlowLogin, FlowEmailVerification, FlowPasswordReset, FlowTwoFactorSetup}
}

// ParseFlowKind accepts the wire names of the built-in kinds.
func ParseFlowKind(s string) (FlowKind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFlowKind, s)
}

// Step is one node of a flow's step graph.
type Step string

const (
	StepAwaitingCredentials Step = "awaiting_credentials"
	StepAuthenticated       Step = "authenticated"

	StepAwaitingCode Step = "awaiting_code"
	StepVerified     Step = "verified"

	StepAwaitingEmail       Step = "awaiting_email"
	StepAwaitingResetCode   Step = "awaiting_reset_code"
	StepAwaitingNewPassword Step = "awaiting_new_password"
	StepCompleted           Step = "completed"

	StepIntro    Step = "intro"
	StepSetup    Step = "setup"
	StepVerify   Step = "verify"
	StepBackup   Step = "backup"
	StepComplete Step = "complete"

	// StepCancelled is reported by Abort. No policy contains it.
	StepCancelled Step = "cancelled"
)

// IssueReceipt is what a CodeIssuer reports back. The engine stores it on
// the instance and never inspects Secret or BackupCodes.
type IssueReceipt struct {
	Channel     string    `json:"channel"`
	Destination string    `json:"destination,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Secret      string    `json:"secret,omitempty"`
	BackupCodes []string  `json:"backup_codes,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// FlowInstance is a snapshot of one in-flight flow.
type FlowInstance struct {
	ID          string        `json:"id"`
	Principal   string        `json:"principal"`
	Kind        FlowKind      `json:"kind"`
	Step        Step          `json:"step"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Terminal    bool          `json:"terminal"`
	Exhausted   bool          `json:"exhausted,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Receipt     *IssueReceipt `json:"receipt,omitempty"`
}

// Input is a caller submission. Value holds the code, credential, email or
// new password depending on the step; Confirm is only read by new-password
// steps. Navigation steps ignore both.
type Input struct {
	Value   string
	Confirm string
}

// SubmitResult describes a successful Submit.
type SubmitResult struct {
	Instance FlowInstance
	// Previous is the step the submission was evaluated against.
	Previous Step
	// Ticket is a signed completion ticket when the flow reached its terminal
	// step and a ticket signer is configured.
	Ticket string
}

// ResendResult describes a successful Resend.
type ResendResult struct {
	Instance FlowInstance
	Receipt  IssueReceipt
	// NextAvailableIn is the cooldown that was just started.
	NextAvailableIn time.Duration
	// AttemptsReset reports whether the failure count was cleared.
	AttemptsReset bool
}

// FlowStatus is a read-only projection for presentation layers.
type FlowStatus struct {
	Kind      FlowKind
	Principal string
	// Instance is nil when no flow is in progress.
	Instance          *FlowInstance
	FailCount         int
	RemainingAttempts int
	LockedFor         time.Duration
	ResendAvailableIn time.Duration
}

// Locked reports whether submissions are currently refused.
func (s FlowStatus) Locked() bool { return s.LockedFor > 0 }

// ResendReady reports whether a resend would pass the cooldown check.
func (s FlowStatus) ResendReady() bool { return s.ResendAvailableIn <= 0 }

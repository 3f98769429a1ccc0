package goVerify

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/limiters"
)

// UnlimitedAttempts is reported as the remaining attempts of a step without
// a cap.
const UnlimitedAttempts = limiters.UnlimitedAttempts

// InputKind tells the engine how to check and route a submission.
type InputKind uint8

const (
	// InputNone marks navigation steps: Submit advances without a value.
	InputNone InputKind = iota
	// InputCredentials goes to the validator and fails as InvalidCredentials.
	InputCredentials
	// InputCode goes to the validator and fails as InvalidCode.
	InputCode
	// InputEmail is shape-checked, stored as the destination and triggers an issue.
	InputEmail
	// InputNewPassword is checked locally and handed to the CompletionHandler.
	InputNewPassword
)

// BeginMode decides what Begin does when an active instance exists.
type BeginMode uint8

const (
	BeginResume BeginMode = iota
	BeginSupersede
)

// StepPolicy configures one step.
type StepPolicy struct {
	Step  Step
	Input InputKind
	// MaxAttempts overrides FlowPolicy.MaxAttempts when non-zero.
	// Negative means unlimited.
	MaxAttempts int
	// AutoAdvanceOnAttemptsExhausted locks the principal out when attempts run
	// out. When false, exhaustion ends the instance until the next Begin.
	AutoAdvanceOnAttemptsExhausted bool
	AllowBack                      bool
	Resend                         bool
	Terminal                       bool
	// CodeLength is enforced on InputCode steps when positive.
	CodeLength int
	// MinPasswordLength is counted in runes on InputNewPassword steps.
	MinPasswordLength int
}

func (sp StepPolicy) gated() bool {
	return sp.Input == InputCredentials || sp.Input == InputCode
}

// FlowPolicy is the immutable configuration of one flow kind.
type FlowPolicy struct {
	Kind            FlowKind
	MaxAttempts     int
	LockoutDuration time.Duration
	ResendCooldown  time.Duration
	// ResendResetsAttempts zeroes the failure count after a successful
	// resend. It never clears an active lockout.
	ResendResetsAttempts bool
	// RestartResetsAttempts zeroes the failure count whenever Begin creates
	// a new instance.
	RestartResetsAttempts bool
	OnBegin               BeginMode
	// IssueOnBegin sends a code through the CodeIssuer when a new instance is
	// created and the channel cooldown allows it.
	IssueOnBegin bool
	// Channel is the default issue channel for Begin and Resend.
	Channel string
	Steps   []StepPolicy
}

// DefaultPolicies returns the built-in policies for every FlowKind.
func DefaultPolicies() map[FlowKind]FlowPolicy {
	return map[FlowKind]FlowPolicy{
		FlowLogin: {
			Kind:            FlowLogin,
			MaxAttempts:     5,
			LockoutDuration: 5 * time.Minute,
			Steps: []StepPolicy{
				{Step: StepAwaitingCredentials, Input: InputCredentials, AutoAdvanceOnAttemptsExhausted: true},
				{Step: StepAuthenticated, Terminal: true},
			},
		},
		FlowEmailVerification: {
			Kind:                 FlowEmailVerification,
			MaxAttempts:          5,
			LockoutDuration:      15 * time.Minute,
			ResendCooldown:       60 * time.Second,
			ResendResetsAttempts: true,
			IssueOnBegin:         true,
			Channel:              "email",
			Steps: []StepPolicy{
				{Step: StepAwaitingCode, Input: InputCode, AutoAdvanceOnAttemptsExhausted: true, Resend: true, CodeLength: 6},
				{Step: StepVerified, Terminal: true},
			},
		},
		FlowPasswordReset: {
			Kind:           FlowPasswordReset,
			ResendCooldown: 60 * time.Second,
			Channel:        "email",
			Steps: []StepPolicy{
				{Step: StepAwaitingEmail, Input: InputEmail},
				{Step: StepAwaitingResetCode, Input: InputCode, Resend: true, CodeLength: 6},
				{Step: StepAwaitingNewPassword, Input: InputNewPassword, MinPasswordLength: 6},
				{Step: StepCompleted, Terminal: true},
			},
		},
		FlowTwoFactorSetup: {
			Kind:                  FlowTwoFactorSetup,
			MaxAttempts:           3,
			RestartResetsAttempts: true,
			IssueOnBegin:          true,
			Channel:               "totp",
			Steps: []StepPolicy{
				{Step: StepIntro},
				{Step: StepSetup, AllowBack: true},
				{Step: StepVerify, Input: InputCode, AllowBack: true, CodeLength: 6},
				{Step: StepBackup, AllowBack: true},
				{Step: StepComplete, Terminal: true},
			},
		},
	}
}

var (
	errPolicyKind     = errors.New("policy kind mismatch")
	errPolicyLockout  = errors.New("lockout step needs positive attempts and lockout duration")
	errPolicyInput    = errors.New("input kind not allowed on this step")
	errPolicyChannel  = errors.New("issuing policy needs a channel")
	errPolicyNegative = errors.New("negative duration")
)

// compiledPolicy pairs a policy with its step machine and lookup table.
type compiledPolicy struct {
	FlowPolicy
	machine *flows.Machine
	steps   map[Step]StepPolicy
}

func compilePolicy(kind FlowKind, p FlowPolicy) (*compiledPolicy, error) {
	if p.Kind == "" {
		p.Kind = kind
	}
	if p.Kind != kind {
		return nil, fmt.Errorf("%w: %s registered as %s", errPolicyKind, p.Kind, kind)
	}
	if p.LockoutDuration < 0 || p.ResendCooldown < 0 {
		return nil, fmt.Errorf("%s: %w", kind, errPolicyNegative)
	}

	nodes := make([]flows.Node, 0, len(p.Steps))
	steps := make(map[Step]StepPolicy, len(p.Steps))
	needsChannel := p.IssueOnBegin
	for _, sp := range p.Steps {
		if sp.Terminal && sp.Input != InputNone {
			return nil, fmt.Errorf("%s/%s: %w", kind, sp.Step, errPolicyInput)
		}
		if sp.Step == StepCancelled {
			return nil, fmt.Errorf("%s: %w: %s is reserved", kind, flows.ErrDuplicateStep, sp.Step)
		}
		if sp.gated() && sp.AutoAdvanceOnAttemptsExhausted {
			if p.attemptsFor(sp) <= 0 || p.LockoutDuration <= 0 {
				return nil, fmt.Errorf("%s/%s: %w", kind, sp.Step, errPolicyLockout)
			}
		}
		if sp.Resend || sp.Input == InputEmail {
			needsChannel = true
		}
		nodes = append(nodes, flows.Node{Name: string(sp.Step), Terminal: sp.Terminal, AllowBack: sp.AllowBack})
		steps[sp.Step] = sp
	}
	if needsChannel && p.Channel == "" {
		return nil, fmt.Errorf("%s: %w", kind, errPolicyChannel)
	}

	m, err := flows.Compile(nodes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	p.Steps = append([]StepPolicy(nil), p.Steps...)
	return &compiledPolicy{FlowPolicy: p, machine: m, steps: steps}, nil
}

// attemptsFor resolves the effective attempt cap; <= 0 means unlimited.
func (p FlowPolicy) attemptsFor(sp StepPolicy) int {
	if sp.MaxAttempts != 0 {
		return sp.MaxAttempts
	}
	return p.MaxAttempts
}

func (p FlowPolicy) ledgerPolicy(sp StepPolicy) limiters.Policy {
	return limiters.Policy{
		MaxAttempts:     p.attemptsFor(sp),
		LockOnExhaust:   sp.AutoAdvanceOnAttemptsExhausted,
		LockoutDuration: p.LockoutDuration,
	}
}

func (c *compiledPolicy) step(s Step) (StepPolicy, bool) {
	sp, ok := c.steps[s]
	return sp, ok
}

func (c *compiledPolicy) first() Step {
	return Step(c.machine.First())
}

// gatedStep returns the first attempt-gated step; used by Status when no
// instance exists.
func (c *compiledPolicy) gatedStep() (StepPolicy, bool) {
	for _, sp := range c.Steps {
		if sp.gated() {
			return sp, true
		}
	}
	return StepPolicy{}, false
}

package httpapi

import (
	"math"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

type beginRequest struct {
	Principal   string `json:"principal" validate:"omitempty,max=256"`
	Destination string `json:"destination" validate:"omitempty,max=320"`
	Supersede   bool   `json:"supersede"`
}

type submitRequest struct {
	Principal string `json:"principal" validate:"omitempty,max=256"`
	Value     string `json:"value" validate:"max=1024"`
	Confirm   string `json:"confirm" validate:"max=1024"`
}

type resendRequest struct {
	Principal string `json:"principal" validate:"omitempty,max=256"`
	Channel   string `json:"channel" validate:"omitempty,max=32,alphanum"`
}

type principalRequest struct {
	Principal string `json:"principal" validate:"omitempty,max=256"`
}

type receiptResponse struct {
	Channel     string     `json:"channel"`
	Destination string     `json:"destination,omitempty"`
	Reference   string     `json:"reference,omitempty"`
	Secret      string     `json:"secret,omitempty"`
	BackupCodes []string   `json:"backup_codes,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type flowResponse struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	Step        string           `json:"step"`
	Terminal    bool             `json:"terminal"`
	Exhausted   bool             `json:"exhausted,omitempty"`
	Destination string           `json:"destination,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Issue       *receiptResponse `json:"issue,omitempty"`
}

type submitResponse struct {
	Flow     flowResponse `json:"flow"`
	Previous string       `json:"previous_step"`
	Ticket   string       `json:"ticket,omitempty"`
}

type resendResponse struct {
	Flow                   flowResponse `json:"flow"`
	NextAvailableInSeconds int64        `json:"next_available_in_seconds"`
	AttemptsReset          bool         `json:"attempts_reset"`
}

type statusResponse struct {
	Kind                     string        `json:"kind"`
	Principal                string        `json:"principal"`
	Flow                     *flowResponse `json:"flow,omitempty"`
	FailCount                int           `json:"fail_count"`
	RemainingAttempts        int           `json:"remaining_attempts"`
	Locked                   bool          `json:"locked"`
	LockedForSeconds         int64         `json:"locked_for_seconds"`
	ResendReady              bool          `json:"resend_ready"`
	ResendAvailableInSeconds int64         `json:"resend_available_in_seconds"`
}

type errorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Step              string `json:"step,omitempty"`
	Field             string `json:"field,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// toFlowResponse hides enrollment material outside two-factor setup.
func toFlowResponse(in goVerify.FlowInstance) flowResponse {
	out := flowResponse{
		ID:          in.ID,
		Kind:        string(in.Kind),
		Step:        string(in.Step),
		Terminal:    in.Terminal,
		Exhausted:   in.Exhausted,
		Destination: in.Destination,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}
	if r := in.Receipt; r != nil {
		out.Issue = &receiptResponse{
			Channel:     r.Channel,
			Destination: r.Destination,
			Reference:   r.Reference,
		}
		if !r.ExpiresAt.IsZero() {
			expires := r.ExpiresAt
			out.Issue.ExpiresAt = &expires
		}
		if in.Kind == goVerify.FlowTwoFactorSetup && !in.Terminal {
			out.Issue.Secret = r.Secret
			out.Issue.BackupCodes = r.BackupCodes
		}
	}
	return out
}

func toStatusResponse(st goVerify.FlowStatus) statusResponse {
	out := statusResponse{
		Kind:                     string(st.Kind),
		Principal:                st.Principal,
		FailCount:                st.FailCount,
		RemainingAttempts:        st.RemainingAttempts,
		Locked:                   st.Locked(),
		LockedForSeconds:         seconds(st.LockedFor),
		ResendReady:              st.ResendReady(),
		ResendAvailableInSeconds: seconds(st.ResendAvailableIn),
	}
	if st.Instance != nil {
		flow := toFlowResponse(*st.Instance)
		out.Flow = &flow
	}
	return out
}

// seconds rounds up so a client never retries early.
func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

package internaldefs

import (
	goVerify "github.com/MrEthical07/goVerify"
)

type CounterDef struct {
	ID   goVerify.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goVerify.MetricID
	Name string
	Help string
}

// AuditDropped is exported by every exporter next to the engine counters.
var AuditDropped = CounterDef{
	Name: "goverify_audit_dropped_total",
	Help: "Audit events dropped by dispatcher backpressure.",
}

var CounterDefs = []CounterDef{
	{ID: goVerify.MetricBeginNew, Name: "goverify_begin_new_total", Help: "Flow instances created by Begin."},
	{ID: goVerify.MetricBeginResumed, Name: "goverify_begin_resumed_total", Help: "Begin calls that resumed an active instance."},
	{ID: goVerify.MetricBeginSuperseded, Name: "goverify_begin_superseded_total", Help: "Begin calls that replaced an active instance."},
	{ID: goVerify.MetricSubmitSuccess, Name: "goverify_submit_success_total", Help: "Submissions that advanced a flow."},
	{ID: goVerify.MetricSubmitInvalidCode, Name: "goverify_submit_invalid_code_total", Help: "Submissions rejected as invalid code."},
	{ID: goVerify.MetricSubmitInvalidCredentials, Name: "goverify_submit_invalid_credentials_total", Help: "Submissions rejected as invalid credentials."},
	{ID: goVerify.MetricSubmitInvalidInput, Name: "goverify_submit_invalid_input_total", Help: "Submissions that failed local validation."},
	{ID: goVerify.MetricSubmitLocked, Name: "goverify_submit_locked_total", Help: "Submissions refused by an active lockout."},
	{ID: goVerify.MetricLockoutTriggered, Name: "goverify_lockout_triggered_total", Help: "Failures that started a lockout."},
	{ID: goVerify.MetricAttemptsExhausted, Name: "goverify_attempts_exhausted_total", Help: "Instances that ran out of attempts."},
	{ID: goVerify.MetricResendSuccess, Name: "goverify_resend_success_total", Help: "Successful resends."},
	{ID: goVerify.MetricResendCooldown, Name: "goverify_resend_cooldown_total", Help: "Resends refused by an active cooldown."},
	{ID: goVerify.MetricIssueSuccess, Name: "goverify_issue_success_total", Help: "Codes handed to the issuer successfully."},
	{ID: goVerify.MetricTransientUpstream, Name: "goverify_transient_upstream_total", Help: "Operations failed by a collaborator or backend."},
	{ID: goVerify.MetricFlowCompleted, Name: "goverify_flow_completed_total", Help: "Flows that reached their terminal step."},
	{ID: goVerify.MetricFlowAborted, Name: "goverify_flow_aborted_total", Help: "Flows cancelled by Abort."},
	{ID: goVerify.MetricNavigateBack, Name: "goverify_navigate_back_total", Help: "Successful Back navigations."},
	{ID: goVerify.MetricTicketIssued, Name: "goverify_ticket_issued_total", Help: "Completion tickets minted."},
}

var HistogramDefs = []HistogramDef{
	{ID: goVerify.MetricSubmitLatency, Name: "goverify_submit_latency_seconds", Help: "Submit latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one extra open-ended bucket.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, including +Inf, for exporters
// that publish buckets as separate gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

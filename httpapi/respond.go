package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	goVerify "github.com/MrEthical07/goVerify"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   goVerify.KindInvalidInput.String(),
		Message: message,
		Field:   field,
	})
}

// writeError maps an engine error onto a status code and body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, goVerify.ErrUnknownFlowKind):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown_flow_kind", Message: "unknown flow kind"})
		return
	case errors.Is(err, goVerify.ErrFlowNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "flow_not_found", Message: "no active flow"})
		return
	case errors.Is(err, goVerify.ErrStepNotNavigable):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "step_not_navigable", Message: "cannot go back from this step"})
		return
	case errors.Is(err, goVerify.ErrResendNotAllowed):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "resend_not_allowed", Message: "resend is not available at this step"})
		return
	}

	kind := goVerify.KindOf(err)
	body := errorResponse{Error: kind.String(), Message: kind.String()}
	var fe *goVerify.FlowError
	if errors.As(err, &fe) {
		body.Step = string(fe.Step)
		body.Field = fe.Field
	}

	status := http.StatusInternalServerError
	switch kind {
	case goVerify.KindLocked, goVerify.KindCooldownActive:
		status = http.StatusLocked
		if kind == goVerify.KindCooldownActive {
			status = http.StatusTooManyRequests
		}
		if wait, ok := goVerify.RetryAfter(err); ok {
			body.RetryAfterSeconds = seconds(wait)
			w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfterSeconds, 10))
		}
	case goVerify.KindInvalidInput:
		status = http.StatusBadRequest
		body.Message = err.Error()
	case goVerify.KindInvalidCode, goVerify.KindInvalidCredentials:
		status = http.StatusUnauthorized
		if fe != nil {
			remaining := fe.RemainingAttempts
			body.RemainingAttempts = &remaining
		}
	case goVerify.KindAttemptsExhausted:
		status = http.StatusConflict
	case goVerify.KindTransientUpstream:
		status = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "flow request failed upstream",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	default:
		body = errorResponse{Error: "internal_error", Message: "internal error"}
		h.logger.ErrorContext(r.Context(), "flow request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

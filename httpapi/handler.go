package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/middleware"
)

const maxBodyBytes = 16 << 10

// FlowService is the engine surface the handlers need. *goVerify.Engine
// satisfies it.
type FlowService interface {
	Begin(ctx context.Context, principal string, kind goVerify.FlowKind, opts ...goVerify.BeginOption) (goVerify.FlowInstance, error)
	Submit(ctx context.Context, principal string, kind goVerify.FlowKind, in goVerify.Input) (goVerify.SubmitResult, error)
	Resend(ctx context.Context, principal string, kind goVerify.FlowKind, channel string) (goVerify.ResendResult, error)
	Back(ctx context.Context, principal string, kind goVerify.FlowKind) (goVerify.FlowInstance, error)
	Abort(ctx context.Context, principal string, kind goVerify.FlowKind) (goVerify.FlowInstance, error)
	Status(ctx context.Context, principal string, kind goVerify.FlowKind) (goVerify.FlowStatus, error)
}

var _ FlowService = (*goVerify.Engine)(nil)

// Handler serves the flow endpoints.
type Handler struct {
	flows    FlowService
	tickets  middleware.TicketVerifier
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler builds a Handler. tickets may be nil, in which case every
// principal is taken from the request.
func NewHandler(flows FlowService, tickets middleware.TicketVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flows:    flows,
		tickets:  tickets,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type kindContextKey struct{}

// Routes returns a router serving only the flow endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register adds the flow endpoints under /flows to r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/flows", func(r chi.Router) {
		if h.tickets != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireTicketKind(h.tickets, goVerify.FlowLogin))
				r.Use(fixedKind(goVerify.FlowTwoFactorSetup))
				r.Route("/"+string(goVerify.FlowTwoFactorSetup), h.flowRoutes)
			})
		}
		r.Route("/{kind}", h.flowRoutes)
	})
}

func (h *Handler) flowRoutes(r chi.Router) {
	r.Get("/", h.status)
	r.Post("/begin", h.begin)
	r.Post("/submit", h.submit)
	r.Post("/resend", h.resend)
	r.Post("/back", h.back)
	r.Post("/abort", h.abort)
}

func fixedKind(kind goVerify.FlowKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), kindContextKey{}, kind)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func flowKind(r *http.Request) goVerify.FlowKind {
	if kind, ok := r.Context().Value(kindContextKey{}).(goVerify.FlowKind); ok {
		return kind
	}
	return goVerify.FlowKind(chi.URLParam(r, "kind"))
}

// principal prefers the ticket subject over anything the client sent.
func principal(r *http.Request, fromRequest string) string {
	if p := middleware.PrincipalFromContext(r.Context()); p != "" {
		return p
	}
	return strings.TrimSpace(fromRequest)
}

// decode reads and validates a JSON body. An empty body decodes to the
// zero value. It writes the error response itself and reports false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeBadRequest(w, strings.ToLower(verrs[0].Field()), verrs[0].Error())
			return false
		}
		writeBadRequest(w, "", err.Error())
		return false
	}
	return true
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if !h.decode(w, r, &req) {
		return
	}

	var opts []goVerify.BeginOption
	if req.Destination != "" {
		opts = append(opts, goVerify.WithDestination(req.Destination))
	}
	if req.Supersede {
		opts = append(opts, goVerify.WithSupersede())
	}

	inst, err := h.flows.Begin(r.Context(), principal(r, req.Principal), flowKind(r), opts...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowResponse(inst))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.flows.Submit(r.Context(), principal(r, req.Principal), flowKind(r), goVerify.Input{
		Value:   req.Value,
		Confirm: req.Confirm,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Flow:     toFlowResponse(res.Instance),
		Previous: string(res.Previous),
		Ticket:   res.Ticket,
	})
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.flows.Resend(r.Context(), principal(r, req.Principal), flowKind(r), req.Channel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resendResponse{
		Flow:                   toFlowResponse(res.Instance),
		NextAvailableInSeconds: seconds(res.NextAvailableIn),
		AttemptsReset:          res.AttemptsReset,
	})
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request) {
	var req principalRequest
	if !h.decode(w, r, &req) {
		return
	}

	inst, err := h.flows.Back(r.Context(), principal(r, req.Principal), flowKind(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowResponse(inst))
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	var req principalRequest
	if !h.decode(w, r, &req) {
		return
	}

	inst, err := h.flows.Abort(r.Context(), principal(r, req.Principal), flowKind(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowResponse(inst))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	p := principal(r, r.URL.Query().Get("principal"))

	st, err := h.flows.Status(r.Context(), p, flowKind(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

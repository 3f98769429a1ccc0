package middleware

import (
	"context"
	"net/http"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/ticket"
)

// TicketVerifier checks a raw completion ticket. *ticket.Signer satisfies it.
type TicketVerifier interface {
	Parse(raw string) (*ticket.Claims, error)
}

type ticketContextKey struct{}

// TicketFromContext returns the claims injected by RequireTicket.
func TicketFromContext(ctx context.Context) (*ticket.Claims, bool) {
	claims, ok := ctx.Value(ticketContextKey{}).(*ticket.Claims)
	return claims, ok
}

// PrincipalFromContext returns the subject of a verified ticket, or "".
func PrincipalFromContext(ctx context.Context) string {
	if claims, ok := TicketFromContext(ctx); ok {
		return claims.Principal()
	}
	return ""
}

// RequireTicket rejects requests without a valid bearer completion ticket.
func RequireTicket(verifier TicketVerifier) func(http.Handler) http.Handler {
	return guard(verifier, "")
}

// RequireTicketKind is RequireTicket restricted to tickets minted by kind.
func RequireTicketKind(verifier TicketVerifier, kind goVerify.FlowKind) func(http.Handler) http.Handler {
	return guard(verifier, kind)
}

func guard(verifier TicketVerifier, kind goVerify.FlowKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := verifier.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if kind != "" && claims.Kind != string(kind) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			ctx := context.WithValue(r.Context(), ticketContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

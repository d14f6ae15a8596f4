package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/pkg/utils"
)

const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	// TokenQueryKey carries the token for EventSource and WebSocket clients,
	// which cannot set request headers.
	TokenQueryKey = "token"
)

type emailKey struct{}

// TokenVerifier resolves a session token to the user's email.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// RequireAuth rejects requests without a valid session token.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing authorization token")
				return
			}

			email, err := verifier.VerifyToken(token)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("token rejected")
				utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithEmail(r.Context(), email)))
		})
	}
}

// WithEmail stores the authenticated email in ctx.
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey{}, email)
}

// GetEmail extracts the authenticated email from ctx.
func GetEmail(ctx context.Context) string {
	if email, ok := ctx.Value(emailKey{}).(string); ok {
		return email
	}
	return ""
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get(AuthHeaderKey); header != "" {
		if !strings.HasPrefix(header, BearerPrefix) {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryKey))
}

package myMiddleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"lingochat/internal/httpx"
)

type contextKey string

const UserKey contextKey = "user_id"

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
	log       *slog.Logger
}

func NewAuthMiddleware(v TokenValidator, log *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: v, log: log}
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter (browsers cannot set headers on
// a websocket handshake).
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := am.validator.Validate(r.Context(), TokenFromRequest(r))
		if err != nil {
			httpx.WriteError(w, am.log, err)
			return
		}

		ctx := WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserKey, userID)
}

// UserIDFrom returns the authenticated user id set by Handle.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserKey).(string)
	return id, ok && id != ""
}

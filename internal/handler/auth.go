package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/maiztros/pos/internal/domain/auth"
)

// APIKeyHeader carries the staff API key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey rejects requests without a valid staff API key.
func RequireAPIKey(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := a.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if errors.Is(err, auth.ErrUnauthorized) {
				zctx.From(r.Context()).Debug("API key rejected", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
			if err != nil {
				handleError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
		})
	}
}

// RequireScope rejects requests whose authenticated key lacks scope. It must
// run after RequireAPIKey.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch err := auth.Authorize(r.Context(), scope); {
			case errors.Is(err, auth.ErrUnauthorized):
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
			case errors.Is(err, auth.ErrForbidden):
				writeError(w, http.StatusForbidden, "forbidden", "")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

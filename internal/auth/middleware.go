package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/odyssey-erp/supplyledger/internal/platform/httpx"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// Middleware resolves the bearer token into a request identity.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			httpx.RespondError(w, fmt.Errorf("%w: bearer token required", shared.ErrUnauthorized))
			return
		}
		id, err := v.Parse(strings.TrimSpace(token))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

// RequireAdmin rejects callers without the administrator role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if !id.IsAdmin() {
			httpx.RespondError(w, fmt.Errorf("%w: administrator role required", shared.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

package httpapi

import (
	"net/http"
	"strings"

	"garage.app/internal/audit"
	"garage.app/internal/auth"
	"garage.app/internal/obs"
)

const (
	accessTokenHeader = "x-access-token"
	sessionIDHeader   = "x-session-id"
)

// authenticate verifies the access token and optional session id and stores
// the principal in the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(accessTokenHeader))
		if token == "" {
			a.writeError(w, r, auth.ErrMissingToken)
			return
		}
		sessionID := strings.TrimSpace(r.Header.Get(sessionIDHeader))

		principal, err := a.auth.Verify(r.Context(), token, sessionID)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole admits principals whose role is in allowed. Every decision is
// recorded in the audit trail; a failed audit write does not change it.
func (a *API) requireRole(allowed ...int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				a.writeError(w, r, auth.ErrMissingToken)
				return
			}

			err := auth.Authorize(principal, allowed...)
			entry := audit.Entry{
				Action:        audit.ActionGranted,
				UserID:        principal.UserID,
				RequiredRoles: allowed,
				ActualRole:    principal.RoleID,
				Endpoint:      r.URL.Path,
				Method:        r.Method,
				IP:            clientIP(r),
				UserAgent:     r.UserAgent(),
			}
			decision := "granted"
			if err != nil {
				entry.Action = audit.ActionDenied
				decision = "denied"
			}
			obs.CountDecision(decision)
			_ = a.audit.Record(r.Context(), entry)

			if err != nil {
				a.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

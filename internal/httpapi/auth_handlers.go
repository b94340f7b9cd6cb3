package httpapi

import (
	"net/http"
	"strings"

	"garage.app/internal/apperr"
	"garage.app/internal/audit"
	"garage.app/internal/auth"
)

type loginRequest struct {
	Email    string `json:"employee_email"`
	Password string `json:"employee_password"`
}

type loginResponse struct {
	Token        string `json:"employee_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type refreshResponse struct {
	Token     string `json:"employee_token"`
	ExpiresIn int64  `json:"expires_in"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		a.writeError(w, r, apperr.Validation("employee_email and employee_password are required"))
		return
	}

	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"session_id": res.SessionID,
		"ip":         clientIP(r),
	})
	writeSuccess(w, loginResponse{
		Token:        res.AccessToken,
		RefreshToken: res.RefreshToken,
		SessionID:    res.SessionID,
		ExpiresIn:    int64(res.ExpiresIn.Seconds()),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = strings.TrimSpace(r.Header.Get(sessionIDHeader))
	}
	if req.RefreshToken == "" || req.SessionID == "" {
		a.writeError(w, r, apperr.Validation("refresh_token and session_id are required"))
		return
	}

	res, err := a.auth.Refresh(r.Context(), req.RefreshToken, req.SessionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, refreshResponse{
		Token:     res.AccessToken,
		ExpiresIn: int64(res.ExpiresIn.Seconds()),
	})
}

// handleLogout takes the session from x-session-id or, failing that, the body.
// Logging out an unknown session succeeds.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.Header.Get(sessionIDHeader))
	if sessionID == "" && r.ContentLength != 0 {
		var req logoutRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		sessionID = strings.TrimSpace(req.SessionID)
	}
	if sessionID == "" {
		a.writeError(w, r, apperr.Validation("session_id is required"))
		return
	}
	if err := a.auth.Logout(r.Context(), sessionID); err != nil {
		a.writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"session_id": sessionID})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "logged out",
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	writeSuccess(w, map[string]any{
		"user_id":    p.UserID,
		"email":      p.Email,
		"role_id":    p.RoleID,
		"role":       auth.RoleName(p.RoleID),
		"session_id": p.SessionID,
	})
}

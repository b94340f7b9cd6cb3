package auth

import "garage.app/internal/apperr"

// Authentication failures share one type so callers can tell "retry won't
// help" from transient errors; compare with errors.Is.
var (
	ErrInvalidCredentials  = apperr.Authentication("invalid credentials")
	ErrInvalidToken        = apperr.Authentication("invalid token")
	ErrTokenExpired        = apperr.Authentication("token expired")
	ErrSessionNotFound     = apperr.Authentication("session not found")
	ErrSessionExpired      = apperr.Authentication("session expired")
	ErrSessionMismatch     = apperr.Authentication("session does not belong to this token")
	ErrInvalidRefreshToken = apperr.Authentication("invalid refresh token")
	ErrMissingToken        = apperr.Authentication("access token required")
)

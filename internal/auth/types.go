package auth

import "time"

// User is the directory record an employee authenticates as.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	RoleID       int
	Active       bool
}

// Principal is the verified identity attached to a request.
type Principal struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	RoleID    int    `json:"role_id"`
	SessionID string `json:"session_id,omitempty"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresIn    time.Duration
}

// RefreshResult is returned by a successful refresh.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   time.Duration
}

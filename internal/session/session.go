// Package session persists server-side login sessions. A session binds one
// user to one refresh token and carries its own expiry, independent of the
// access tokens minted against it.
package session

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when no session has the given id.
	ErrNotFound = errors.New("session: not found")
	// ErrDuplicate is returned by Create when the id is already taken.
	ErrDuplicate = errors.New("session: duplicate id")
)

// Session is one authenticated login.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	RoleID           int       `json:"role_id"`
	RefreshTokenHash string    `json:"refresh_token_hash"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store is the persistence contract used by the auth authority. Stores are
// safe for concurrent use. Deleting a session also drops its refresh mapping,
// since the hash lives on the session itself.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	// Create inserts a new session.
	Create(ctx context.Context, s *Session) error
	// Update replaces an existing session and returns ErrNotFound when it
	// is gone, so a concurrent delete is never undone.
	Update(ctx context.Context, s *Session) error
	// Touch sets only LastActivity, leaving every other field as stored, and
	// returns ErrNotFound when the session is gone.
	Touch(ctx context.Context, id string, at time.Time) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	// ListByUser returns the user's sessions, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	// Sweep removes every session expired at now and returns how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func validate(s *Session) error {
	if s == nil || s.ID == "" || s.UserID == "" {
		return errors.New("session: id and user id are required")
	}
	return nil
}

func sortByCreated(list []*Session) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

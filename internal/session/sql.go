package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"garage.app/internal/database"
)

const sessionColumns = "`id`, `user_id`, `email`, `role_id`, `refresh_token_hash`, `created_at`, `expires_at`, `last_activity`"

const (
	sqlGetSession = "SELECT " + sessionColumns + " FROM `auth_sessions` WHERE `id` = ?"

	sqlListSessions = "SELECT " + sessionColumns + " FROM `auth_sessions` WHERE `user_id` = ? ORDER BY `created_at` ASC, `id` ASC"

	sqlUpdateSession = "UPDATE `auth_sessions` SET `email` = ?, `role_id` = ?, `refresh_token_hash` = ?, " +
		"`expires_at` = ?, `last_activity` = ? WHERE `id` = ?"

	sqlTouchSession = "UPDATE `auth_sessions` SET `last_activity` = ? WHERE `id` = ?"

	sqlInsertSession = "INSERT INTO `auth_sessions` (" + sessionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"

	sqlDeleteSession = "DELETE FROM `auth_sessions` WHERE `id` = ?"

	sqlSweepSessions = "DELETE FROM `auth_sessions` WHERE `expires_at` <= ?"
)

// SQLStore keeps sessions in the auth_sessions table through the dialect
// adapter, so one set of statements serves MySQL and PostgreSQL.
type SQLStore struct {
	db *database.Adapter
}

func NewSQLStore(db *database.Adapter) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, sqlGetSession, []any{id}, scanTargets(&sess)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalizeTimes(&sess)
	return &sess, nil
}

func (s *SQLStore) Create(ctx context.Context, sess *Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, sqlInsertSession,
		sess.ID, sess.UserID, sess.Email, sess.RoleID, sess.RefreshTokenHash,
		sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(), sess.LastActivity.UTC())
	return err
}

func (s *SQLStore) Update(ctx context.Context, sess *Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	res, err := s.db.Exec(ctx, sqlUpdateSession,
		sess.Email, sess.RoleID, sess.RefreshTokenHash,
		sess.ExpiresAt.UTC(), sess.LastActivity.UTC(), sess.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session update rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.Exec(ctx, sqlTouchSession, at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session touch rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, sqlDeleteSession, id)
	return err
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.Query(ctx, sqlListSessions, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(scanTargets(&sess)...); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		normalizeTimes(&sess)
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.Exec(ctx, sqlSweepSessions, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows: %w", err)
	}
	return int(n), nil
}

func scanTargets(s *Session) []any {
	return []any{&s.ID, &s.UserID, &s.Email, &s.RoleID, &s.RefreshTokenHash, &s.CreatedAt, &s.ExpiresAt, &s.LastActivity}
}

func normalizeTimes(s *Session) {
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
}

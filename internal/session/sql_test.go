package session

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garage.app/internal/database"
)

var sessionCols = []string{"id", "user_id", "email", "role_id", "refresh_token_hash", "created_at", "expires_at", "last_activity"}

func newSQLStore(t *testing.T, dialect database.Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	adapter := database.New(db, dialect, database.WithLogger(zerolog.Nop()), database.WithRetries(1))
	return NewSQLStore(adapter), mock
}

func TestSQLStoreGet(t *testing.T) {
	store, mock := newSQLStore(t, database.MySQL)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(sqlGetSession).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", "7", "a@x.com", 2, "h", now, now.Add(time.Hour), now))
	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "7", got.UserID)
	assert.Equal(t, 2, got.RoleID)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	mock.ExpectQuery(sqlGetSession).WithArgs("nope").WillReturnRows(sqlmock.NewRows(sessionCols))
	_, err = store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreCreateAndUpdate(t *testing.T) {
	store, mock := newSQLStore(t, database.MySQL)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ID: "s1", UserID: "7", Email: "a@x.com", RoleID: 1, RefreshTokenHash: "h",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivity: now}

	mock.ExpectExec(sqlInsertSession).
		WithArgs("s1", "7", "a@x.com", 1, "h", now, now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Create(context.Background(), s))

	s.ExpiresAt = now.Add(2 * time.Hour)
	mock.ExpectExec(sqlUpdateSession).
		WithArgs("a@x.com", 1, "h", now.Add(2*time.Hour), now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Update(context.Background(), s))

	mock.ExpectExec(sqlUpdateSession).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, store.Update(context.Background(), s), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListAndSweepOnPostgres(t *testing.T) {
	store, mock := newSQLStore(t, database.Postgres)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT "id", "user_id", "email", "role_id", "refresh_token_hash", "created_at", "expires_at", "last_activity" FROM "auth_sessions" WHERE "user_id" = $1 ORDER BY "created_at" ASC, "id" ASC`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s0", "7", "a@x.com", 1, "h0", now, now.Add(time.Hour), now).
			AddRow("s1", "7", "a@x.com", 1, "h1", now.Add(time.Second), now.Add(time.Hour), now))
	list, err := store.ListByUser(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s0", list[0].ID)

	mock.ExpectExec(`DELETE FROM "auth_sessions" WHERE "expires_at" <= $1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mock.ExpectExec(`DELETE FROM "auth_sessions" WHERE "id" = $1`).WithArgs("s0").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Delete(context.Background(), "s0"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreTouchWritesOnlyLastActivity(t *testing.T) {
	store, mock := newSQLStore(t, database.Postgres)
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "auth_sessions" SET "last_activity" = $1 WHERE "id" = $2`).
		WithArgs(at, "s1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Touch(context.Background(), "s1", at))

	mock.ExpectExec(`UPDATE "auth_sessions" SET "last_activity" = $1 WHERE "id" = $2`).
		WithArgs(at, "gone").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, store.Touch(context.Background(), "gone", at), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

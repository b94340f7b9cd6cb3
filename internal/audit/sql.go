package audit

import (
	"context"
	"strconv"
	"strings"

	"garage.app/internal/database"
)

const sqlInsertEntry = "INSERT INTO `audit_log` (`entry_id`, `occurred_at`, `action`, `user_id`, `required_roles`, " +
	"`actual_role`, `endpoint`, `method`, `ip_address`, `user_agent`, `request_id`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

// SQLStore appends entries to the audit_log table through the dialect adapter.
type SQLStore struct {
	db *database.Adapter
}

func NewSQLStore(db *database.Adapter) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, e *Entry) error {
	_, err := s.db.Exec(ctx, sqlInsertEntry,
		e.ID, e.OccurredAt.UTC(), e.Action, e.UserID, joinRoles(e.RequiredRoles),
		e.ActualRole, e.Endpoint, e.Method, e.IP, e.UserAgent, e.RequestID)
	return err
}

func joinRoles(roles []int) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ",")
}

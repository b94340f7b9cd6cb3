package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"garage.app/internal/database"
)

// Directory looks up employees. Both methods return (nil, nil) when no user
// matches; errors are reserved for lookup failures.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

const employeeSelect = "SELECT e.`employee_id`, e.`employee_email`, e.`active_employee`, r.`company_role_id`, p.`employee_password_hashed` " +
	"FROM `employee` e " +
	"INNER JOIN `employee_role` r ON r.`employee_id` = e.`employee_id` " +
	"INNER JOIN `employee_pass` p ON p.`employee_id` = e.`employee_id` "

const (
	sqlEmployeeByEmail = employeeSelect + "WHERE e.`employee_email` = ?"
	sqlEmployeeByID    = employeeSelect + "WHERE e.`employee_id` = ?"
)

// SQLDirectory reads employees from the garage schema through the dialect adapter.
type SQLDirectory struct {
	db *database.Adapter
}

func NewSQLDirectory(db *database.Adapter) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	return d.find(ctx, sqlEmployeeByEmail, strings.ToLower(strings.TrimSpace(email)))
}

func (d *SQLDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	return d.find(ctx, sqlEmployeeByID, id)
}

func (d *SQLDirectory) find(ctx context.Context, query string, arg any) (*User, error) {
	var (
		u      User
		active int
	)
	err := d.db.QueryRow(ctx, query, []any{arg}, &u.ID, &u.Email, &active, &u.RoleID, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	return &u, nil
}

// MemoryDirectory is a fixed Directory, used by tests and local tooling.
type MemoryDirectory struct {
	byEmail map[string]*User
	byID    map[string]*User
}

func NewMemoryDirectory(users ...*User) *MemoryDirectory {
	d := &MemoryDirectory{byEmail: make(map[string]*User), byID: make(map[string]*User)}
	for _, u := range users {
		d.byEmail[strings.ToLower(u.Email)] = u
		d.byID[u.ID] = u
	}
	return d
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (*User, error) {
	u, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (*User, error) {
	u, ok := d.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

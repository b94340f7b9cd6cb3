package auth

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"garage.app/internal/database"
)

func TestSQLDirectory(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	dir := NewSQLDirectory(database.New(db, database.MySQL, database.WithLogger(zerolog.Nop()), database.WithRetries(1)))
	cols := []string{"employee_id", "employee_email", "active_employee", "company_role_id", "employee_password_hashed"}

	mock.ExpectQuery(sqlEmployeeByEmail).WithArgs("ann@garage.test").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, "ann@garage.test", 1, 3, "$2a$hash"))
	u, err := dir.FindByEmail(context.Background(), " Ann@Garage.test ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u == nil || u.ID != "1" || !u.Active || u.RoleID != RoleAdmin || u.PasswordHash != "$2a$hash" {
		t.Fatalf("unexpected user: %+v", u)
	}

	mock.ExpectQuery(sqlEmployeeByID).WithArgs("99").WillReturnRows(sqlmock.NewRows(cols))
	u, err = dir.FindByID(context.Background(), "99")
	if err != nil || u != nil {
		t.Fatalf("missing user: got %+v, %v; want nil, nil", u, err)
	}

	mock.ExpectQuery(sqlEmployeeByID).WithArgs("2").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(2, "bob@garage.test", 0, 1, "$2a$x"))
	u, err = dir.FindByID(context.Background(), "2")
	if err != nil || u == nil || u.Active {
		t.Fatalf("inactive user: got %+v, %v", u, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

package migrate

import (
	"context"
	"io/fs"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"garage.app/internal/database"
	"garage.app/migrations"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, dialect database.Dialect, schema, seeds fs.FS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	adapter := database.New(db, dialect, database.WithLogger(zerolog.Nop()), database.WithRetries(1))
	return NewManager(adapter, schema, seeds,
		WithLogger(zerolog.Nop()),
		WithClock(func() time.Time { return fixedNow }),
	), mock
}

func expectEnsureTables(mock sqlmock.Sqlmock, quote string) {
	for _, table := range []string{defaultMigrationsTable, defaultSeedsTable} {
		q := func(s string) string { return quote + s + quote }
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + q(table) + " (" +
			q("name") + " VARCHAR(255) NOT NULL PRIMARY KEY, " +
			q("applied_at") + " TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestUpAppliesPendingInOrderOnPostgres(t *testing.T) {
	schema := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("CREATE TABLE `b` (`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY);\n-- trailing note\n")},
		"0001_a.up.sql":   {Data: []byte("CREATE TABLE `a` (`id` INT);")},
		"0001_a.down.sql": {Data: []byte("DROP TABLE `a`;")},
		"0003_c.up.sql":   {Data: []byte("INSERT INTO `c` VALUES ('x;y'); UPDATE `c` SET `at` = NOW();")},
	}
	m, mock := newTestManager(t, database.Postgres, schema, nil)

	expectEnsureTables(mock, `"`)
	mock.ExpectQuery(`SELECT "name" FROM "schema_migrations" ORDER BY "applied_at" ASC, "name" ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE "b" ("id" SERIAL NOT NULL PRIMARY KEY)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "schema_migrations" ("name", "applied_at") VALUES ($1, $2)`).
		WithArgs("0002_b.up.sql", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "c" VALUES ('x;y')`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "c" SET "at" = CURRENT_TIMESTAMP`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "schema_migrations" ("name", "applied_at") VALUES ($1, $2)`).
		WithArgs("0003_c.up.sql", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if want := []string{"0002_b.up.sql", "0003_c.up.sql"}; !reflect.DeepEqual(applied, want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedFile(t *testing.T) {
	schema := fstest.MapFS{"0001_a.up.sql": {Data: []byte("CREATE TABLE `a` (`id` INT);")}}
	m, mock := newTestManager(t, database.MySQL, schema, nil)

	expectEnsureTables(mock, "`")
	mock.ExpectQuery("SELECT `name` FROM `schema_migrations` ORDER BY `applied_at` ASC, `name` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE `a` (`id` INT)").WillReturnError(fs.ErrPermission)
	mock.ExpectRollback()

	if _, err := m.Up(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	schema := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("CREATE TABLE `a` (`id` INT);")},
		"0001_a.down.sql": {Data: []byte("DROP TABLE `a`;")},
	}
	m, mock := newTestManager(t, database.MySQL, schema, nil)

	expectEnsureTables(mock, "`")
	mock.ExpectQuery("SELECT `name` FROM `schema_migrations` ORDER BY `applied_at` ASC, `name` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE `a`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM `schema_migrations` WHERE `name` = ?").
		WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_a.up.sql" {
		t.Fatalf("rolled back %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newTestManager(t, database.MySQL, fstest.MapFS{}, nil)
	expectEnsureTables(mock, "`")
	mock.ExpectQuery("SELECT `name` FROM `schema_migrations` ORDER BY `applied_at` ASC, `name` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	seeds := fstest.MapFS{"0001_roles.sql": {Data: []byte("INSERT INTO `company_roles` VALUES (1, 'Employee');")}}
	m, mock := newTestManager(t, database.MySQL, nil, seeds)

	expectEnsureTables(mock, "`")
	mock.ExpectQuery("SELECT `name` FROM `schema_seeds` ORDER BY `applied_at` ASC, `name` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_roles.sql"))

	applied, err := m.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	in := "-- header\nCREATE TABLE a (x INT); -- tail\nINSERT INTO a VALUES ('--;');\n\n;"
	got := splitStatements(in)
	want := []string{"CREATE TABLE a (x INT)", "INSERT INTO a VALUES ('--;')"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStatements = %q, want %q", got, want)
	}
}

func TestEmbeddedMigrationsTranslate(t *testing.T) {
	files, err := collectSQL(migrations.Schema(), upSuffix)
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no embedded migrations")
	}
	for _, name := range files {
		raw, err := fs.ReadFile(migrations.Schema(), name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		for _, stmt := range splitStatements(string(raw)) {
			pg := database.Postgres.Translate(stmt)
			for _, bad := range []string{"`", "AUTO_INCREMENT"} {
				if strings.Contains(pg, bad) {
					t.Fatalf("%s: %q survived translation in %q", name, bad, pg)
				}
			}
		}
	}
	seeds, err := collectSQL(migrations.Seeds(), ".sql")
	if err != nil || len(seeds) == 0 {
		t.Fatalf("embedded seeds: %v, %v", seeds, err)
	}
}


var (
	timestampColumn  = regexp.MustCompile("(?i)`(\\w+)`\\s+TIMESTAMP\\b")
	microsecondStamp = regexp.MustCompile("(?i)`(\\w+)`\\s+TIMESTAMP\\(6\\) NOT NULL DEFAULT CURRENT_TIMESTAMP\\(6\\)")
)

// Session ordering and audit timestamps depend on sub-second precision and on
// MySQL not attaching ON UPDATE to the first TIMESTAMP column.
func TestSessionAndAuditTimestampsKeepMicroseconds(t *testing.T) {
	for _, name := range []string{"0002_auth_sessions.up.sql", "0003_audit_log.up.sql"} {
		raw, err := fs.ReadFile(migrations.Schema(), name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		for _, stmt := range splitStatements(string(raw)) {
			cols := timestampColumn.FindAllStringSubmatch(stmt, -1)
			precise := microsecondStamp.FindAllStringSubmatch(stmt, -1)
			if len(cols) != len(precise) {
				t.Fatalf("%s: %d timestamp columns, %d with TIMESTAMP(6) and explicit default", name, len(cols), len(precise))
			}
			if len(cols) > 0 && !strings.Contains(database.Postgres.Translate(stmt), "TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)") {
				t.Fatalf("%s: precision lost in postgres translation", name)
			}
		}
	}

	raw, err := fs.ReadFile(migrations.Schema(), "0002_auth_sessions.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := len(microsecondStamp.FindAllString(string(raw), -1)); got != 3 {
		t.Fatalf("auth_sessions has %d microsecond timestamps, want 3", got)
	}
}

package database

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresTranslate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "placeholders and identifiers",
			in:   "SELECT * FROM `t` WHERE id = ? AND name = ?",
			want: `SELECT * FROM "t" WHERE id = $1 AND name = $2`,
		},
		{
			name: "functions",
			in:   "INSERT INTO `log` (`at`, `day`, `tod`, `uid`, `epoch`) VALUES (NOW(), CURDATE(), CURTIME(), UUID(), UNIX_TIMESTAMP())",
			want: `INSERT INTO "log" ("at", "day", "tod", "uid", "epoch") VALUES (CURRENT_TIMESTAMP, CURRENT_DATE, CURRENT_TIME, gen_random_uuid(), EXTRACT(EPOCH FROM CURRENT_TIMESTAMP)::BIGINT)`,
		},
		{
			name: "functions are case insensitive",
			in:   "select now(), curdate( )",
			want: "select CURRENT_TIMESTAMP, CURRENT_DATE",
		},
		{
			name: "auto increment column",
			in:   "CREATE TABLE `audit_log` (`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY, `seq` BIGINT UNSIGNED AUTO_INCREMENT)",
			want: `CREATE TABLE "audit_log" ("id" SERIAL NOT NULL PRIMARY KEY, "seq" BIGSERIAL)`,
		},
		{
			name: "sized int auto increment",
			in:   "`id` int(11) auto_increment",
			want: `"id" SERIAL`,
		},
		{
			name: "bare auto increment",
			in:   "`id` AUTO_INCREMENT",
			want: `"id" SERIAL`,
		},
		{
			name: "no rewrite needed",
			in:   "SELECT 1",
			want: "SELECT 1",
		},
		{
			name: "NOW inside identifier is untouched",
			in:   "SELECT `snow`, KNOWN() FROM x",
			want: `SELECT "snow", KNOWN() FROM x`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Postgres.Translate(tc.in))
		})
	}
}

func TestMySQLTranslateIsIdentity(t *testing.T) {
	q := "SELECT * FROM `t` WHERE id = ? AND created_at < NOW()"
	assert.Equal(t, q, MySQL.Translate(q))
}

func TestPlaceholderNumberingIsStableAcrossCalls(t *testing.T) {
	for k := 0; k <= 12; k++ {
		q := "SELECT 1" + strings.Repeat(" AND x = ?", k)
		first := Postgres.Translate(q)
		for i := 0; i < 3; i++ {
			require.Equal(t, first, Postgres.Translate(q))
		}
		require.NotContains(t, first, "?")
		idx := 0
		for n := 1; n <= k; n++ {
			ph := fmt.Sprintf("$%d", n)
			pos := strings.Index(first[idx:], ph)
			require.GreaterOrEqual(t, pos, 0, "missing %s in %q", ph, first)
			idx += pos + len(ph)
		}
		require.NotContains(t, first, fmt.Sprintf("$%d", k+1))
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	require.Equal(t, "postgres", d.Name())

	d, err = ParseDialect("mysql")
	require.NoError(t, err)
	require.Equal(t, "mysql", d.Name())

	_, err = ParseDialect("sqlite")
	require.Error(t, err)
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "SELECT a FROM b WHERE c = ?", normalize("SELECT a\n\tFROM   b\n WHERE c = ?  "))
}

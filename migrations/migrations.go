// Package migrations embeds the schema and seed files. They are written once
// in the MySQL dialect and translated by the database adapter when applied.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Schema returns the migration files rooted at their directory.
func Schema() fs.FS { return mustSub(sqlFiles, "sql") }

// Seeds returns the seed files rooted at their directory.
func Seeds() fs.FS { return mustSub(seedFiles, "seeds") }

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

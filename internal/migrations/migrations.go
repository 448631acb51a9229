// Package migrations holds the provenance database schema as a sequence of
// embedded SQL migration steps applied with golang-migrate when the database
// is opened.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing/fstest"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/yalue/merged_fs"
)

// iteration prefixes every named constraint so that later schema revisions
// can drop or replace constraints by name.
const iteration = "kiln_v1"

// Apply brings db up to the latest schema. An already-current database is
// not an error, so it is safe to call on every startup.
func Apply(db *sql.DB) error {
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(FS(), ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// FS merges every migration step into a single filesystem. Steps are
// numbered so that the initial schema sorts first.
func FS() fs.FS {
	return merged_fs.MergeMultiple(initialSchema(), buildTimings())
}

// schema is the initial table set. These definitions may not be changed:
// databases created from them exist in the wild, and later steps alter what
// they create.
var schema = []*sqlTable{
	createSQLTable("builds").
		IntegerPrimaryKeyAutoincrementColumn("id").
		TextNonNullColumn("name").
		TextNonNullColumn("version").
		TextNonNullUniqueColumn("job_id").
		TextNonNullColumn("artifact").
		TextNonNullColumn("artifact_sha256").
		TextColumn("source").
		TextColumn("source_sha256").
		TextColumn("build_system").
		TextNonNullColumn("build_start").
		TextNonNullColumn("status").
		TimestampDefaultCurrentTimeColumn("created_at"),
}

func initialSchema() fs.FS {
	files := make(map[string]string, len(schema))
	for i, table := range schema {
		files[fmt.Sprintf("%03d_%s.up.sql", i+1, table.name)] = table.SQL()
	}
	return stepFS(files)
}

// buildTimings records how hard a package was to build: the number of
// attempts consumed and the wall-clock duration of the attempt that
// produced the artifact. sqlite cannot add two columns in one statement.
func buildTimings() fs.FS {
	return stepFS(map[string]string{
		"002_builds_timings.up.sql": "ALTER TABLE builds ADD attempts INTEGER NOT NULL DEFAULT 1; " +
			"ALTER TABLE builds ADD duration_ms INTEGER NOT NULL DEFAULT 0",
	})
}

// stepFS exposes generated SQL as a filesystem for the iofs migration source.
func stepFS(files map[string]string) fs.FS {
	m := make(fstest.MapFS, len(files))
	for name, sql := range files {
		m[name] = &fstest.MapFile{Data: []byte(sql)}
	}
	return m
}

type sqlTable struct {
	name    string
	columns []*sqlColumn
}

func createSQLTable(name string) *sqlTable {
	return &sqlTable{name: name}
}

func (t *sqlTable) IntegerPrimaryKeyAutoincrementColumn(name string) *sqlTable {
	t.columns = append(t.columns, &sqlColumn{name: name, typ: "INTEGER", primaryKey: true, autoincrement: true})
	return t
}

func (t *sqlTable) TextColumn(name string) *sqlTable {
	t.columns = append(t.columns, &sqlColumn{name: name, typ: "TEXT"})
	return t
}

func (t *sqlTable) TextNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, &sqlColumn{name: name, typ: "TEXT", notNull: true})
	return t
}

func (t *sqlTable) TextNonNullUniqueColumn(name string) *sqlTable {
	t.columns = append(t.columns, &sqlColumn{name: name, typ: "TEXT", notNull: true, unique: true})
	return t
}

func (t *sqlTable) TimestampDefaultCurrentTimeColumn(name string) *sqlTable {
	t.columns = append(t.columns, &sqlColumn{name: name, typ: "TIMESTAMP", dflt: "CURRENT_TIMESTAMP"})
	return t
}

// SQL renders the CREATE TABLE statement. Constraint names are spelled out
// so that future migrations can address them. Table constraints must follow
// every column definition: sqlite rejects them between columns.
func (t *sqlTable) SQL() string {
	defs := make([]string, 0, len(t.columns))
	var constraints []string
	for _, col := range t.columns {
		defs = append(defs, col.SQL())
		constraints = append(constraints, col.constraintSQL(t.name)...)
	}
	defs = append(defs, constraints...)
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", t.name, strings.Join(defs, ",\n    "))
}

type sqlColumn struct {
	name          string
	typ           string
	notNull       bool
	unique        bool
	primaryKey    bool
	autoincrement bool
	dflt          string
}

func (c *sqlColumn) SQL() string {
	var sb strings.Builder
	sb.WriteString(c.name)
	sb.WriteString(" ")
	sb.WriteString(c.typ)
	if c.notNull {
		sb.WriteString(" NOT NULL")
	}
	if c.primaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if c.autoincrement {
		sb.WriteString(" AUTOINCREMENT")
	}
	if c.dflt != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(c.dflt)
	}
	return sb.String()
}

func (c *sqlColumn) constraintSQL(table string) []string {
	var defs []string
	if c.unique {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s_%s_%s_unique UNIQUE (%s)", iteration, table, c.name, c.name))
	}
	return defs
}

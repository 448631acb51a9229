// Package database records build provenance. Every build that reaches a
// terminal state lands one row here, and the CLI reads the rows back for
// its history view. The store is sqlite only: provenance is local to the
// host that ran the builds.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/huandu/go-sqlbuilder"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"
	"modernc.org/sqlite"

	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/migrations"
)

// SQLiteMemoryOnlyDSN is for testing purposes, to avoid having to use a
// file-backed database.
const SQLiteMemoryOnlyDSN = "file::memory:?cache=shared"

type Database struct {
	db  *sql.DB
	dir string
	dsn string
	log *logging.Logger
}

func New() *Database {
	return &Database{log: logging.Discard()}
}

// WithDir places the database file under dir. Ignored when a DSN is set.
func (d *Database) WithDir(dir string) *Database {
	d.dir = dir
	return d
}

func (d *Database) WithDSN(dsn string) *Database {
	d.dsn = dsn
	return d
}

func (d *Database) WithLogger(log *logging.Logger) *Database {
	d.log = log
	return d
}

func (d *Database) DB() *sql.DB {
	return d.db
}

// InitDB opens the database and brings its schema up to date. With neither
// a directory nor a DSN configured it falls back to a memory-only database.
func (d *Database) InitDB(ctx context.Context) error {
	dsn := d.dsn
	if dsn == "" {
		if d.dir == "" {
			dsn = SQLiteMemoryOnlyDSN
		} else {
			if err := os.MkdirAll(d.dir, 0755); err != nil {
				return err
			}
			// Workers insert rows concurrently. WAL plus a busy timeout
			// keeps them from failing with SQLITE_BUSY.
			dsn = "file:" + filepath.Join(d.dir, "kiln.db") +
				"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
		}
	}

	// Statements are mirrored to the logger at debug level.
	d.db = sqldblogger.OpenDriver(dsn, &sqlite.Driver{}, zerologadapter.New(d.log.Unwrap()))

	if _, err := d.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	if err := migrations.Apply(d.db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	return nil
}

func (d *Database) CloseDB() error {
	return d.db.Close()
}

// Build is one provenance row: what was built, from which source, into
// which artifact, and how the attempt went.
type Build struct {
	ID          int64
	Name        string
	Version     string
	JobID       string
	Artifact    string
	ArtifactSHA string
	Source      string
	SourceSHA   string
	BuildSystem string
	BuildStart  time.Time
	Status      string
	Attempts    int
	Duration    time.Duration
}

var buildColumns = []string{
	"id",
	"name",
	"version",
	"job_id",
	"artifact",
	"artifact_sha256",
	"source",
	"source_sha256",
	"build_system",
	"build_start",
	"status",
	"attempts",
	"duration_ms",
}

// InsertBuild records a finished build. Job IDs are unique; inserting the
// same job twice is a data conflict.
func (d *Database) InsertBuild(ctx context.Context, b *Build) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("builds").
			Cols(buildColumns[1:]...).
			Values(b.Name, b.Version, b.JobID, b.Artifact, b.ArtifactSHA,
				b.Source, b.SourceSHA, b.BuildSystem,
				b.BuildStart.UTC().Format(time.RFC3339), b.Status,
				b.Attempts, b.Duration.Milliseconds())

		stmt, args := ib.Build()
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	})
}

// GetBuild looks a build up by its job id.
func (d *Database) GetBuild(ctx context.Context, jobID string) (*Build, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(buildColumns...).
		From("builds").
		Where(sb.Equal("job_id", jobID))

	stmt, args := sb.Build()
	b, err := scanBuild(d.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListBuilds returns builds newest first, optionally filtered by package
// name. A limit of zero or less means no limit.
func (d *Database) ListBuilds(ctx context.Context, name string, limit int) ([]*Build, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(buildColumns...).
		From("builds").
		OrderBy("id").Desc()
	if name != "" {
		sb.Where(sb.Equal("name", name))
	}
	if limit > 0 {
		sb.Limit(limit)
	}

	stmt, args := sb.Build()
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	var (
		b          Build
		start      string
		durationMS int64
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Version, &b.JobID, &b.Artifact,
		&b.ArtifactSHA, &b.Source, &b.SourceSHA, &b.BuildSystem,
		&start, &b.Status, &b.Attempts, &durationMS); err != nil {
		return nil, err
	}
	b.BuildStart, _ = time.Parse(time.RFC3339, start)
	b.Duration = time.Duration(durationMS) * time.Millisecond
	return &b, nil
}

func tx1(ctx context.Context, db *Database, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}

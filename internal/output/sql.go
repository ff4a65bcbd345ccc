package output

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// SchemaVersion is the current result schema version.
const SchemaVersion = 1

// schemaV1 is portable between SQLite and Postgres.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    seed BIGINT NOT NULL,
    status TEXT NOT NULL,  -- 'running', 'complete'
    started_at TEXT NOT NULL,
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS cell_records (
    run_id TEXT NOT NULL REFERENCES runs(id),
    step INTEGER NOT NULL,
    time DOUBLE PRECISION NOT NULL,
    cell_id BIGINT NOT NULL,
    location INTEGER NOT NULL,
    x DOUBLE PRECISION,
    y DOUBLE PRECISION,
    z DOUBLE PRECISION,
    ancestor BIGINT NOT NULL,
    mutation TEXT NOT NULL,
    phase TEXT NOT NULL,
    proliferative_type TEXT NOT NULL,
    age DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, step, cell_id)
);
CREATE INDEX IF NOT EXISTS idx_cell_records_time ON cell_records(run_id, time);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// dialect captures the few differences between the two drivers.
type dialect struct {
	driver      string
	numbered    bool // $1 placeholders instead of ?
	multiStmtOK bool
}

var (
	sqliteDialect   = dialect{driver: "sqlite", multiStmtOK: true}
	postgresDialect = dialect{driver: "pgx", numbered: true}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLSink writes snapshots into a SQL database inside one transaction per
// run. Close commits it; Abort rolls it back.
type SQLSink struct {
	mu      sync.Mutex
	db      *sql.DB
	tx      *sql.Tx
	insert  *sql.Stmt
	dialect dialect
	run     RunInfo
}

// NewSQLiteSink opens (or creates) a SQLite result database at path.
func NewSQLiteSink(ctx context.Context, path string, run RunInfo) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	return newSQLSink(ctx, db, sqliteDialect, run)
}

// NewPostgresSink connects to a Postgres result database.
func NewPostgresSink(ctx context.Context, dsn string, run RunInfo) (*SQLSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return newSQLSink(ctx, db, postgresDialect, run)
}

func newSQLSink(ctx context.Context, db *sql.DB, d dialect, run RunInfo) (*SQLSink, error) {
	if run.ID == "" {
		db.Close()
		return nil, fmt.Errorf("run ID is required")
	}
	if err := initSchema(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO runs (id, seed, status, started_at) VALUES (?, ?, 'running', ?)`),
		run.ID, int64(run.Seed), now()); err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	insert, err := tx.PrepareContext(ctx, d.rebind(`
		INSERT INTO cell_records (run_id, step, time, cell_id, location, x, y, z, ancestor, mutation, phase, proliferative_type, age)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	return &SQLSink{db: db, tx: tx, insert: insert, dialect: d, run: run}, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// initSchema creates the schema on a fresh database and checks the
// version of an existing one.
func initSchema(ctx context.Context, db *sql.DB, d dialect) error {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err == nil && version.Valid {
		if version.Int64 > SchemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported version %d", version.Int64, SchemaVersion)
		}
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if d.multiStmtOK {
		if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	} else {
		for _, stmt := range strings.Split(schemaV1, ";") {
			if strings.TrimSpace(stripComments(stmt)) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create tables: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
		SchemaVersion, now()); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// coord returns position[i], or NULL past the tissue dimension.
func coord(p []float64, i int) sql.NullFloat64 {
	if i >= len(p) || math.IsNaN(p[i]) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p[i], Valid: true}
}

func (s *SQLSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrClosed
	}
	for _, r := range snap.Records {
		_, err := s.insert.ExecContext(ctx,
			s.run.ID, snap.Step, snap.Time, int64(r.CellID), r.Location,
			coord(r.Position, 0), coord(r.Position, 1), coord(r.Position, 2),
			r.Ancestor, r.Mutation, r.Phase, r.ProliferativeType, r.Age)
		if err != nil {
			return fmt.Errorf("insert record for cell %d at step %d: %w", r.CellID, snap.Step, err)
		}
	}
	return nil
}

func (s *SQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrClosed
	}
	s.insert.Close()
	if _, err := s.tx.Exec(
		s.dialect.rebind(`UPDATE runs SET status = 'complete', finished_at = ? WHERE id = ?`),
		now(), s.run.ID); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	s.tx = nil
	return s.db.Close()
}

func (s *SQLSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	s.insert.Close()
	err := s.tx.Rollback()
	s.tx = nil
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/txgate/internal/confirm"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Base layout (id, chain_key, payload, summary_hash, created/expires)
// 1 - Status, outcome, second-factor, attempts and metadata columns
// 2 - Links survive a swept primary (primary_status snapshot); dry-run columns
const currentSchemaVersion = 2

// DefaultInFlightWindow is how long a consumed row survives sweeps after its
// last update.
const DefaultInFlightWindow = 10 * time.Minute

// Store provides durable storage for pending confirmations.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db       *sql.DB
	clock    confirm.Clock
	inFlight time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for lazy expiry. Defaults to the wall clock.
func WithClock(c confirm.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithInFlightWindow sets how long consumed rows are kept by sweeps.
func WithInFlightWindow(d time.Duration) Option {
	return func(s *Store) {
		s.inFlight = d
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// makes every status CAS strictly serial.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:       db,
		clock:    confirm.SystemClock{},
		inFlight: DefaultInFlightWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) now() int64 {
	return s.clock.NowMs()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// v1Columns are added to pending_confirmations when missing.
var v1Columns = []struct {
	name string
	ddl  string
}{
	{"updated_at_ms", "INTEGER"},
	{"status", "TEXT"},
	{"broadcast_id", "TEXT"},
	{"last_error", "TEXT"},
	{"raw_tx_prefix", "TEXT"},
	{"signed_at_ms", "INTEGER"},
	{"attempts", "INTEGER NOT NULL DEFAULT 0"},
	{"second_factor_token", "TEXT"},
	{"second_factor_satisfied", "INTEGER NOT NULL DEFAULT 0"},
	{"second_factor_satisfied_at_ms", "INTEGER"},
	{"metadata", "TEXT"},
}

// migrateToV1 adds the columns introduced after the base layout and
// back-fills legacy rows. PRAGMA table_info is used instead of matching
// "duplicate column" error strings.
func migrateToV1(db *sql.DB) error {
	existing, err := tableColumns(db, "pending_confirmations")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	for _, col := range v1Columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE pending_confirmations ADD COLUMN %s %s", col.name, col.ddl)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: add %s: %w", col.name, err)
		}
	}

	backfill := []string{
		`UPDATE pending_confirmations SET status = 'pending' WHERE status IS NULL`,
		`UPDATE pending_confirmations SET updated_at_ms = created_at_ms WHERE updated_at_ms IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status_created
			ON pending_confirmations(status, created_at_ms)`,
	}
	for _, stmt := range backfill {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// v2Columns are added to pending_confirmations when missing.
var v2Columns = []struct {
	name string
	ddl  string
}{
	{"last_dry_run", "TEXT"},
	{"last_dry_run_error", "TEXT"},
}

// migrateToV2 adds the dry-run columns and rebuilds confirmation_links
// without the cascade on primary_id. A swept primary leaves its links in
// place with its final status in primary_status, so a dependent still sees
// that the primary was never sent.
func migrateToV2(db *sql.DB) error {
	existing, err := tableColumns(db, "pending_confirmations")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	for _, col := range v2Columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE pending_confirmations ADD COLUMN %s %s", col.name, col.ddl)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: add %s: %w", col.name, err)
		}
	}

	linkCols, err := tableColumns(db, "confirmation_links")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if linkCols["primary_status"] {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v2: begin tx: %w", err)
	}
	defer tx.Rollback()

	rebuild := []string{
		`CREATE TABLE confirmation_links_v2 (
			primary_id     TEXT NOT NULL,
			dependent_id   TEXT NOT NULL REFERENCES pending_confirmations(id) ON DELETE CASCADE,
			mandatory      INTEGER NOT NULL DEFAULT 0,
			created_at_ms  INTEGER NOT NULL,
			primary_status TEXT,
			PRIMARY KEY (primary_id, dependent_id)
		)`,
		`INSERT INTO confirmation_links_v2 (primary_id, dependent_id, mandatory, created_at_ms)
			SELECT primary_id, dependent_id, mandatory, created_at_ms FROM confirmation_links`,
		`DROP TABLE confirmation_links`,
		`ALTER TABLE confirmation_links_v2 RENAME TO confirmation_links`,
		`CREATE INDEX IF NOT EXISTS idx_links_dependent ON confirmation_links(dependent_id)`,
	}
	for _, stmt := range rebuild {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: rebuild links: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v2: commit: %w", err)
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

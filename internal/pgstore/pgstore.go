// Package pgstore stores pending confirmations in PostgreSQL.
//
// It mirrors the SQLite store's semantics for deployments where several
// engine processes share one database. Status transitions are row-level
// compare-and-set updates, so concurrent processes still observe exactly one
// winner per consume.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// DefaultInFlightWindow matches the SQLite store.
const DefaultInFlightWindow = 10 * time.Minute

// Store is a PostgreSQL-backed confirmation store.
type Store struct {
	db       *pgxpool.Pool
	clock    confirm.Clock
	inFlight time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for lazy expiry.
func WithClock(c confirm.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithInFlightWindow sets how long consumed rows are kept by sweeps.
func WithInFlightWindow(d time.Duration) Option {
	return func(s *Store) { s.inFlight = d }
}

// Connect opens a pool for dsn and applies the schema.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. Call Migrate before use.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{db: pool, clock: confirm.SystemClock{}, inFlight: DefaultInFlightWindow}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) now() int64 { return s.clock.NowMs() }

// Insert stores a new pending record; see store.Store.Insert.
func (s *Store) Insert(ctx context.Context, rec *confirm.Record) error {
	if rec.Status != confirm.StatusPending {
		return fmt.Errorf("insert %s: status must be pending, got %q", rec.ID, rec.Status)
	}
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("insert %s: marshal metadata: %w", rec.ID, err)
	}
	var sfToken *string
	if rec.SecondFactor != nil && rec.SecondFactor.Token != "" {
		sfToken = &rec.SecondFactor.Token
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", rec.ID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pending_confirmations WHERE id=$1 AND expires_at_ms < $2`, rec.ID, s.now()); err != nil {
		return fmt.Errorf("insert %s: clear expired: %w", rec.ID, err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO pending_confirmations
		(id,chain_key,payload,summary_hash,created_at_ms,expires_at_ms,updated_at_ms,status,attempts,second_factor_token,second_factor_satisfied,metadata)
		VALUES($1,$2,$3,$4,$5,$6,$5,'pending',0,$7,FALSE,$8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ChainKey, rec.Payload, rec.SummaryHash, rec.CreatedAtMs, rec.ExpiresAtMs, sfToken, md)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert %s: %w", rec.ID, confirm.ErrConflict)
	}
	return tx.Commit(ctx)
}

// Get returns a live record; see store.Store.Get.
func (s *Store) Get(ctx context.Context, id string) (*confirm.Record, error) {
	now := s.now()
	if _, err := s.SweepExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM pending_confirmations WHERE id=$1 AND expires_at_ms >= $2`, id, now)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, confirm.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if rec.LinkedIDs, err = s.linkedIDs(ctx, id); err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, nil
}

// Transition performs the status compare-and-set; see store.Store.Transition.
func (s *Store) Transition(ctx context.Context, id string, from, to confirm.Status, out confirm.Outcome) error {
	if !confirm.CanTransition(from, to) || from == to {
		return fmt.Errorf("transition %s %s -> %s: illegal edge: %w", id, from, to, confirm.ErrConflict)
	}
	now := s.now()

	var (
		tag pgconn.CommandTag
		err error
	)
	switch to {
	case confirm.StatusConsumed:
		tag, err = s.db.Exec(ctx, `
			UPDATE pending_confirmations
			SET status=$1, attempts=attempts+1, last_error=NULL, updated_at_ms=$2
			WHERE id=$3 AND status=$4 AND expires_at_ms >= $2`,
			string(to), now, id, string(from))
	case confirm.StatusSent:
		tag, err = s.db.Exec(ctx, `
			UPDATE pending_confirmations
			SET status=$1, broadcast_id=$2, last_error=NULL,
			    signed_at_ms=COALESCE($3, signed_at_ms), raw_tx_prefix=COALESCE($4, raw_tx_prefix), updated_at_ms=$5
			WHERE id=$6 AND status=$7`,
			string(to), out.BroadcastID, optInt(out.SignedAtMs), optString(out.RawTxPrefix), now, id, string(from))
	default:
		tag, err = s.db.Exec(ctx, `
			UPDATE pending_confirmations
			SET status=$1, last_error=$2,
			    signed_at_ms=COALESCE($3, signed_at_ms), raw_tx_prefix=COALESCE($4, raw_tx_prefix), updated_at_ms=$5
			WHERE id=$6 AND status=$7`,
			string(to), optString(out.LastError), optInt(out.SignedAtMs), optString(out.RawTxPrefix), now, id, string(from))
	}
	if err != nil {
		return fmt.Errorf("transition %s %s -> %s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transition %s %s -> %s: %w", id, from, to, confirm.ErrConflict)
	}
	return nil
}

// Reclaim re-enters consumed for crash recovery; see store.Store.Reclaim.
func (s *Store) Reclaim(ctx context.Context, id string, attempts int) error {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
		UPDATE pending_confirmations SET attempts=attempts+1, updated_at_ms=$1
		WHERE id=$2 AND status='consumed' AND attempts=$3 AND expires_at_ms >= $1`,
		now, id, attempts)
	if err != nil {
		return fmt.Errorf("reclaim %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reclaim %s: %w", id, confirm.ErrConflict)
	}
	return nil
}

// SatisfySecondFactor flips the second factor once; see
// store.Store.SatisfySecondFactor.
func (s *Store) SatisfySecondFactor(ctx context.Context, id, token string) error {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
		UPDATE pending_confirmations
		SET second_factor_satisfied=TRUE, second_factor_satisfied_at_ms=$1, updated_at_ms=$1
		WHERE id=$2 AND second_factor_token=$3 AND NOT second_factor_satisfied
		  AND status='pending' AND expires_at_ms >= $1`,
		now, id, token)
	if err != nil {
		return fmt.Errorf("satisfy second factor %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("satisfy second factor %s: %w", id, err)
	}
	if rec.SecondFactor != nil && rec.SecondFactor.Satisfied && rec.SecondFactor.Token == token {
		return nil
	}
	return fmt.Errorf("satisfy second factor %s: %w", id, confirm.ErrConflict)
}

// Link records a primary/dependent pair; see store.Store.Link.
func (s *Store) Link(ctx context.Context, primaryID, dependentID string, mandatory bool) error {
	now := s.now()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("link %s -> %s: begin: %w", primaryID, dependentID, err)
	}
	defer tx.Rollback(ctx)

	var live int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM pending_confirmations WHERE id IN ($1,$2) AND expires_at_ms >= $3`,
		primaryID, dependentID, now).Scan(&live); err != nil {
		return fmt.Errorf("link %s -> %s: %w", primaryID, dependentID, err)
	}
	if live != 2 {
		return fmt.Errorf("link %s -> %s: %w", primaryID, dependentID, confirm.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO confirmation_links(primary_id,dependent_id,mandatory,created_at_ms) VALUES($1,$2,$3,$4)
		ON CONFLICT (primary_id,dependent_id) DO UPDATE SET mandatory = confirmation_links.mandatory OR EXCLUDED.mandatory`,
		primaryID, dependentID, mandatory, now); err != nil {
		return fmt.Errorf("link %s -> %s: %w", primaryID, dependentID, err)
	}
	return tx.Commit(ctx)
}

// Dependencies lists the primaries of id; see store.Store.Dependencies. A
// swept primary is reported expired with the status it was swept in.
func (s *Store) Dependencies(ctx context.Context, id string) ([]confirm.Dependency, error) {
	now := s.now()
	rows, err := s.db.Query(ctx, `
		SELECT l.primary_id, COALESCE(p.status, l.primary_status, 'pending'), l.mandatory, p.expires_at_ms
		FROM confirmation_links l LEFT JOIN pending_confirmations p ON p.id = l.primary_id
		WHERE l.dependent_id=$1
		ORDER BY l.created_at_ms ASC, l.primary_id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("dependencies %s: %w", id, err)
	}
	defer rows.Close()

	deps := []confirm.Dependency{}
	for rows.Next() {
		var (
			d         confirm.Dependency
			status    string
			expiresAt *int64
		)
		if err := rows.Scan(&d.PrimaryID, &status, &d.Mandatory, &expiresAt); err != nil {
			return nil, fmt.Errorf("dependencies %s: %w", id, err)
		}
		d.Status = confirm.Status(status)
		d.Expired = expiresAt == nil || now > *expiresAt
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// List returns live records newest first; see store.Store.List.
func (s *Store) List(ctx context.Context, f confirm.ListFilter) ([]*confirm.Record, error) {
	now := s.now()
	if _, err := s.SweepExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	q, args, err := querysql.ListRecords(querysql.Postgres, recordColumns, f, now)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	out := []*confirm.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if !f.IncludePayload {
			rec.Payload = nil
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	for _, rec := range out {
		if rec.LinkedIDs, err = s.linkedIDs(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
	}
	return out, nil
}

// SweepExpired deletes expired rows outside the in-flight window. Links
// whose primary is deleted keep its last status.
func (s *Store) SweepExpired(ctx context.Context, nowMs int64) (int, error) {
	cutoff := nowMs - s.inFlight.Milliseconds()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE confirmation_links l SET primary_status = p.status
		FROM pending_confirmations p
		WHERE p.id = l.primary_id
		  AND p.expires_at_ms < $1 AND NOT (p.status='consumed' AND p.updated_at_ms >= $2)`,
		nowMs, cutoff); err != nil {
		return 0, fmt.Errorf("sweep expired: keep links: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM pending_confirmations
		WHERE expires_at_ms < $1 AND NOT (status='consumed' AND updated_at_ms >= $2)`,
		nowMs, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sweep expired: commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdatePayload swaps in a refreshed payload; see store.Store.UpdatePayload.
func (s *Store) UpdatePayload(ctx context.Context, id string, from confirm.Status, u confirm.PayloadUpdate) error {
	if from != confirm.StatusPending && from != confirm.StatusFailed {
		return fmt.Errorf("update payload %s: from %s: %w", id, from, confirm.ErrConflict)
	}
	now := s.now()
	tag, err := s.db.Exec(ctx, `
		UPDATE pending_confirmations
		SET payload=$1, summary_hash=$2, expires_at_ms=$3, status='pending',
		    broadcast_id=NULL, last_error=NULL, signed_at_ms=NULL, raw_tx_prefix=NULL,
		    second_factor_token=$4, second_factor_satisfied=FALSE, second_factor_satisfied_at_ms=NULL,
		    updated_at_ms=$5
		WHERE id=$6 AND status=$7 AND expires_at_ms >= $5`,
		u.Payload, u.SummaryHash, u.ExpiresAtMs, optString(u.SecondFactorToken), now, id, string(from))
	if err != nil {
		return fmt.Errorf("update payload %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update payload %s: %w", id, confirm.ErrConflict)
	}
	return nil
}

// SetDryRun stores the latest simulation result; see store.Store.SetDryRun.
func (s *Store) SetDryRun(ctx context.Context, id string, result []byte, errText string) error {
	var doc []byte
	if len(result) > 0 {
		doc = result
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE pending_confirmations SET last_dry_run=$1, last_dry_run_error=$2, updated_at_ms=$3
		WHERE id=$4`, doc, optString(errText), s.now(), id); err != nil {
		return fmt.Errorf("set dry run %s: %w", id, err)
	}
	return nil
}

func (s *Store) linkedIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT dependent_id FROM confirmation_links WHERE primary_id=$1
		UNION
		SELECT primary_id FROM confirmation_links WHERE dependent_id=$1
		ORDER BY 1`, id)
	if err != nil {
		return nil, fmt.Errorf("linked ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("linked ids: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

const recordColumns = `id,chain_key,payload,summary_hash,status,created_at_ms,updated_at_ms,expires_at_ms,
	broadcast_id,last_error,signed_at_ms,raw_tx_prefix,attempts,
	second_factor_token,second_factor_satisfied,second_factor_satisfied_at_ms,metadata,
	last_dry_run,last_dry_run_error`

func scanRecord(row pgx.Row) (*confirm.Record, error) {
	var (
		rec           confirm.Record
		status        *string
		updatedAt     *int64
		broadcastID   *string
		lastError     *string
		signedAt      *int64
		rawPrefix     *string
		sfToken       *string
		sfSatisfied   bool
		sfSatisfiedAt *int64
		metadata      []byte
		dryRun        []byte
		dryRunErr     *string
	)
	if err := row.Scan(&rec.ID, &rec.ChainKey, &rec.Payload, &rec.SummaryHash, &status,
		&rec.CreatedAtMs, &updatedAt, &rec.ExpiresAtMs,
		&broadcastID, &lastError, &signedAt, &rawPrefix, &rec.Attempts,
		&sfToken, &sfSatisfied, &sfSatisfiedAt, &metadata, &dryRun, &dryRunErr); err != nil {
		return nil, err
	}
	rec.Status = confirm.Status(deref(status, string(confirm.StatusPending)))
	rec.UpdatedAtMs = deref(updatedAt, rec.CreatedAtMs)
	rec.BroadcastID = deref(broadcastID, "")
	rec.LastError = deref(lastError, "")
	rec.SignedAtMs = deref(signedAt, 0)
	rec.RawTxPrefix = deref(rawPrefix, "")
	rec.LastDryRunError = deref(dryRunErr, "")
	if len(dryRun) > 0 {
		rec.LastDryRun = json.RawMessage(dryRun)
	}
	if sfToken != nil && *sfToken != "" {
		rec.SecondFactor = &confirm.SecondFactor{
			Token:         *sfToken,
			Satisfied:     sfSatisfied,
			SatisfiedAtMs: deref(sfSatisfiedAt, 0),
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

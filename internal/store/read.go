package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/querysql"
)

const recordColumns = `
	id, chain_key, payload, summary_hash, status,
	created_at_ms, updated_at_ms, expires_at_ms,
	broadcast_id, last_error, signed_at_ms, raw_tx_prefix, attempts,
	second_factor_token, second_factor_satisfied, second_factor_satisfied_at_ms,
	metadata, last_dry_run, last_dry_run_error`

// Get returns the record with the given id, sweeping expired rows first.
// Missing and expired records both yield confirm.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*confirm.Record, error) {
	now := s.now()
	if _, err := s.SweepExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM pending_confirmations
		WHERE id = ? AND expires_at_ms >= ?
	`, id, now)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, confirm.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	linked, err := s.linkedIDs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	rec.LinkedIDs = linked
	return rec, nil
}

// List returns live records newest first.
// Payload bytes are dropped unless f.IncludePayload is set.
func (s *Store) List(ctx context.Context, f confirm.ListFilter) ([]*confirm.Record, error) {
	now := s.now()
	if _, err := s.SweepExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	query, args, err := querysql.ListRecords(querysql.SQLite, recordColumns, f, now)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	// Return empty slice (not nil) for consistency
	records := []*confirm.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if !f.IncludePayload {
			rec.Payload = nil
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	rows.Close()

	for _, rec := range records {
		linked, err := s.linkedIDs(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		rec.LinkedIDs = linked
	}
	return records, nil
}

// Dependencies returns the primaries that id was linked to as a dependent,
// with their current status. A primary that was swept is reported expired
// with the status it had when it was removed.
func (s *Store) Dependencies(ctx context.Context, id string) ([]confirm.Dependency, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.primary_id, COALESCE(p.status, l.primary_status, 'pending'), l.mandatory, p.expires_at_ms
		FROM confirmation_links l
		LEFT JOIN pending_confirmations p ON p.id = l.primary_id
		WHERE l.dependent_id = ?
		ORDER BY l.created_at_ms ASC, l.primary_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("dependencies %s: %w", id, err)
	}
	defer rows.Close()

	deps := []confirm.Dependency{}
	for rows.Next() {
		var (
			d         confirm.Dependency
			status    string
			mandatory int
			expiresAt sql.NullInt64
		)
		if err := rows.Scan(&d.PrimaryID, &status, &mandatory, &expiresAt); err != nil {
			return nil, fmt.Errorf("dependencies %s: scan: %w", id, err)
		}
		d.Status = confirm.Status(status)
		d.Mandatory = mandatory != 0
		d.Expired = !expiresAt.Valid || now > expiresAt.Int64
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dependencies %s: %w", id, err)
	}
	return deps, nil
}

// linkedIDs returns every record linked to id in either direction.
func (s *Store) linkedIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dependent_id FROM confirmation_links WHERE primary_id = ?
		UNION
		SELECT primary_id FROM confirmation_links WHERE dependent_id = ?
		ORDER BY 1
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("linked ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var other string
		if err := rows.Scan(&other); err != nil {
			return nil, fmt.Errorf("linked ids: scan: %w", err)
		}
		ids = append(ids, other)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*confirm.Record, error) {
	var (
		rec           confirm.Record
		status        sql.NullString
		updatedAt     sql.NullInt64
		broadcastID   sql.NullString
		lastError     sql.NullString
		signedAt      sql.NullInt64
		rawPrefix     sql.NullString
		sfToken       sql.NullString
		sfSatisfied   int
		sfSatisfiedAt sql.NullInt64
		metadata      sql.NullString
		dryRun        sql.NullString
		dryRunErr     sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.ChainKey, &rec.Payload, &rec.SummaryHash, &status,
		&rec.CreatedAtMs, &updatedAt, &rec.ExpiresAtMs,
		&broadcastID, &lastError, &signedAt, &rawPrefix, &rec.Attempts,
		&sfToken, &sfSatisfied, &sfSatisfiedAt,
		&metadata, &dryRun, &dryRunErr,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = confirm.StatusPending
	if status.Valid {
		rec.Status = confirm.Status(status.String)
	}
	rec.UpdatedAtMs = rec.CreatedAtMs
	if updatedAt.Valid {
		rec.UpdatedAtMs = updatedAt.Int64
	}
	rec.BroadcastID = broadcastID.String
	rec.LastError = lastError.String
	rec.SignedAtMs = signedAt.Int64
	rec.RawTxPrefix = rawPrefix.String
	if dryRun.String != "" {
		rec.LastDryRun = json.RawMessage(dryRun.String)
	}
	rec.LastDryRunError = dryRunErr.String

	if sfToken.Valid && sfToken.String != "" {
		rec.SecondFactor = &confirm.SecondFactor{
			Token:         sfToken.String,
			Satisfied:     sfSatisfied != 0,
			SatisfiedAtMs: sfSatisfiedAt.Int64,
		}
	}

	md, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	rec.Metadata = md
	return &rec, nil
}

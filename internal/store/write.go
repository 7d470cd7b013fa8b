package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/txgate/internal/confirm"
)

// Insert stores a new pending record.
//
// An expired row with the same id is replaced; a live one yields
// confirm.ErrConflict. The record's Status must be pending.
func (s *Store) Insert(ctx context.Context, rec *confirm.Record) error {
	if rec.Status != confirm.StatusPending {
		return fmt.Errorf("insert %s: status must be pending, got %q", rec.ID, rec.Status)
	}
	mdJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}

	var sfToken sql.NullString
	if rec.SecondFactor != nil {
		sfToken = nullString(rec.SecondFactor.Token)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin tx: %w", rec.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pending_confirmations WHERE id = ? AND expires_at_ms < ?
	`, rec.ID, s.now()); err != nil {
		return fmt.Errorf("insert %s: clear expired: %w", rec.ID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_confirmations
		(id, chain_key, payload, summary_hash, created_at_ms, expires_at_ms,
		 updated_at_ms, status, attempts, second_factor_token, second_factor_satisfied, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.ChainKey,
		rec.Payload,
		rec.SummaryHash,
		rec.CreatedAtMs,
		rec.ExpiresAtMs,
		rec.CreatedAtMs,
		string(confirm.StatusPending),
		sfToken,
		mdJSON,
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: rows affected: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("insert %s: %w", rec.ID, confirm.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert %s: commit: %w", rec.ID, err)
	}
	return nil
}

// Transition moves a record from one status to another with a
// compare-and-set on the current status.
//
// Entering consumed increments attempts and requires the row to be
// unexpired. Finalizing a consumed row (sent, failed, skipped) is allowed
// after expiry so an in-flight broadcast can always record its outcome.
func (s *Store) Transition(ctx context.Context, id string, from, to confirm.Status, out confirm.Outcome) error {
	if !confirm.CanTransition(from, to) || from == to {
		return fmt.Errorf("transition %s %s -> %s: illegal edge: %w", id, from, to, confirm.ErrConflict)
	}
	now := s.now()

	var (
		res sql.Result
		err error
	)
	switch to {
	case confirm.StatusConsumed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_confirmations
			SET status = ?, attempts = attempts + 1, last_error = NULL, updated_at_ms = ?
			WHERE id = ? AND status = ? AND expires_at_ms >= ?
		`, string(to), now, id, string(from), now)
	case confirm.StatusSent:
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_confirmations
			SET status = ?, broadcast_id = ?, last_error = NULL,
			    signed_at_ms = COALESCE(?, signed_at_ms),
			    raw_tx_prefix = COALESCE(?, raw_tx_prefix),
			    updated_at_ms = ?
			WHERE id = ? AND status = ?
		`, string(to), out.BroadcastID, nullInt64(out.SignedAtMs), nullString(out.RawTxPrefix), now, id, string(from))
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_confirmations
			SET status = ?, last_error = ?,
			    signed_at_ms = COALESCE(?, signed_at_ms),
			    raw_tx_prefix = COALESCE(?, raw_tx_prefix),
			    updated_at_ms = ?
			WHERE id = ? AND status = ?
		`, string(to), nullString(out.LastError), nullInt64(out.SignedAtMs), nullString(out.RawTxPrefix), now, id, string(from))
	}
	if err != nil {
		return fmt.Errorf("transition %s %s -> %s: %w", id, from, to, err)
	}
	return checkOneRow(res, fmt.Sprintf("transition %s %s -> %s", id, from, to))
}

// Reclaim re-enters consumed for crash recovery. It succeeds only if the
// row is still consumed with the given attempts count, so two recovering
// callers cannot both win.
func (s *Store) Reclaim(ctx context.Context, id string, attempts int) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations
		SET attempts = attempts + 1, updated_at_ms = ?
		WHERE id = ? AND status = ? AND attempts = ? AND expires_at_ms >= ?
	`, now, id, string(confirm.StatusConsumed), attempts, now)
	if err != nil {
		return fmt.Errorf("reclaim %s: %w", id, err)
	}
	return checkOneRow(res, fmt.Sprintf("reclaim %s", id))
}

// SatisfySecondFactor marks the record's second factor as satisfied when
// token matches the stored one. Satisfying an already satisfied factor with
// the same token is a no-op.
func (s *Store) SatisfySecondFactor(ctx context.Context, id, token string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations
		SET second_factor_satisfied = 1, second_factor_satisfied_at_ms = ?, updated_at_ms = ?
		WHERE id = ? AND second_factor_token = ? AND second_factor_satisfied = 0
		  AND status = ? AND expires_at_ms >= ?
	`, now, now, id, token, string(confirm.StatusPending), now)
	if err != nil {
		return fmt.Errorf("satisfy second factor %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("satisfy second factor %s: rows affected: %w", id, err)
	}
	if n == 1 {
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

// Link records that dependent should follow primary. Both records must
// exist and be unexpired. Linking twice is a no-op, except that a mandatory
// link is never downgraded to advisory.
func (s *Store) Link(ctx context.Context, primaryID, dependentID string, mandatory bool) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("link %s -> %s: begin tx: %w", primaryID, dependentID, err)
	}
	defer tx.Rollback()

	var live int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_confirmations
		WHERE id IN (?, ?) AND expires_at_ms >= ?
	`, primaryID, dependentID, now).Scan(&live); err != nil {
		return fmt.Errorf("link %s -> %s: %w", primaryID, dependentID, err)
	}
	if live != 2 {
		return fmt.Errorf("link %s -> %s: %w", primaryID, dependentID, confirm.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO confirmation_links (primary_id, dependent_id, mandatory, created_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(primary_id, dependent_id)
		DO UPDATE SET mandatory = MAX(mandatory, excluded.mandatory)
	`, primaryID, dependentID, boolToInt(mandatory), now); err != nil {
		return fmt.Errorf("link %s -> %s: %w", primaryID, dependentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("link %s -> %s: commit: %w", primaryID, dependentID, err)
	}
	return nil
}

// SweepExpired deletes expired rows and returns how many were removed.
// Consumed rows updated within the in-flight window are kept. Links whose
// primary is removed stay behind with the primary's final status.
func (s *Store) SweepExpired(ctx context.Context, nowMs int64) (int, error) {
	cutoff := nowMs - s.inFlight.Milliseconds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE confirmation_links
		SET primary_status = (
			SELECT status FROM pending_confirmations p WHERE p.id = confirmation_links.primary_id
		)
		WHERE primary_id IN (
			SELECT id FROM pending_confirmations
			WHERE expires_at_ms < ?
			  AND NOT (status = ? AND updated_at_ms >= ?)
		)
	`, nowMs, string(confirm.StatusConsumed), cutoff); err != nil {
		return 0, fmt.Errorf("sweep expired: keep links: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM pending_confirmations
		WHERE expires_at_ms < ?
		  AND NOT (status = ? AND updated_at_ms >= ?)
	`, nowMs, string(confirm.StatusConsumed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sweep expired: commit: %w", err)
	}
	return int(n), nil
}

// UpdatePayload replaces the payload of a pending or failed record with a
// compare-and-set on from. The record returns to pending under the new
// hash and expiry; broadcast id, error and signing details are cleared.
func (s *Store) UpdatePayload(ctx context.Context, id string, from confirm.Status, u confirm.PayloadUpdate) error {
	if from != confirm.StatusPending && from != confirm.StatusFailed {
		return fmt.Errorf("update payload %s: from %s: %w", id, from, confirm.ErrConflict)
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations
		SET payload = ?, summary_hash = ?, expires_at_ms = ?, status = ?,
		    broadcast_id = NULL, last_error = NULL, signed_at_ms = NULL, raw_tx_prefix = NULL,
		    second_factor_token = ?, second_factor_satisfied = 0, second_factor_satisfied_at_ms = NULL,
		    updated_at_ms = ?
		WHERE id = ? AND status = ? AND expires_at_ms >= ?
	`, u.Payload, u.SummaryHash, u.ExpiresAtMs, string(confirm.StatusPending),
		nullString(u.SecondFactorToken), now, id, string(from), now)
	if err != nil {
		return fmt.Errorf("update payload %s: %w", id, err)
	}
	return checkOneRow(res, fmt.Sprintf("update payload %s", id))
}

// SetDryRun stores the latest pre-execution simulation for id. The status
// is untouched; a swept record is silently skipped.
func (s *Store) SetDryRun(ctx context.Context, id string, result []byte, errText string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations
		SET last_dry_run = ?, last_dry_run_error = ?, updated_at_ms = ?
		WHERE id = ?
	`, nullString(string(result)), nullString(errText), s.now(), id); err != nil {
		return fmt.Errorf("set dry run %s: %w", id, err)
	}
	return nil
}

func checkOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, confirm.ErrConflict)
	}
	return nil
}

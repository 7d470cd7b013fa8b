package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/txgate/internal/confirm"
)

// load fetches a live record, translating the store sentinel.
func (e *Engine) load(ctx context.Context, id string) (*confirm.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if errors.Is(err, confirm.ErrNotFound) {
		return nil, confirm.NewNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return rec, nil
}

// storeErr translates a failed store mutation. A conflict is re-read so the
// caller learns what it raced against; a record that vanished in the
// meantime is reported as not found.
func (e *Engine) storeErr(ctx context.Context, id, op string, err error) error {
	switch {
	case errors.Is(err, confirm.ErrNotFound):
		return confirm.NewNotFound(id)
	case errors.Is(err, confirm.ErrConflict):
		rec, lerr := e.load(ctx, id)
		if lerr != nil {
			return lerr
		}
		return statusConflict(rec, op)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

// statusConflict explains why rec cannot undergo op in its current status.
func statusConflict(rec *confirm.Record, op string) *confirm.Error {
	var msg string
	switch rec.Status {
	case confirm.StatusConsumed:
		msg = "confirmation is already being signed and broadcast"
	case confirm.StatusSent:
		msg = fmt.Sprintf("transaction already sent as %s", rec.BroadcastID)
	case confirm.StatusFailed:
		msg = fmt.Sprintf("broadcast failed (%s); use retry", rec.LastError)
	case confirm.StatusSkipped:
		msg = "confirmation was skipped"
	default:
		msg = fmt.Sprintf("cannot %s a %s confirmation", op, rec.Status)
	}
	return confirm.NewConflict(rec.ID, rec.Status, msg)
}

func invalidPayload(chainKey string, err error) *confirm.Error {
	return &confirm.Error{
		Code:    confirm.ErrCodeInvalidPayload,
		Message: fmt.Sprintf("payload for %s cannot be decoded", chainKey),
		Err:     err,
	}
}

func unknownChain(chainKey string, err error) *confirm.Error {
	return &confirm.Error{
		Code:    confirm.ErrCodeUnknownChain,
		Message: fmt.Sprintf("no adapter registered for %q", chainKey),
		Err:     err,
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/txgate/internal/audit"
	"github.com/roach88/txgate/internal/confirm"
)

// LinkResult reports a recorded link.
type LinkResult struct {
	PrimaryID   string `json:"primary_id"`
	DependentID string `json:"dependent_id"`
	Mandatory   bool   `json:"mandatory"`
}

// Link records that dependentID should be broadcast after primaryID (for
// example a swap after its token approval). The link is advisory unless
// mandatory is set or the dependent's chain policy makes links mandatory.
func (e *Engine) Link(ctx context.Context, primaryID, dependentID string, mandatory bool) (*LinkResult, error) {
	if primaryID == dependentID {
		return nil, &confirm.Error{Code: confirm.ErrCodeConflict, Message: "a confirmation cannot be linked to itself", ID: primaryID}
	}
	dep, err := e.load(ctx, dependentID)
	if err != nil {
		return nil, err
	}
	if _, err := e.load(ctx, primaryID); err != nil {
		return nil, err
	}
	path, err := e.linkPath(ctx, primaryID, dependentID)
	if err != nil {
		return nil, err
	}
	if path != nil {
		return nil, linkCycle(dependentID, path)
	}
	mandatory = mandatory || e.policy.MandatoryLinks(dep.ChainKey)

	if err := e.store.Link(ctx, primaryID, dependentID, mandatory); err != nil {
		return nil, e.storeErr(ctx, dependentID, "link", err)
	}
	e.audit.Record(ctx, audit.EventLinked, dep, slog.String("primary_id", primaryID), slog.Bool("mandatory", mandatory))
	return &LinkResult{PrimaryID: primaryID, DependentID: dependentID, Mandatory: mandatory}, nil
}

// Skip cancels a pending or consumed record. A consumed record can only be
// skipped once it has sat idle past the stale window, so a broadcast still
// in flight keeps its outcome. Skipping never recalls a transaction already
// handed to the adapter; it only stops the record from being retried.
func (e *Engine) Skip(ctx context.Context, id, reason string) (*confirm.Record, error) {
	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !confirm.CanTransition(rec.Status, confirm.StatusSkipped) {
		return nil, statusConflict(rec, "skip")
	}
	if rec.Status == confirm.StatusConsumed {
		idle := e.clock.NowMs() - rec.UpdatedAtMs
		if idle < e.staleAfter.Milliseconds() {
			return nil, confirm.NewConflict(rec.ID, rec.Status,
				fmt.Sprintf("broadcast in flight for %dms; skip after %s", idle, e.staleAfter))
		}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "skipped by operator"
	}
	if err := e.store.Transition(ctx, id, rec.Status, confirm.StatusSkipped, confirm.Outcome{LastError: reason}); err != nil {
		return nil, e.storeErr(ctx, id, "skip", err)
	}
	rec.Status = confirm.StatusSkipped
	rec.LastError = reason
	e.audit.Record(ctx, audit.EventSkipped, rec, slog.String("reason", reason))
	e.logger.Info("confirmation skipped", "id", id, "reason", reason)
	return rec.Redacted().WithoutToken(), nil
}

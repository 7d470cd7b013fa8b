package engine

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/txgate/internal/audit"
	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// ConfirmRequest presents the summary hash (and token, when required) for
// a pending record.
type ConfirmRequest struct {
	ID          string
	SummaryHash string
	Token       string
}

// RetryRequest re-attempts a failed or abandoned broadcast.
type RetryRequest = ConfirmRequest

// ConfirmResult reports a successful broadcast, or a retry whose payload
// was refreshed and is pending again under a new summary hash.
type ConfirmResult struct {
	ID          string         `json:"id"`
	Status      confirm.Status `json:"status"`
	BroadcastID string         `json:"broadcast_id"`
	SignedAtMs  int64          `json:"signed_at_ms,omitempty"`
	Attempts    int            `json:"attempts"`
	Warnings    []string       `json:"warnings,omitempty"`

	// Set only for a refreshed retry.
	SummaryHash       string `json:"summary_hash,omitempty"`
	SecondFactorToken string `json:"second_factor_token,omitempty"`
	ExpiresAtMs       int64  `json:"expires_at_ms,omitempty"`
	Note              string `json:"note,omitempty"`
}

// Confirm validates req against a pending record and, if everything
// matches, signs and broadcasts it. Checks run in order: existence and
// expiry, status, summary hash, policy, second factor, dependencies. Only
// then does the record move to consumed, and only the caller that wins
// that compare-and-set reaches the adapter.
func (e *Engine) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	rec, err := e.load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if rec.Status != confirm.StatusPending {
		return nil, statusConflict(rec, "confirm")
	}
	return e.confirmPending(ctx, rec, req)
}

// Retry re-attempts a broadcast. From failed it re-enters consumed; from
// consumed it reclaims a record whose broadcaster appears to have died
// (consumed for longer than the stale window); from pending it behaves
// like Confirm. Sent and skipped records are final.
//
// For pending and failed records an adapter implementing chain.Refresher
// may rebuild the payload first. If the summary hash changes the record
// returns to pending under the new hash and nothing is broadcast.
func (e *Engine) Retry(ctx context.Context, req RetryRequest) (*ConfirmResult, error) {
	rec, err := e.load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case confirm.StatusPending, confirm.StatusFailed, confirm.StatusConsumed:
	default:
		return nil, statusConflict(rec, "retry")
	}

	if !hashMatches(rec.SummaryHash, req.SummaryHash) {
		return nil, confirm.NewHashMismatch(rec.ID)
	}
	adapter, err := e.adapters.Resolve(rec.ChainKey)
	if err != nil {
		return nil, unknownChain(rec.ChainKey, err)
	}
	// A reclaimed record may already be on chain; rebuilding it could send
	// a second transaction.
	if rec.Status != confirm.StatusConsumed {
		res, err := e.refresh(ctx, rec, adapter)
		if err != nil || res != nil {
			return res, err
		}
	}
	if rec.Status == confirm.StatusPending {
		return e.confirmPending(ctx, rec, req)
	}

	decision, err := e.recheckPolicy(rec, adapter)
	if err != nil {
		return nil, err
	}
	if decision.Denied() {
		return nil, confirm.NewPolicyDenied(rec.ID, decision.Reasons)
	}

	if rec.Status == confirm.StatusFailed {
		if err := e.store.Transition(ctx, rec.ID, confirm.StatusFailed, confirm.StatusConsumed, confirm.Outcome{}); err != nil {
			return nil, e.storeErr(ctx, rec.ID, "retry", err)
		}
	} else {
		idle := e.clock.NowMs() - rec.UpdatedAtMs
		if idle < e.staleAfter.Milliseconds() {
			return nil, confirm.NewConflict(rec.ID, rec.Status,
				fmt.Sprintf("broadcast in flight for %dms; retry after %s", idle, e.staleAfter))
		}
		if err := e.store.Reclaim(ctx, rec.ID, rec.Attempts); err != nil {
			return nil, e.storeErr(ctx, rec.ID, "reclaim", err)
		}
		e.logger.Warn("reclaimed stale consumed confirmation", "id", rec.ID, "attempts", rec.Attempts, "idle_ms", idle)
	}
	rec.Status = confirm.StatusConsumed
	rec.Attempts++
	e.audit.Record(ctx, audit.EventConsumed, rec, slog.Int("attempts", rec.Attempts), slog.Bool("retry", true))

	return e.broadcast(ctx, rec, adapter, decision.Warnings)
}

// refresh asks a chain.Refresher for the payload to sign now. It returns
// nil when the adapter has no refresher or the summary hash is unchanged.
func (e *Engine) refresh(ctx context.Context, rec *confirm.Record, adapter chain.Adapter) (*ConfirmResult, error) {
	r, ok := adapter.(chain.Refresher)
	if !ok {
		return nil, nil
	}
	payload, err := r.Refresh(ctx, rec)
	if err != nil {
		return nil, confirm.NewAdapterFailure(rec.ID, fmt.Errorf("refresh: %w", err))
	}
	hash, err := adapter.SummaryHash(payload)
	if err != nil {
		return nil, invalidPayload(rec.ChainKey, err)
	}
	if hashMatches(rec.SummaryHash, hash) {
		return nil, nil
	}

	u := confirm.PayloadUpdate{
		Payload:     payload,
		SummaryHash: hash,
		ExpiresAtMs: e.clock.NowMs() + e.defaultTTL.Milliseconds(),
	}
	if rec.SecondFactor != nil {
		u.SecondFactorToken = confirm.DeriveToken(rec.ID, hash, rec.CreatedAtMs)
	}
	if err := e.store.UpdatePayload(ctx, rec.ID, rec.Status, u); err != nil {
		return nil, e.storeErr(ctx, rec.ID, "refresh", err)
	}

	previous := rec.SummaryHash
	rec.Payload = payload
	rec.SummaryHash = hash
	rec.ExpiresAtMs = u.ExpiresAtMs
	rec.Status = confirm.StatusPending
	rec.LastError = ""
	if rec.SecondFactor != nil {
		rec.SecondFactor = &confirm.SecondFactor{Token: u.SecondFactorToken}
	}
	e.audit.Record(ctx, audit.EventRefreshed, rec, slog.String("previous_hash", previous))
	e.logger.Info("payload refreshed on retry", "id", rec.ID, "chain_key", rec.ChainKey, "summary_hash", hash)

	return &ConfirmResult{
		ID:                rec.ID,
		Status:            confirm.StatusPending,
		Attempts:          rec.Attempts,
		SummaryHash:       hash,
		SecondFactorToken: u.SecondFactorToken,
		ExpiresAtMs:       u.ExpiresAtMs,
		Note:              "transaction changed during refresh (nonce or fees); confirm again with the new summary_hash",
	}, nil
}

func (e *Engine) confirmPending(ctx context.Context, rec *confirm.Record, req ConfirmRequest) (*ConfirmResult, error) {
	if !hashMatches(rec.SummaryHash, req.SummaryHash) {
		return nil, confirm.NewHashMismatch(rec.ID)
	}
	adapter, err := e.adapters.Resolve(rec.ChainKey)
	if err != nil {
		return nil, unknownChain(rec.ChainKey, err)
	}

	decision, err := e.recheckPolicy(rec, adapter)
	if err != nil {
		return nil, err
	}
	if decision.Denied() {
		return nil, e.skipDenied(ctx, rec, decision)
	}

	if rec.RequiresSecondFactor() {
		if err := e.checkSecondFactor(ctx, rec, req.Token); err != nil {
			return nil, err
		}
	}

	warnings := append([]string{}, decision.Warnings...)
	depWarnings, err := e.checkDependencies(ctx, rec, adapter)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, depWarnings...)

	if err := e.store.Transition(ctx, rec.ID, confirm.StatusPending, confirm.StatusConsumed, confirm.Outcome{}); err != nil {
		return nil, e.storeErr(ctx, rec.ID, "confirm", err)
	}
	rec.Status = confirm.StatusConsumed
	rec.Attempts++
	e.audit.Record(ctx, audit.EventConsumed, rec, slog.Int("attempts", rec.Attempts))

	return e.broadcast(ctx, rec, adapter, warnings)
}

// recheckPolicy evaluates the current policy against the stored payload,
// so a config tightened after creation still applies.
func (e *Engine) recheckPolicy(rec *confirm.Record, adapter chain.Adapter) (policy.Decision, error) {
	facts, err := adapter.Inspect(rec.ChainKey, rec.Payload, rec.Metadata)
	if err != nil {
		return policy.Decision{}, invalidPayload(rec.ChainKey, err)
	}
	return e.policy.Evaluate(rec.ChainKey, facts), nil
}

func (e *Engine) skipDenied(ctx context.Context, rec *confirm.Record, d policy.Decision) error {
	reason := "policy denied: " + strings.Join(d.Reasons, "; ")
	if err := e.store.Transition(ctx, rec.ID, confirm.StatusPending, confirm.StatusSkipped, confirm.Outcome{LastError: reason}); err != nil {
		return e.storeErr(ctx, rec.ID, "confirm", err)
	}
	rec.Status = confirm.StatusSkipped
	rec.LastError = reason
	e.audit.Record(ctx, audit.EventSkipped, rec, slog.String("reason", reason))
	e.logger.Info("confirmation denied by current policy", "id", rec.ID, "reasons", d.Reasons)
	return confirm.NewPolicyDenied(rec.ID, d.Reasons)
}

// checkSecondFactor satisfies the record's token or explains what is
// missing. In two-step mode a correct token only unlocks the record.
func (e *Engine) checkSecondFactor(ctx context.Context, rec *confirm.Record, token string) error {
	expected := rec.SecondFactor.Token
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return confirm.NewSecondFactorRequired(rec.ID, expected,
			fmt.Sprintf("second confirmation required: confirm again with token=%s", expected), false)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return confirm.NewSecondFactorRequired(rec.ID, expected,
			fmt.Sprintf("token does not match: confirm again with token=%s", expected), false)
	}
	if err := e.store.SatisfySecondFactor(ctx, rec.ID, expected); err != nil {
		return e.storeErr(ctx, rec.ID, "confirm", err)
	}
	rec.SecondFactor.Satisfied = true
	rec.SecondFactor.SatisfiedAtMs = e.clock.NowMs()
	e.audit.Record(ctx, audit.EventSecondFactorSatisfied, rec)

	if e.sfMode == TwoStep {
		return confirm.NewSecondFactorRequired(rec.ID, expected,
			"second factor accepted; confirm once more with the summary hash to broadcast", true)
	}
	return nil
}

// checkDependencies inspects the primaries rec was linked to. Unsent
// primaries produce warnings, or a DEPENDENCY_PENDING error when the link
// is mandatory (per link or by chain policy).
func (e *Engine) checkDependencies(ctx context.Context, rec *confirm.Record, adapter chain.Adapter) ([]string, error) {
	deps, err := e.store.Dependencies(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", rec.ID, err)
	}
	advisor, _ := adapter.(chain.DependencyAdvisor)
	chainMandatory := e.policy.MandatoryLinks(rec.ChainKey)

	var warnings, blocking []string
	for _, dep := range deps {
		if dep.Status == confirm.StatusSent {
			continue
		}
		var msg string
		switch {
		case dep.Expired:
			msg = fmt.Sprintf("linked transaction %s expired before it was sent", dep.PrimaryID)
		case advisor != nil:
			msg = advisor.AdviseDependency(ctx, rec, dep)
			if msg == "" {
				continue
			}
		default:
			msg = fmt.Sprintf("linked transaction %s is %s; confirm it first", dep.PrimaryID, dep.Status)
		}
		if dep.Mandatory || chainMandatory {
			blocking = append(blocking, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}
	if len(blocking) > 0 {
		return nil, &confirm.Error{
			Code:    confirm.ErrCodeDependencyPending,
			Message: strings.Join(blocking, "; "),
			ID:      rec.ID,
			Status:  rec.Status,
			Reasons: blocking,
		}
	}
	return warnings, nil
}

// broadcast runs the adapter for a record this caller moved into consumed
// and persists the outcome. Outcome writes survive caller cancellation.
func (e *Engine) broadcast(ctx context.Context, rec *confirm.Record, adapter chain.Adapter, warnings []string) (*ConfirmResult, error) {
	out, berr := adapter.SignAndBroadcast(ctx, rec)
	wctx := context.WithoutCancel(ctx)
	e.recordDryRun(wctx, rec, out)

	if berr != nil {
		outcome := confirm.Outcome{LastError: berr.Error(), SignedAtMs: out.SignedAtMs, RawTxPrefix: out.RawTxPrefix}
		if err := e.store.Transition(wctx, rec.ID, confirm.StatusConsumed, confirm.StatusFailed, outcome); err != nil {
			e.logger.Error("failed to record broadcast failure", "id", rec.ID, "broadcast_error", berr, "error", err)
			return nil, e.storeErr(wctx, rec.ID, "record failure", err)
		}
		rec.Status = confirm.StatusFailed
		rec.LastError = berr.Error()
		e.audit.Record(wctx, audit.EventFailed, rec, slog.String("error", berr.Error()), slog.Int("attempts", rec.Attempts))
		e.logger.Warn("broadcast failed", "id", rec.ID, "chain_key", rec.ChainKey, "attempts", rec.Attempts, "error", berr)
		return nil, confirm.NewAdapterFailure(rec.ID, berr)
	}

	outcome := confirm.Outcome{BroadcastID: out.ID, SignedAtMs: out.SignedAtMs, RawTxPrefix: out.RawTxPrefix}
	if err := e.store.Transition(wctx, rec.ID, confirm.StatusConsumed, confirm.StatusSent, outcome); err != nil {
		// The transaction is on its way; losing this write only hides the id.
		e.logger.Error("failed to record broadcast", "id", rec.ID, "broadcast_id", out.ID, "error", err)
		return nil, e.storeErr(wctx, rec.ID, "record broadcast", err)
	}
	rec.Status = confirm.StatusSent
	rec.BroadcastID = out.ID
	e.audit.Record(wctx, audit.EventSent, rec, slog.String("broadcast_id", out.ID), slog.Int("attempts", rec.Attempts))
	e.logger.Info("transaction sent", "id", rec.ID, "chain_key", rec.ChainKey, "broadcast_id", out.ID)

	return &ConfirmResult{
		ID:          rec.ID,
		Status:      confirm.StatusSent,
		BroadcastID: out.ID,
		SignedAtMs:  out.SignedAtMs,
		Attempts:    rec.Attempts,
		Warnings:    warnings,
	}, nil
}

// recordDryRun keeps the adapter's simulation result on the record. It is
// informational, so a failed write is only logged.
func (e *Engine) recordDryRun(ctx context.Context, rec *confirm.Record, out chain.Broadcast) {
	if len(out.DryRun) == 0 && out.DryRunError == "" {
		return
	}
	if err := e.store.SetDryRun(ctx, rec.ID, out.DryRun, out.DryRunError); err != nil {
		e.logger.Warn("failed to record dry run", "id", rec.ID, "error", err)
		return
	}
	rec.LastDryRun = out.DryRun
	rec.LastDryRunError = out.DryRunError
	attrs := []slog.Attr{slog.Bool("ok", out.DryRunError == "")}
	if out.DryRunError != "" {
		attrs = append(attrs, slog.String("error", out.DryRunError))
	}
	e.audit.Record(ctx, audit.EventDryRun, rec, attrs...)
}

// hashMatches compares summary hashes case-insensitively, tolerating a
// missing or extra 0x prefix.
func hashMatches(stored, presented string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimPrefix(s, "0x")
	}
	p := norm(presented)
	return p != "" && subtle.ConstantTimeCompare([]byte(norm(stored)), []byte(p)) == 1
}

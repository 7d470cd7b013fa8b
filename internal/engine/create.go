package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/txgate/internal/audit"
	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// insertAttempts bounds id regeneration on the (practically impossible)
// collision with a live record.
const insertAttempts = 3

// CreateRequest stages a transaction.
type CreateRequest struct {
	ChainKey string
	Payload  []byte
	Metadata confirm.Metadata
	TTL      time.Duration // zero selects the engine default
}

// CreateResult is returned to the caller that staged the transaction.
type CreateResult struct {
	ID                string          `json:"id"`
	ChainKey          string          `json:"chain_key"`
	SummaryHash       string          `json:"summary_hash"`
	SecondFactorToken string          `json:"second_factor_token,omitempty"`
	ExpiresAtMs       int64           `json:"expires_at_ms"`
	ExpiresInMs       int64           `json:"expires_in_ms"`
	Decision          policy.Decision `json:"decision"`
	Message           string          `json:"message"`
	Summary           map[string]any  `json:"summary,omitempty"`
}

// Create hashes and inspects the payload, evaluates policy and stores a
// pending record. A denied transaction is never stored.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	chainKey := strings.TrimSpace(req.ChainKey)
	if chainKey == "" {
		return nil, invalidPayload(chainKey, errors.New("chain key is required"))
	}
	if len(req.Payload) == 0 {
		return nil, invalidPayload(chainKey, errors.New("payload is empty"))
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	if ttl > MaxTTL {
		return nil, invalidPayload(chainKey, fmt.Errorf("ttl %s exceeds maximum %s", ttl, MaxTTL))
	}

	adapter, err := e.adapters.Resolve(chainKey)
	if err != nil {
		return nil, unknownChain(chainKey, err)
	}
	hash, err := adapter.SummaryHash(req.Payload)
	if err != nil {
		return nil, invalidPayload(chainKey, err)
	}
	facts, err := adapter.Inspect(chainKey, req.Payload, req.Metadata)
	if err != nil {
		return nil, invalidPayload(chainKey, err)
	}

	decision := e.policy.Evaluate(chainKey, facts)
	if decision.Denied() {
		e.logger.Info("create denied by policy", "chain_key", chainKey, "reasons", decision.Reasons)
		pe := confirm.NewPolicyDenied("", decision.Reasons)
		pe.Message = policy.DecisionMessage(decision, policy.MessageContext{ChainKey: chainKey})
		return nil, pe
	}

	rec, err := e.insert(ctx, chainKey, hash, req, ttl, decision.RequiresSecondFactor())
	if err != nil {
		return nil, err
	}
	e.audit.Record(ctx, audit.EventCreated, rec,
		slog.Bool("second_factor", rec.SecondFactor != nil),
		slog.String("verdict", string(decision.Verdict)))
	e.logger.Debug("confirmation created", "id", rec.ID, "chain_key", chainKey, "verdict", decision.Verdict)

	res := &CreateResult{
		ID:          rec.ID,
		ChainKey:    chainKey,
		SummaryHash: hash,
		ExpiresAtMs: rec.ExpiresAtMs,
		ExpiresInMs: rec.ExpiresInMs(rec.CreatedAtMs),
		Decision:    decision,
	}
	if rec.SecondFactor != nil {
		res.SecondFactorToken = rec.SecondFactor.Token
	}
	res.Message = policy.DecisionMessage(decision, policy.MessageContext{
		ID:          rec.ID,
		ChainKey:    chainKey,
		SummaryHash: hash,
		Token:       res.SecondFactorToken,
		ExpiresInMs: res.ExpiresInMs,
	})
	if d, ok := adapter.(chain.Describer); ok {
		if summary, err := d.Describe(req.Payload); err == nil {
			res.Summary = summary
		}
	}
	return res, nil
}

func (e *Engine) insert(ctx context.Context, chainKey, hash string, req CreateRequest, ttl time.Duration, secondFactor bool) (*confirm.Record, error) {
	family := confirm.Family(chainKey)
	var err error
	for i := 0; i < insertAttempts; i++ {
		now := e.clock.NowMs()
		rec := &confirm.Record{
			ID:          confirm.NewID(family, now, hash, e.nonces.Nonce()),
			ChainKey:    chainKey,
			Payload:     req.Payload,
			SummaryHash: hash,
			Status:      confirm.StatusPending,
			CreatedAtMs: now,
			UpdatedAtMs: now,
			ExpiresAtMs: now + ttl.Milliseconds(),
			Metadata:    req.Metadata,
		}
		if secondFactor {
			rec.SecondFactor = &confirm.SecondFactor{Token: confirm.DeriveToken(rec.ID, hash, now)}
		}
		err = e.store.Insert(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, confirm.ErrConflict) {
			return nil, fmt.Errorf("create: %w", err)
		}
		e.logger.Warn("confirmation id collision; regenerating", "id", rec.ID)
	}
	return nil, fmt.Errorf("create: %w", err)
}

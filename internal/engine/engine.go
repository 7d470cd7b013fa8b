package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// Store is the persistence contract the engine relies on. store.Store
// (SQLite) and pgstore.Store (PostgreSQL) implement it.
//
// Missing or expired records yield confirm.ErrNotFound; compare-and-set
// failures yield confirm.ErrConflict. Both may be wrapped.
type Store interface {
	Insert(ctx context.Context, rec *confirm.Record) error
	Get(ctx context.Context, id string) (*confirm.Record, error)
	Transition(ctx context.Context, id string, from, to confirm.Status, out confirm.Outcome) error
	Reclaim(ctx context.Context, id string, attempts int) error
	SatisfySecondFactor(ctx context.Context, id, token string) error
	Link(ctx context.Context, primaryID, dependentID string, mandatory bool) error
	Dependencies(ctx context.Context, id string) ([]confirm.Dependency, error)
	List(ctx context.Context, f confirm.ListFilter) ([]*confirm.Record, error)
	SweepExpired(ctx context.Context, nowMs int64) (int, error)
	UpdatePayload(ctx context.Context, id string, from confirm.Status, u confirm.PayloadUpdate) error
	SetDryRun(ctx context.Context, id string, result []byte, errText string) error
}

// Auditor receives lifecycle events. audit.Log implements it.
type Auditor interface {
	Record(ctx context.Context, event string, rec *confirm.Record, attrs ...slog.Attr)
}

// SecondFactorMode selects how a required token is presented.
type SecondFactorMode string

const (
	// SingleStep accepts hash and token in one confirm call.
	SingleStep SecondFactorMode = "single_step"

	// TwoStep makes the token-bearing call only unlock the record; a
	// further confirm call broadcasts.
	TwoStep SecondFactorMode = "two_step"
)

// Defaults.
const (
	DefaultTTL                = 10 * time.Minute
	MaxTTL                    = 24 * time.Hour
	DefaultConsumedStaleAfter = 30 * time.Second
	DefaultSweepInterval      = time.Minute
)

// Engine coordinates adapters, policy and the store.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	store    Store
	adapters *chain.Registry
	policy   *policy.Evaluator

	logger     *slog.Logger
	clock      confirm.Clock
	nonces     confirm.NonceSource
	audit      Auditor
	sfMode     SecondFactorMode
	defaultTTL time.Duration
	staleAfter time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the wall clock. It should be the clock the store uses.
func WithClock(c confirm.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNonceSource sets the randomness mixed into record ids.
func WithNonceSource(n confirm.NonceSource) Option {
	return func(e *Engine) { e.nonces = n }
}

// WithSecondFactorMode selects single- or two-step token presentation.
func WithSecondFactorMode(m SecondFactorMode) Option {
	return func(e *Engine) { e.sfMode = m }
}

// WithDefaultTTL sets the lifetime used when a create request has none.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Engine) { e.defaultTTL = d }
}

// WithConsumedStaleAfter sets how long a record may sit in consumed before
// Retry treats it as abandoned by a crashed broadcaster.
func WithConsumedStaleAfter(d time.Duration) Option {
	return func(e *Engine) { e.staleAfter = d }
}

// WithAudit sets the lifecycle audit sink.
func WithAudit(a Auditor) Option {
	return func(e *Engine) { e.audit = a }
}

// New creates an Engine.
func New(s Store, adapters *chain.Registry, eval *policy.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		adapters:   adapters,
		policy:     eval,
		logger:     slog.Default(),
		clock:      confirm.SystemClock{},
		nonces:     confirm.UUIDv7Source{},
		audit:      nopAuditor{},
		sfMode:     SingleStep,
		defaultTTL: DefaultTTL,
		staleAfter: DefaultConsumedStaleAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the evaluator, so callers can hot-reload it.
func (e *Engine) Policy() *policy.Evaluator { return e.policy }

// Get returns a live record. Payload bytes are dropped unless
// includePayload is set. The second-factor token is never returned.
func (e *Engine) Get(ctx context.Context, id string, includePayload bool) (*confirm.Record, error) {
	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !includePayload {
		rec = rec.Redacted()
	}
	return rec.WithoutToken(), nil
}

// List returns live records newest first.
func (e *Engine) List(ctx context.Context, f confirm.ListFilter) ([]*confirm.Record, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &confirm.Error{Code: confirm.ErrCodeInvalidPayload, Message: "unknown status filter " + string(f.Status)}
	}
	recs, err := e.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		recs[i] = rec.WithoutToken()
	}
	return recs, nil
}

// Sweep deletes expired records and returns how many were removed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.store.SweepExpired(ctx, e.clock.NowMs())
}

// RunSweeper sweeps every interval until ctx is cancelled. Lazy sweeping
// on access continues regardless.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := e.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Error("sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				e.logger.Debug("swept expired confirmations", "count", n)
			}
		}
	}
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, *confirm.Record, ...slog.Attr) {}

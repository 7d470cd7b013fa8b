package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/engine"
	"github.com/roach88/txgate/internal/policy"
	"github.com/roach88/txgate/internal/store"
	"github.com/roach88/txgate/internal/testutil"
)

// StartMs is the manual clock reading every scenario starts from.
const StartMs int64 = 1_700_000_000_000

// FakeFamily is the chain family served by the harness adapter. Use chain
// keys such as "fake:devnet" or "fake:mainnet".
const FakeFamily = "fake"

// Harness is the scenario execution engine.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	eval    *policy.Evaluator
	clock   *testutil.ManualClock
	adapter *testutil.FakeAdapter
	audit   *recorder
	refs    map[string]*staged
}

// staged is what the harness remembers about a created record.
type staged struct {
	id    string
	hash  string
	token string
}

// observation is the outcome of one step, before it is traced.
type observation struct {
	outcome     string
	code        confirm.ErrorCode
	status      string
	decision    string
	broadcastID string
	removed     int
	warnings    int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. A
// non-nil error means the scenario could not be executed at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewManualClock(StartMs)
	st, err := store.Open(":memory:", store.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cfg := policy.Default()
	if scenario.Policy != nil {
		cfg = *scenario.Policy
	}
	eval, err := policy.NewEvaluator(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}

	mode := engine.SingleStep
	if scenario.SecondFactorMode != "" {
		mode = engine.SecondFactorMode(scenario.SecondFactorMode)
	}

	h := &Harness{
		store:   st,
		eval:    eval,
		clock:   clock,
		adapter: testutil.NewFakeAdapter(FakeFamily),
		audit:   &recorder{},
		refs:    make(map[string]*staged),
	}
	h.engine = engine.New(st, chain.NewRegistry(h.adapter), eval,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithClock(clock),
		engine.WithNonceSource(&testutil.CountingNonces{}),
		engine.WithSecondFactorMode(mode),
		engine.WithAudit(h.audit),
	)

	ctx := context.Background()
	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	result.Broadcasts = h.adapter.CallCount()
	result.Audit = h.audit.resolve(h.refs)

	actx := &AssertionContext{
		Ctx:    ctx,
		Engine: h.engine,
		IDs:    h.ids(),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeFlow runs every step, tracing outcomes and checking expectations.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		obs, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		}
		result.AddTrace(TraceEvent{
			Step:        i + 1,
			Op:          step.Op,
			Ref:         step.Ref,
			Outcome:     obs.outcome,
			BroadcastID: obs.broadcastID,
		})
		if step.Expect != nil {
			for _, msg := range checkExpect(i, step.Expect, obs) {
				result.AddError(msg)
			}
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step FlowStep) (observation, error) {
	switch step.Op {
	case OpCreate:
		return h.create(ctx, step)
	case OpConfirm, OpRetry:
		return h.confirm(ctx, step)
	case OpSkip:
		s, err := h.lookup(step.Ref)
		if err != nil {
			return observation{}, err
		}
		rec, err := h.engine.Skip(ctx, s.id, step.Reason)
		if err != nil {
			return engineOutcome(err)
		}
		return observation{outcome: string(rec.Status), status: string(rec.Status)}, nil
	case OpLink:
		dep, err := h.lookup(step.Ref)
		if err != nil {
			return observation{}, err
		}
		primary, err := h.lookup(step.Primary)
		if err != nil {
			return observation{}, err
		}
		res, err := h.engine.Link(ctx, primary.id, dep.id, step.Mandatory)
		if err != nil {
			return engineOutcome(err)
		}
		if res.Mandatory {
			return observation{outcome: "linked_mandatory"}, nil
		}
		return observation{outcome: "linked"}, nil
	case OpAdvance:
		h.clock.Advance(time.Duration(step.Ms) * time.Millisecond)
		return observation{outcome: fmt.Sprintf("+%dms", step.Ms)}, nil
	case OpSweep:
		n, err := h.engine.Sweep(ctx)
		if err != nil {
			return observation{}, err
		}
		return observation{outcome: fmt.Sprintf("removed=%d", n), removed: n}, nil
	case OpFailNext:
		errs := make([]error, len(step.Errors))
		for i, msg := range step.Errors {
			errs[i] = errors.New(msg)
		}
		h.adapter.FailNext(errs...)
		return observation{outcome: "armed"}, nil
	case OpSetPolicy:
		if err := h.eval.Update(*step.Policy); err != nil {
			return observation{}, err
		}
		return observation{outcome: "updated"}, nil
	default:
		return observation{}, fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) create(ctx context.Context, step FlowStep) (observation, error) {
	payload, err := json.Marshal(step.Payload)
	if err != nil {
		return observation{}, fmt.Errorf("encode payload: %w", err)
	}
	res, err := h.engine.Create(ctx, engine.CreateRequest{
		ChainKey: step.ChainKey,
		Payload:  payload,
		Metadata: confirm.Metadata{SourceTool: "harness", Label: step.Label},
		TTL:      time.Duration(step.TTLMs) * time.Millisecond,
	})
	if err != nil {
		return engineOutcome(err)
	}
	h.refs[step.Ref] = &staged{id: res.ID, hash: res.SummaryHash, token: res.SecondFactorToken}
	verdict := string(res.Decision.Verdict)
	return observation{outcome: verdict, decision: verdict, warnings: len(res.Decision.Warnings)}, nil
}

func (h *Harness) confirm(ctx context.Context, step FlowStep) (observation, error) {
	s, err := h.lookup(step.Ref)
	if err != nil {
		return observation{}, err
	}
	req := engine.ConfirmRequest{ID: s.id, SummaryHash: s.hash, Token: step.Token}
	if step.Hash != "" {
		req.SummaryHash = step.Hash
	}
	if step.WithToken {
		req.Token = s.token
	}

	var res *engine.ConfirmResult
	if step.Op == OpRetry {
		res, err = h.engine.Retry(ctx, req)
	} else {
		res, err = h.engine.Confirm(ctx, req)
	}
	if err != nil {
		return engineOutcome(err)
	}
	// A refreshed retry hands out a new hash (and token) to confirm with.
	if res.SummaryHash != "" {
		s.hash = res.SummaryHash
	}
	if res.SecondFactorToken != "" {
		s.token = res.SecondFactorToken
	}
	return observation{
		outcome:     string(res.Status),
		status:      string(res.Status),
		broadcastID: res.BroadcastID,
		warnings:    len(res.Warnings),
	}, nil
}

func (h *Harness) lookup(ref string) (*staged, error) {
	s, ok := h.refs[ref]
	if !ok {
		return nil, fmt.Errorf("ref %q was never created", ref)
	}
	return s, nil
}

func (h *Harness) ids() map[string]string {
	ids := make(map[string]string, len(h.refs))
	for ref, s := range h.refs {
		ids[ref] = s.id
	}
	return ids
}

// engineOutcome turns a structured engine error into an observation.
// Anything else is an infrastructure failure and aborts the run.
func engineOutcome(err error) (observation, error) {
	code := confirm.CodeOf(err)
	if code == "" {
		return observation{}, err
	}
	return observation{outcome: string(code), code: code}, nil
}

// checkExpect compares an observation with the step's expect clause.
func checkExpect(i int, exp *ExpectClause, obs observation) []string {
	var errs []string
	switch {
	case exp.Error == "none" && obs.code != "":
		errs = append(errs, fmt.Sprintf("flow[%d]: expected success, got error %s", i, obs.code))
	case exp.Error != "" && exp.Error != "none" && string(obs.code) != exp.Error:
		errs = append(errs, fmt.Sprintf("flow[%d]: expected error %s, got %q", i, exp.Error, obs.outcome))
	}
	if exp.Status != "" && obs.status != exp.Status {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected status %s, got %q", i, exp.Status, obs.outcome))
	}
	if exp.Decision != "" && obs.decision != exp.Decision {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected decision %s, got %q", i, exp.Decision, obs.outcome))
	}
	if exp.Removed != nil && obs.removed != *exp.Removed {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected %d removed, got %d", i, *exp.Removed, obs.removed))
	}
	if obs.warnings < exp.Warnings {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected at least %d warnings, got %d", i, exp.Warnings, obs.warnings))
	}
	return errs
}

// recorder is an engine.Auditor that keeps events in memory.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	event string
	id    string
}

func (r *recorder) Record(_ context.Context, event string, rec *confirm.Record, _ ...slog.Attr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{event: event, id: rec.ID})
}

// resolve maps recorded ids back to scenario refs.
func (r *recorder) resolve(refs map[string]*staged) []AuditEvent {
	byID := make(map[string]string, len(refs))
	for ref, s := range refs {
		byID[s.id] = ref
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, AuditEvent{Event: e.event, Ref: byID[e.id]})
	}
	return out
}

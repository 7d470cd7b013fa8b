package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/engine"
)

// AssertionContext gives assertions access to the engine after the flow.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
	IDs    map[string]string // ref -> record id
}

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Step, ev.Op, ev.Ref, ev.Outcome)
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(result, a, actx)
	case AssertBroadcastCount:
		if result.Broadcasts != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d broadcasts", a.Count),
				Actual:   fmt.Sprintf("%d broadcasts", result.Broadcasts),
				Trace:    result.Trace,
			}
		}
		return nil
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertAuditOrder:
		return assertAuditOrder(result, a)
	case AssertAuditCount:
		return assertAuditCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertFinalState reads the record through the engine, so expiry applies
// exactly as it would for a caller.
func assertFinalState(result *Result, a Assertion, actx *AssertionContext) error {
	actual := StatusMissing
	if id, ok := actx.IDs[a.Ref]; ok {
		rec, err := actx.Engine.Get(actx.Ctx, id, false)
		switch {
		case err == nil:
			actual = string(rec.Status)
		case confirm.IsNotFound(err):
		default:
			return fmt.Errorf("final_state: get %s: %w", a.Ref, err)
		}
	}
	if actual != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s is %s", a.Ref, a.Status),
			Actual:   fmt.Sprintf("%s is %s", a.Ref, actual),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceContains matches on op and, when given, ref and outcome.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Op != a.Op {
			continue
		}
		if a.Ref != "" && ev.Ref != a.Ref {
			continue
		}
		if a.Outcome != "" && ev.Outcome != a.Outcome {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s -> %s", a.Op, a.Ref, a.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertAuditOrder checks that events appear for ref in the given order.
// Other events may appear in between.
func assertAuditOrder(result *Result, a Assertion) error {
	next := 0
	for _, ev := range result.Audit {
		if next == len(a.Events) {
			break
		}
		if ev.Ref == a.Ref && ev.Event == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("events for %s in order: %v", a.Ref, a.Events),
			Actual:   fmt.Sprintf("missing %s after %v; saw %v", a.Events[next], a.Events[:next], auditFor(result.Audit, a.Ref)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertAuditCount(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Audit {
		if ev.Ref == a.Ref && ev.Event == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s x%d", a.Ref, a.Event, a.Count),
			Actual:   fmt.Sprintf("x%d; saw %v", count, auditFor(result.Audit, a.Ref)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func auditFor(events []AuditEvent, ref string) []string {
	var out []string
	for _, ev := range events {
		if ev.Ref == ref {
			out = append(out, ev.Event)
		}
	}
	return out
}

package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/txgate/internal/canonical"
)

// TraceSnapshot captures the observable outcome of a scenario run.
// It is serialized as canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Audit        []AuditEvent `json:"audit"`
}

// toCanonicalMap converts the snapshot into values canonical.Marshal
// understands.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":    ev.Step,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.Ref != "" {
			m["ref"] = ev.Ref
		}
		if ev.BroadcastID != "" {
			m["broadcast_id"] = ev.BroadcastID
		}
		trace[i] = m
	}
	audit := make([]any, len(s.Audit))
	for i, ev := range s.Audit {
		audit[i] = map[string]any{"event": ev.Event, "ref": ev.Ref}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"audit":         audit,
	}
}

// Snapshot renders result as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	s := TraceSnapshot{ScenarioName: name, Trace: result.Trace, Audit: result.Audit}
	return canonical.Marshal(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

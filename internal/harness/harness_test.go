package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgate/internal/testutil"
)

// TestScenarios runs every scenario under testdata/scenarios against the
// engine and compares the trace with its golden file.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
		})
	}
}

func TestRun_ExpectMismatchFailsResult(t *testing.T) {
	s := &Scenario{
		Name:        "expect_mismatch",
		Description: "a confirm expected to fail actually succeeds",
		Flow: []FlowStep{
			{Op: OpCreate, Ref: "tx", ChainKey: "fake:devnet", Payload: &testutil.FakePayload{To: "0xabc", Value: "1"}},
			{Op: OpConfirm, Ref: "tx", Expect: &ExpectClause{Error: "HASH_MISMATCH"}},
		},
		Assertions: []Assertion{{Type: AssertBroadcastCount, Count: 1}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected error HASH_MISMATCH")
	assert.Equal(t, 1, result.Broadcasts)
}

func TestRun_AssertionFailureReported(t *testing.T) {
	s := &Scenario{
		Name:        "assertion_failure",
		Description: "final_state disagrees with the engine",
		Flow: []FlowStep{
			{Op: OpCreate, Ref: "tx", ChainKey: "fake:devnet", Payload: &testutil.FakePayload{To: "0xabc"}},
		},
		Assertions: []Assertion{{Type: AssertFinalState, Ref: "tx", Status: "sent"}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "tx is pending")
}

func TestRun_ExpectNone(t *testing.T) {
	s := &Scenario{
		Name:        "expect_none",
		Description: "an unexpected engine error is caught by error: none",
		Flow: []FlowStep{
			{Op: OpCreate, Ref: "tx", ChainKey: "fake:devnet", Payload: &testutil.FakePayload{To: "0xabc"}},
			{Op: OpConfirm, Ref: "tx", Hash: "00", Expect: &ExpectClause{Error: "none"}},
		},
		Assertions: []Assertion{{Type: AssertBroadcastCount, Count: 0}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected success, got error HASH_MISMATCH")
}

func TestRun_UnknownRefAborts(t *testing.T) {
	// A failed create leaves its ref unbound; Run does not re-validate.
	s := &Scenario{
		Name:        "unbound_ref",
		Description: "confirming a record whose create was denied",
		Flow: []FlowStep{
			{Op: OpCreate, Ref: "tx", ChainKey: "nope:devnet", Payload: &testutil.FakePayload{To: "0xabc"}},
			{Op: OpConfirm, Ref: "tx"},
		},
		Assertions: []Assertion{{Type: AssertBroadcastCount}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ref "tx" was never created`)
}

func TestRun_UnknownChainTraced(t *testing.T) {
	s := &Scenario{
		Name:        "unknown_chain",
		Description: "create on a family without an adapter",
		Flow: []FlowStep{
			{Op: OpCreate, Ref: "tx", ChainKey: "nope:devnet", Payload: &testutil.FakePayload{To: "0xabc"}, Expect: &ExpectClause{Error: "UNKNOWN_CHAIN"}},
		},
		Assertions: []Assertion{{Type: AssertFinalState, Ref: "tx", Status: StatusMissing}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "UNKNOWN_CHAIN", result.Trace[0].Outcome)
	assert.Empty(t, result.Audit)
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/linked_dependency.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

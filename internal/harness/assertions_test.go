package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.AddTrace(TraceEvent{Step: 1, Op: OpCreate, Ref: "tx", Outcome: "allow"})
	r.AddTrace(TraceEvent{Step: 2, Op: OpConfirm, Ref: "tx", Outcome: "sent", BroadcastID: "0xbeef1"})
	r.Audit = []AuditEvent{
		{Event: "created", Ref: "tx"},
		{Event: "created", Ref: "other"},
		{Event: "consumed", Ref: "tx"},
		{Event: "sent", Ref: "tx"},
	}
	r.Broadcasts = 1
	return r
}

func TestResultAddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestAssertTraceContains(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceContains(r.Trace, Assertion{Op: OpConfirm}))
	assert.NoError(t, assertTraceContains(r.Trace, Assertion{Op: OpConfirm, Ref: "tx", Outcome: "sent"}))

	err := assertTraceContains(r.Trace, Assertion{Type: AssertTraceContains, Op: OpConfirm, Outcome: "CONFLICT"})
	require.Error(t, err)
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "not found in trace", ae.Actual)
	assert.Contains(t, err.Error(), "[2] confirm tx -> sent")
}

func TestAssertAuditOrder(t *testing.T) {
	r := sampleResult()

	tests := []struct {
		name    string
		events  []string
		wantErr string
	}{
		{"full order", []string{"created", "consumed", "sent"}, ""},
		{"gaps allowed", []string{"created", "sent"}, ""},
		{"wrong order", []string{"sent", "created"}, "missing created after [sent]"},
		{"absent event", []string{"created", "failed"}, "missing failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertAuditOrder(r, Assertion{Type: AssertAuditOrder, Ref: "tx", Events: tt.events})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertAuditCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertAuditCount(r, Assertion{Ref: "tx", Event: "created", Count: 1}))
	assert.NoError(t, assertAuditCount(r, Assertion{Ref: "tx", Event: "failed", Count: 0}))

	err := assertAuditCount(r, Assertion{Type: AssertAuditCount, Ref: "tx", Event: "consumed", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x1; saw [created consumed sent]")
}

func TestEvaluateAssertions_BroadcastCount(t *testing.T) {
	r := sampleResult()

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertBroadcastCount, Count: 1},
		{Type: AssertBroadcastCount, Count: 3},
	}, &AssertionContext{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertions[1]")
	assert.Contains(t, errs[0], "Expected: 3 broadcasts")
}

func TestSnapshotCanonical(t *testing.T) {
	data, err := Snapshot("sample", sampleResult())
	require.NoError(t, err)

	want := `{"audit":[{"event":"created","ref":"tx"},{"event":"created","ref":"other"},{"event":"consumed","ref":"tx"},{"event":"sent","ref":"tx"}],` +
		`"scenario_name":"sample",` +
		`"trace":[{"op":"create","outcome":"allow","ref":"tx","step":1},{"broadcast_id":"0xbeef1","op":"confirm","outcome":"sent","ref":"tx","step":2}]}`
	assert.Equal(t, want, string(data))
}

package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgate/internal/policy"
)

const minimalScenario = `
name: minimal
description: one create
flow:
  - op: create
    ref: tx
    chain_key: fake:devnet
    payload: {to: "0xabc", value: "1", flags: [approval]}
assertions:
  - type: broadcast_count
    count: 0
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Flow, 1)
	step := s.Flow[0]
	assert.Equal(t, OpCreate, step.Op)
	assert.Equal(t, "fake:devnet", step.ChainKey)
	require.NotNil(t, step.Payload)
	assert.Equal(t, "0xabc", step.Payload.To)
	assert.Equal(t, []policy.Flag{policy.FlagApproval}, step.Payload.Flags)
	assert.Len(t, s.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	header := "name: x\ndescription: y\n"
	tail := "assertions:\n  - type: broadcast_count\n    count: 0\n"
	create := "  - op: create\n    ref: tx\n    chain_key: fake:devnet\n    payload: {to: \"0xabc\"}\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: y\nflow:\n" + create + tail, "name is required"},
		{"missing description", "name: x\nflow:\n" + create + tail, "description is required"},
		{"empty flow", header + "flow: []\n" + tail, "flow list is required"},
		{"no assertions", header + "flow:\n" + create, "assertions list is required"},
		{"bad mode", header + "second_factor_mode: three_step\nflow:\n" + create + tail, "second_factor_mode"},
		{"unknown op", header + "flow:\n  - op: explode\n" + tail, `unknown op "explode"`},
		{"missing op", header + "flow:\n  - ref: tx\n" + tail, "op is required"},
		{"use before create", header + "flow:\n  - op: confirm\n    ref: tx\n" + tail, `ref "tx" is not created before use`},
		{"duplicate ref", header + "flow:\n" + create + create + tail, `ref "tx" is already bound`},
		{"create without payload", header + "flow:\n  - op: create\n    ref: tx\n    chain_key: fake:devnet\n" + tail, "payload is required"},
		{"link unknown primary", header + "flow:\n" + create + "  - op: link\n    ref: tx\n    primary: other\n" + tail, `primary "other"`},
		{"advance zero", header + "flow:\n  - op: advance\n" + tail, "ms must be positive"},
		{"fail_next empty", header + "flow:\n  - op: fail_next\n" + tail, "errors is required"},
		{"bad policy", header + "policy: {mode: loud}\nflow:\n" + create + tail, "policy"},
		{"unknown assertion", header + "flow:\n" + create + "assertions:\n  - type: vibes\n", `unknown assertion type "vibes"`},
		{"final_state without status", header + "flow:\n" + create + "assertions:\n  - type: final_state\n    ref: tx\n", "ref and status are required"},
		{"assertion unknown ref", header + "flow:\n" + create + "assertions:\n  - type: final_state\n    ref: nope\n    status: sent\n", `unknown ref "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		assert.Equal(t, filepath.Base(path), s.Name+".yaml", "scenario name should match file name")
	}
}

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Default()))
	require.NoError(t, Validate(testConfig()))
	require.NoError(t, Validate(Config{}))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad mode", Config{Mode: "strict"}},
		{"bad flag", Config{RiskyFlags: []Flag{"yolo"}}},
		{"fractional threshold", Config{Chains: map[string]ChainRule{"evm": {LargeValueThreshold: "1.5"}}}},
		{"negative max", Config{Chains: map[string]ChainRule{"evm": {MaxValue: "-1"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			require.Error(t, err)
			var verrs ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}
}

const cuePolicy = `
policy: {
	mode: "warn"
	risky_flags: ["unlimited_approval", "system_transfer"]
	chains: {
		"evm:1": {
			large_value_threshold: "100"
			deny: ["0xdead"]
		}
		solana: max_value: "5000000000"
	}
}
`

func TestCompileCUE(t *testing.T) {
	cfg, err := CompileCUE("policy.cue", []byte(cuePolicy))
	require.NoError(t, err)
	assert.Equal(t, ModeWarn, cfg.Mode)
	assert.Equal(t, []Flag{FlagUnlimitedApproval, FlagSystemTransfer}, cfg.RiskyFlags)
	assert.Equal(t, "100", cfg.Chains["evm:1"].LargeValueThreshold)
	assert.Equal(t, "5000000000", cfg.Chains["solana"].MaxValue)
}

func TestCompileCUE_RejectsUnknownField(t *testing.T) {
	_, err := CompileCUE("policy.cue", []byte(`mode: "block", colour: "blue"`))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
mode: block
mainnet_requires_second_factor: false
chains:
  sui:
    large_value_threshold: "1000000000"
`), 0o644))

	tomlPath := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
mode = "warn"
risky_flags = ["approval"]

[chains."evm:1"]
deny = ["0xdead"]
mandatory_links = true
`), 0o644))

	cuePath := filepath.Join(dir, "policy.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte(cuePolicy), 0o644))

	cfg, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.False(t, cfg.MainnetSecondFactor())
	assert.Equal(t, "1000000000", cfg.Chains["sui"].LargeValueThreshold)

	cfg, err = LoadFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, ModeWarn, cfg.Mode)
	assert.True(t, cfg.Chains["evm:1"].MandatoryLinks)

	cfg, err = LoadFile(cuePath)
	require.NoError(t, err)
	assert.Equal(t, ModeWarn, cfg.Mode)

	_, err = LoadFile(filepath.Join(dir, "policy.json"))
	require.Error(t, err)

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("mode: loud\n"), 0o644))
	_, err = LoadFile(badPath)
	require.Error(t, err)
}

package policy

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func boolPtr(b bool) *bool { return &b }

func testConfig() Config {
	return Config{
		Mode:       ModeBlock,
		RiskyFlags: []Flag{FlagUnlimitedApproval},
		Chains: map[string]ChainRule{
			"evm": {
				LargeValueThreshold: "1000000000000000000",
				AssetThresholds:     map[string]string{"0xA0b8": "5000000"},
				Deny:                []string{"0xDEAD"},
			},
			"evm:8453": {
				LargeValueThreshold: "10",
				MandatoryLinks:      true,
			},
			"solana": {
				MaxValue: "5000000000",
				Allow:    []string{"11111111111111111111111111111111"},
			},
		},
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator(testConfig())
	require.NoError(t, err)

	tests := []struct {
		name     string
		chainKey string
		facts    Facts
		want     Verdict
	}{
		{
			name:     "small testnet transfer",
			chainKey: "evm:11155111",
			facts:    Facts{Value: wei("1"), Destinations: []string{"0xabc"}},
			want:     VerdictAllow,
		},
		{
			name:     "mainnet needs second factor",
			chainKey: "evm:1",
			facts:    Facts{Mainnet: true, Value: wei("1")},
			want:     VerdictSecondFactor,
		},
		{
			name:     "value at threshold",
			chainKey: "evm:11155111",
			facts:    Facts{Value: wei("1000000000000000000")},
			want:     VerdictSecondFactor,
		},
		{
			name:     "exact key overrides family",
			chainKey: "evm:8453",
			facts:    Facts{Value: wei("11")},
			want:     VerdictSecondFactor,
		},
		{
			name:     "token threshold uses asset table",
			chainKey: "evm:11155111",
			facts:    Facts{Value: wei("5000000"), Asset: "0xa0b8"},
			want:     VerdictSecondFactor,
		},
		{
			name:     "token below asset threshold",
			chainKey: "evm:11155111",
			facts:    Facts{Value: wei("4999999"), Asset: "0xa0b8"},
			want:     VerdictAllow,
		},
		{
			name:     "unknown token has no threshold",
			chainKey: "evm:11155111",
			facts:    Facts{Value: wei("999999999999999999999"), Asset: "0xffff"},
			want:     VerdictAllow,
		},
		{
			name:     "risky flag",
			chainKey: "evm:11155111",
			facts:    Facts{Flags: []Flag{FlagApproval, FlagUnlimitedApproval}},
			want:     VerdictSecondFactor,
		},
		{
			name:     "deny list is case-insensitive for hex",
			chainKey: "evm:11155111",
			facts:    Facts{Destinations: []string{"0xdead"}},
			want:     VerdictDeny,
		},
		{
			name:     "solana allow list miss",
			chainKey: "solana:devnet",
			facts:    Facts{Destinations: []string{"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"}},
			want:     VerdictDeny,
		},
		{
			name:     "solana over max lamports",
			chainKey: "solana:devnet",
			facts:    Facts{Value: wei("5000000001"), Destinations: []string{"11111111111111111111111111111111"}, Flags: []Flag{FlagSystemTransfer}},
			want:     VerdictDeny,
		},
		{
			name:     "solana at max lamports",
			chainKey: "solana:devnet",
			facts:    Facts{Value: wei("5000000000"), Destinations: []string{"11111111111111111111111111111111"}},
			want:     VerdictAllow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := eval.Evaluate(tt.chainKey, tt.facts)
			assert.Equal(t, tt.want, d.Verdict, "reasons: %v", d.Reasons)
			if tt.want != VerdictAllow {
				assert.NotEmpty(t, d.Reasons)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	eval, err := NewEvaluator(testConfig())
	require.NoError(t, err)
	facts := Facts{Mainnet: true, Value: wei("2000000000000000000"), Destinations: []string{"0xabc"}}
	first := eval.Evaluate("evm:1", facts)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, eval.Evaluate("evm:1", facts))
	}
}

func TestEvaluate_WarnModeDegradesDeny(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeWarn
	eval, err := NewEvaluator(cfg)
	require.NoError(t, err)

	d := eval.Evaluate("evm:11155111", Facts{Destinations: []string{"0xdead"}})
	assert.Equal(t, VerdictSecondFactor, d.Verdict)
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], "deny list")
}

func TestEvaluate_OffModeAllowsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeOff
	eval, err := NewEvaluator(cfg)
	require.NoError(t, err)

	d := eval.Evaluate("evm:1", Facts{Mainnet: true, Destinations: []string{"0xdead"}, Flags: []Flag{FlagUnlimitedApproval}})
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestEvaluate_MainnetSecondFactorDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MainnetRequiresSecondFactor = boolPtr(false)
	eval, err := NewEvaluator(cfg)
	require.NoError(t, err)

	assert.False(t, eval.RequiresSecondFactor("evm:1", Facts{Mainnet: true, Value: wei("1")}))
}

func TestDefaultConfig(t *testing.T) {
	eval, err := NewEvaluator(Default())
	require.NoError(t, err)
	assert.Equal(t, ModeBlock, eval.Config().EffectiveMode())
	assert.True(t, eval.RequiresSecondFactor("sui:mainnet", Facts{Mainnet: true}))
	assert.True(t, eval.RequiresSecondFactor("evm:5", Facts{Flags: []Flag{FlagUnlimitedApproval}}))
	assert.False(t, eval.RequiresSecondFactor("sui:testnet", Facts{}))
}

func TestMandatoryLinks(t *testing.T) {
	eval, err := NewEvaluator(testConfig())
	require.NoError(t, err)
	assert.True(t, eval.MandatoryLinks("evm:8453"))
	assert.False(t, eval.MandatoryLinks("evm:1"))
	assert.False(t, eval.MandatoryLinks("sui:mainnet"))
}

func TestUpdate_KeepsPreviousOnError(t *testing.T) {
	eval, err := NewEvaluator(testConfig())
	require.NoError(t, err)

	bad := testConfig()
	bad.Chains["evm"] = ChainRule{LargeValueThreshold: "1.5"}
	require.Error(t, eval.Update(bad))

	assert.Equal(t, "1000000000000000000", eval.Config().Chains["evm"].LargeValueThreshold)
}

func TestDecisionMessage(t *testing.T) {
	mc := MessageContext{ID: "evm_confirm_1_aa", ChainKey: "evm:1", SummaryHash: "0xh", Token: "abcdefabcdef", ExpiresInMs: 599_001}

	msg := DecisionMessage(Decision{Verdict: VerdictSecondFactor, Reasons: []string{"mainnet transaction"}, Warnings: []string{"w1"}}, mc)
	assert.Contains(t, msg, "Second confirmation required for evm_confirm_1_aa (mainnet transaction)")
	assert.Contains(t, msg, "token=abcdefabcdef")
	assert.Contains(t, msg, "within 600s")
	assert.Contains(t, msg, "WARNING: w1")

	msg = DecisionMessage(Decision{Verdict: VerdictAllow}, mc)
	assert.Equal(t, "Confirm evm_confirm_1_aa with summary_hash=0xh within 600s.", msg)

	msg = DecisionMessage(Decision{Verdict: VerdictDeny, Reasons: []string{"r1", "r2"}}, mc)
	assert.Equal(t, "Transaction on evm:1 denied by policy: r1; r2.", msg)
}

package policy

import (
	"fmt"
	"math/big"
	"strings"
)

// Mode selects how deny rules are enforced.
type Mode string

const (
	// ModeOff disables policy entirely.
	ModeOff Mode = "off"
	// ModeWarn turns denials into a second-factor requirement plus warnings.
	ModeWarn Mode = "warn"
	// ModeBlock rejects denied transactions.
	ModeBlock Mode = "block"
)

// Flag is a risk marker an adapter attaches to Facts.
type Flag string

const (
	FlagUnlimitedApproval   Flag = "unlimited_approval"
	FlagApproval            Flag = "approval"
	FlagSystemTransfer      Flag = "system_transfer"
	FlagNonOwnedDestination Flag = "non_owned_destination"
)

// Config is the policy configuration. Thresholds are decimal strings in the
// chain's base unit (wei, lamports, MIST) so they never pass through floats.
type Config struct {
	Mode                        Mode                 `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	MainnetRequiresSecondFactor *bool                `json:"mainnet_requires_second_factor,omitempty" yaml:"mainnet_requires_second_factor,omitempty" toml:"mainnet_requires_second_factor,omitempty"`
	RiskyFlags                  []Flag               `json:"risky_flags,omitempty" yaml:"risky_flags,omitempty" toml:"risky_flags,omitempty"`
	Chains                      map[string]ChainRule `json:"chains,omitempty" yaml:"chains,omitempty" toml:"chains,omitempty"`
}

// ChainRule holds the rules for one chain key ("evm:1") or family ("evm").
type ChainRule struct {
	// LargeValueThreshold requires a second factor at or above this value.
	LargeValueThreshold string `json:"large_value_threshold,omitempty" yaml:"large_value_threshold,omitempty" toml:"large_value_threshold,omitempty"`
	// MaxValue denies transactions moving more than this value.
	MaxValue string `json:"max_value,omitempty" yaml:"max_value,omitempty" toml:"max_value,omitempty"`
	// AssetThresholds overrides LargeValueThreshold per token asset.
	AssetThresholds map[string]string `json:"asset_thresholds,omitempty" yaml:"asset_thresholds,omitempty" toml:"asset_thresholds,omitempty"`
	// Allow, when non-empty, is the only set of permitted destinations.
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty" toml:"allow,omitempty"`
	// Deny lists forbidden destinations (addresses or program ids).
	Deny []string `json:"deny,omitempty" yaml:"deny,omitempty" toml:"deny,omitempty"`
	// MandatoryLinks makes every link into this chain blocking.
	MandatoryLinks bool `json:"mandatory_links,omitempty" yaml:"mandatory_links,omitempty" toml:"mandatory_links,omitempty"`
}

// Default returns the built-in policy: block mode, mainnet second factor,
// unlimited approvals treated as risky.
func Default() Config {
	return Config{
		Mode:       ModeBlock,
		RiskyFlags: []Flag{FlagUnlimitedApproval},
	}
}

// EffectiveMode returns Mode with the block default applied.
func (c Config) EffectiveMode() Mode {
	if c.Mode == "" {
		return ModeBlock
	}
	return c.Mode
}

// MainnetSecondFactor reports whether mainnet transactions need a token.
// Defaults to true.
func (c Config) MainnetSecondFactor() bool {
	return c.MainnetRequiresSecondFactor == nil || *c.MainnetRequiresSecondFactor
}

// Rule returns the rule for chainKey, trying the exact key first and then
// its family prefix.
func (c Config) Rule(chainKey string) (ChainRule, bool) {
	if r, ok := c.Chains[chainKey]; ok {
		return r, true
	}
	family, _, _ := cutFamily(chainKey)
	r, ok := c.Chains[family]
	return r, ok
}

func cutFamily(chainKey string) (family, rest string, found bool) {
	return strings.Cut(chainKey, ":")
}

type compiledRule struct {
	largeValue *big.Int
	maxValue   *big.Int
	assets     map[string]*big.Int
	allow      map[string]bool
	deny       map[string]bool
	mandatory  bool
}

func compileRule(key string, r ChainRule) (compiledRule, error) {
	cr := compiledRule{
		assets:    make(map[string]*big.Int, len(r.AssetThresholds)),
		allow:     normalizeSet(r.Allow),
		deny:      normalizeSet(r.Deny),
		mandatory: r.MandatoryLinks,
	}
	var err error
	if cr.largeValue, err = parseAmount(r.LargeValueThreshold); err != nil {
		return cr, fmt.Errorf("chains.%s.large_value_threshold: %w", key, err)
	}
	if cr.maxValue, err = parseAmount(r.MaxValue); err != nil {
		return cr, fmt.Errorf("chains.%s.max_value: %w", key, err)
	}
	for asset, raw := range r.AssetThresholds {
		v, err := parseAmount(raw)
		if err != nil {
			return cr, fmt.Errorf("chains.%s.asset_thresholds.%s: %w", key, asset, err)
		}
		cr.assets[normalize(asset)] = v
	}
	return cr, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: want a non-negative decimal integer", s)
	}
	return v, nil
}

func normalizeSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[normalize(it)] = true
	}
	return set
}

// normalize lowercases hex addresses; base58 keys are case-sensitive and
// kept as written.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}

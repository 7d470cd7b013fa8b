package policy

import (
	"fmt"
	"math/big"
	"slices"
	"sync/atomic"
)

// Facts are the security-relevant properties of a payload.
type Facts struct {
	Mainnet      bool
	Value        *big.Int // nil when the transaction moves no value
	Asset        string   // "" for the native asset
	Destinations []string // recipients, spenders or program ids
	Flags        []Flag
}

// HasFlag reports whether f carries flag.
func (f Facts) HasFlag(flag Flag) bool {
	return slices.Contains(f.Flags, flag)
}

// Verdict is the outcome class of a Decision.
type Verdict string

const (
	VerdictAllow        Verdict = "allow"
	VerdictSecondFactor Verdict = "second_factor"
	VerdictDeny         Verdict = "deny"
)

// Decision is the result of evaluating Facts.
type Decision struct {
	Verdict  Verdict  `json:"verdict"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Denied reports whether the transaction must not proceed.
func (d Decision) Denied() bool { return d.Verdict == VerdictDeny }

// RequiresSecondFactor reports whether a token is needed.
func (d Decision) RequiresSecondFactor() bool { return d.Verdict == VerdictSecondFactor }

type snapshot struct {
	cfg   Config
	rules map[string]compiledRule
	risky map[Flag]bool
}

// Evaluator evaluates Facts against the current Config.
//
// Thread-safety: Evaluate may run concurrently with Update; each call sees
// one complete config.
type Evaluator struct {
	snap atomic.Pointer[snapshot]
}

// NewEvaluator compiles cfg into an Evaluator.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	e := &Evaluator{}
	if err := e.Update(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Update swaps in a new config. On error the previous config stays active.
func (e *Evaluator) Update(cfg Config) error {
	snap := &snapshot{
		cfg:   cfg,
		rules: make(map[string]compiledRule, len(cfg.Chains)),
		risky: make(map[Flag]bool, len(cfg.RiskyFlags)),
	}
	for key, r := range cfg.Chains {
		cr, err := compileRule(key, r)
		if err != nil {
			return err
		}
		snap.rules[key] = cr
	}
	for _, f := range cfg.RiskyFlags {
		snap.risky[f] = true
	}
	e.snap.Store(snap)
	return nil
}

// Config returns the active config.
func (e *Evaluator) Config() Config {
	return e.snap.Load().cfg
}

// Evaluate returns the decision for facts on chainKey.
func (e *Evaluator) Evaluate(chainKey string, facts Facts) Decision {
	snap := e.snap.Load()
	mode := snap.cfg.EffectiveMode()
	if mode == ModeOff {
		return Decision{Verdict: VerdictAllow}
	}

	rule := snap.rule(chainKey)

	var denies []string
	for _, dst := range facts.Destinations {
		n := normalize(dst)
		if rule.deny[n] {
			denies = append(denies, fmt.Sprintf("destination %s is on the deny list", dst))
		}
		if len(rule.allow) > 0 && !rule.allow[n] {
			denies = append(denies, fmt.Sprintf("destination %s is not on the allow list", dst))
		}
	}
	if rule.maxValue != nil && facts.Value != nil && facts.Value.Cmp(rule.maxValue) > 0 {
		denies = append(denies, fmt.Sprintf("value %s exceeds max %s", facts.Value, rule.maxValue))
	}

	var reasons []string
	if facts.Mainnet && snap.cfg.MainnetSecondFactor() {
		reasons = append(reasons, "mainnet transaction")
	}
	if threshold := rule.threshold(facts.Asset); threshold != nil && facts.Value != nil && facts.Value.Cmp(threshold) >= 0 {
		reasons = append(reasons, fmt.Sprintf("value %s at or above threshold %s", facts.Value, threshold))
	}
	for _, f := range facts.Flags {
		if snap.risky[f] {
			reasons = append(reasons, fmt.Sprintf("risky operation: %s", f))
		}
	}

	switch {
	case len(denies) > 0 && mode == ModeBlock:
		return Decision{Verdict: VerdictDeny, Reasons: denies}
	case len(denies) > 0:
		return Decision{Verdict: VerdictSecondFactor, Reasons: append(reasons, denies...), Warnings: denies}
	case len(reasons) > 0:
		return Decision{Verdict: VerdictSecondFactor, Reasons: reasons}
	}
	return Decision{Verdict: VerdictAllow}
}

// RequiresSecondFactor is shorthand for Evaluate(...).RequiresSecondFactor().
func (e *Evaluator) RequiresSecondFactor(chainKey string, facts Facts) bool {
	return e.Evaluate(chainKey, facts).RequiresSecondFactor()
}

// MandatoryLinks reports whether links into chainKey are blocking by policy.
func (e *Evaluator) MandatoryLinks(chainKey string) bool {
	return e.snap.Load().rule(chainKey).mandatory
}

func (s *snapshot) rule(chainKey string) compiledRule {
	if r, ok := s.rules[chainKey]; ok {
		return r
	}
	family, _, _ := cutFamily(chainKey)
	return s.rules[family]
}

func (r compiledRule) threshold(asset string) *big.Int {
	if asset != "" {
		if v, ok := r.assets[normalize(asset)]; ok {
			return v
		}
		// Token amounts are not comparable to native thresholds.
		return nil
	}
	return r.largeValue
}

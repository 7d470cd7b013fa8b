package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txgate/internal/policy"
	"github.com/roach88/txgate/internal/testutil"
)

// Scenario is a deterministic confirmation flow with assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy replaces the built-in policy when set.
	Policy *policy.Config `yaml:"policy,omitempty"`

	// SecondFactorMode is single_step (default) or two_step.
	SecondFactorMode string `yaml:"second_factor_mode,omitempty"`

	// Flow contains the engine operations to run, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace, audit log and store state.
	Assertions []Assertion `yaml:"assertions"`
}

// Flow step operations.
const (
	OpCreate    = "create"
	OpConfirm   = "confirm"
	OpRetry     = "retry"
	OpSkip      = "skip"
	OpLink      = "link"
	OpAdvance   = "advance"
	OpSweep     = "sweep"
	OpFailNext  = "fail_next"
	OpSetPolicy = "set_policy"
)

// FlowStep is one engine operation. Which fields apply depends on Op.
type FlowStep struct {
	Op string `yaml:"op"`

	// Ref is the record alias. create binds it; other ops resolve it.
	Ref string `yaml:"ref,omitempty"`

	// create
	ChainKey string                `yaml:"chain_key,omitempty"`
	Payload  *testutil.FakePayload `yaml:"payload,omitempty"`
	TTLMs    int64                 `yaml:"ttl_ms,omitempty"`
	Label    string                `yaml:"label,omitempty"`

	// confirm and retry. Hash overrides the hash returned at creation;
	// WithToken presents the token returned at creation.
	Hash      string `yaml:"hash,omitempty"`
	Token     string `yaml:"token,omitempty"`
	WithToken bool   `yaml:"with_token,omitempty"`

	// skip
	Reason string `yaml:"reason,omitempty"`

	// link: Ref is the dependent.
	Primary   string `yaml:"primary,omitempty"`
	Mandatory bool   `yaml:"mandatory,omitempty"`

	// advance
	Ms int64 `yaml:"ms,omitempty"`

	// fail_next
	Errors []string `yaml:"errors,omitempty"`

	// set_policy
	Policy *policy.Config `yaml:"policy,omitempty"`

	// Expect validates the step outcome. If nil, any outcome is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected step outcome. Empty fields are not
// checked.
type ExpectClause struct {
	// Error is the expected error code; "none" requires success.
	Error string `yaml:"error,omitempty"`

	// Status is the record status reported by confirm, retry or skip.
	Status string `yaml:"status,omitempty"`

	// Decision is the policy verdict reported by create.
	Decision string `yaml:"decision,omitempty"`

	// Removed is the sweep count.
	Removed *int `yaml:"removed,omitempty"`

	// Warnings is the minimum number of warnings confirm or create report.
	Warnings int `yaml:"warnings,omitempty"`
}

// Assertion validates the run as a whole.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": the record behind Ref has Status ("missing" when gone)
	// - "broadcast_count": the adapter was called Count times
	// - "trace_contains": a step with Op, Ref and Outcome exists
	// - "audit_order": Events appear in order for Ref
	// - "audit_count": Event appears Count times for Ref
	Type string `yaml:"type"`

	Ref     string   `yaml:"ref,omitempty"`
	Status  string   `yaml:"status,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Op      string   `yaml:"op,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Event   string   `yaml:"event,omitempty"`
	Events  []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState     = "final_state"
	AssertBroadcastCount = "broadcast_count"
	AssertTraceContains  = "trace_contains"
	AssertAuditOrder     = "audit_order"
	AssertAuditCount     = "audit_count"
)

// StatusMissing is the final_state status of an expired or swept record.
const StatusMissing = "missing"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	switch s.SecondFactorMode {
	case "", "single_step", "two_step":
	default:
		return fmt.Errorf("second_factor_mode %q must be single_step or two_step", s.SecondFactorMode)
	}
	if s.Policy != nil {
		if err := policy.Validate(*s.Policy); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}

	refs := make(map[string]bool)
	for i, step := range s.Flow {
		if err := validateStep(i, step, refs); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, refs); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks a flow step. refs collects aliases bound so far so
// that a step cannot use a record before it is created.
func validateStep(i int, step FlowStep, refs map[string]bool) error {
	needRef := func() error {
		if step.Ref == "" {
			return fmt.Errorf("flow[%d]: ref is required for %s", i, step.Op)
		}
		if !refs[step.Ref] {
			return fmt.Errorf("flow[%d]: ref %q is not created before use", i, step.Ref)
		}
		return nil
	}

	switch step.Op {
	case OpCreate:
		if step.Ref == "" {
			return fmt.Errorf("flow[%d]: ref is required for create", i)
		}
		if refs[step.Ref] {
			return fmt.Errorf("flow[%d]: ref %q is already bound", i, step.Ref)
		}
		if step.ChainKey == "" {
			return fmt.Errorf("flow[%d]: chain_key is required for create", i)
		}
		if step.Payload == nil {
			return fmt.Errorf("flow[%d]: payload is required for create", i)
		}
		refs[step.Ref] = true
	case OpConfirm, OpRetry, OpSkip:
		if err := needRef(); err != nil {
			return err
		}
	case OpLink:
		if err := needRef(); err != nil {
			return err
		}
		if !refs[step.Primary] {
			return fmt.Errorf("flow[%d]: primary %q is not created before use", i, step.Primary)
		}
	case OpAdvance:
		if step.Ms <= 0 {
			return fmt.Errorf("flow[%d]: ms must be positive for advance", i)
		}
	case OpSweep:
	case OpFailNext:
		if len(step.Errors) == 0 {
			return fmt.Errorf("flow[%d]: errors is required for fail_next", i)
		}
	case OpSetPolicy:
		if step.Policy == nil {
			return fmt.Errorf("flow[%d]: policy is required for set_policy", i)
		}
		if err := policy.Validate(*step.Policy); err != nil {
			return fmt.Errorf("flow[%d]: policy: %w", i, err)
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

func validateAssertion(index int, a Assertion, refs map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Ref != "" && !refs[a.Ref] {
		return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Ref == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: ref and status are required for final_state", index)
		}
	case AssertBroadcastCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for broadcast_count", index)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertAuditOrder:
		if a.Ref == "" || len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: ref and events are required for audit_order", index)
		}
	case AssertAuditCount:
		if a.Ref == "" || a.Event == "" {
			return fmt.Errorf("assertions[%d]: ref and event are required for audit_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for audit_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package confirm

import "encoding/json"

// Record is a staged transaction awaiting confirmation.
type Record struct {
	ID          string `json:"id"`
	ChainKey    string `json:"chain_key"`
	Payload     []byte `json:"payload,omitempty"`
	SummaryHash string `json:"summary_hash"`
	Status      Status `json:"status"`

	CreatedAtMs int64 `json:"created_at_ms"`
	UpdatedAtMs int64 `json:"updated_at_ms"`
	ExpiresAtMs int64 `json:"expires_at_ms"`

	BroadcastID string `json:"broadcast_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	SignedAtMs  int64  `json:"signed_at_ms,omitempty"`
	RawTxPrefix string `json:"raw_tx_prefix,omitempty"`
	Attempts    int    `json:"attempts"`

	// Last pre-execution simulation, for adapters that run one.
	LastDryRun      json.RawMessage `json:"last_dry_run,omitempty"`
	LastDryRunError string          `json:"last_dry_run_error,omitempty"`

	SecondFactor *SecondFactor `json:"second_factor,omitempty"`
	LinkedIDs    []string      `json:"linked_ids,omitempty"`
	Metadata     Metadata      `json:"metadata"`
}

// SecondFactor is present only when policy required extra proof at creation.
// Once Satisfied is true it never changes for the record's lifetime.
type SecondFactor struct {
	Token         string `json:"token,omitempty"`
	Satisfied     bool   `json:"satisfied"`
	SatisfiedAtMs int64  `json:"satisfied_at_ms,omitempty"`
}

// Metadata is the typed side channel carried with a record. The engine
// stores it and hands it to the chain adapter; it never drives a transition.
type Metadata struct {
	SourceTool string                `json:"source_tool,omitempty"`
	Label      string                `json:"label,omitempty"`
	Summary    map[string]any        `json:"summary,omitempty"`
	Allowance  *AllowanceExpectation `json:"allowance,omitempty"`
	Extra      map[string]string     `json:"extra,omitempty"`
}

// AllowanceExpectation describes the token allowance a dependent transaction
// (typically a swap) needs before it can succeed.
type AllowanceExpectation struct {
	Token       string `json:"token"`
	Spender     string `json:"spender"`
	RequiredRaw string `json:"required_raw"`
}

// Outcome carries the fields written alongside a status transition.
type Outcome struct {
	BroadcastID string
	LastError   string
	SignedAtMs  int64
	RawTxPrefix string
}

// PayloadUpdate replaces a record's payload after a retry-time refresh.
// The record returns to pending with a new expiry; a second factor, if the
// record has one, is reissued unsatisfied under SecondFactorToken.
type PayloadUpdate struct {
	Payload           []byte
	SummaryHash       string
	ExpiresAtMs       int64
	SecondFactorToken string
}

// Dependency is a primary record that a dependent record was linked to.
type Dependency struct {
	PrimaryID string `json:"primary_id"`
	Status    Status `json:"status"`
	Mandatory bool   `json:"mandatory"`
	Expired   bool   `json:"expired"` // also true once the primary was swept
}

// ListFilter selects records for inspection.
type ListFilter struct {
	Status         Status
	ChainKey       string // exact chain key, "" for all
	Limit          int
	IncludePayload bool
}

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// NormalizedLimit clamps Limit into [1, MaxListLimit], defaulting to
// DefaultListLimit.
func (f ListFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Expired reports whether the record is past its expiry at nowMs.
func (r *Record) Expired(nowMs int64) bool {
	return nowMs > r.ExpiresAtMs
}

// RequiresSecondFactor reports whether confirmation still needs the token.
func (r *Record) RequiresSecondFactor() bool {
	return r.SecondFactor != nil && !r.SecondFactor.Satisfied
}

// ExpiresInMs returns the remaining lifetime, never negative.
func (r *Record) ExpiresInMs(nowMs int64) int64 {
	return max(r.ExpiresAtMs-nowMs, 0)
}

// Redacted returns a shallow copy without payload bytes.
func (r *Record) Redacted() *Record {
	cp := *r
	cp.Payload = nil
	return &cp
}

// WithoutToken returns a shallow copy with the second-factor token cleared.
// The token is only ever handed out by create and by a retry that
// refreshed the payload.
func (r *Record) WithoutToken() *Record {
	cp := *r
	if r.SecondFactor != nil {
		sf := *r.SecondFactor
		sf.Token = ""
		cp.SecondFactor = &sf
	}
	return &cp
}

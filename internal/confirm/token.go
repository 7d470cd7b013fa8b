package confirm

import "github.com/roach88/txgate/internal/canonical"

// TokenLength is the number of hex characters in a second-factor token,
// short enough to be typed by a human.
const TokenLength = 12

// DeriveToken returns the second-factor token for a record.
//
// The token is deterministic in (id, summaryHash, createdAtMs): anyone who
// received the creation response can re-derive it, while an observer who only
// saw the id cannot. It guards against accidental or drifted confirmations;
// it is NOT an authentication credential and carries no secret key.
func DeriveToken(id, summaryHash string, createdAtMs int64) string {
	h := canonical.MustHashObject(canonical.DomainSecondFactor, canonical.Object{
		"created_at_ms": createdAtMs,
		"id":            id,
		"summary_hash":  summaryHash,
	})
	return h[:TokenLength]
}

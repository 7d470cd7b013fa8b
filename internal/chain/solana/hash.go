package solana

import (
	"fmt"

	"github.com/roach88/txgate/internal/canonical"
)

// SummaryHash returns hex SHA-256(domain || 0x00 || message bytes).
// Signatures are not covered.
func (a *Adapter) SummaryHash(payload []byte) (string, error) {
	tx, err := DecodeTransaction(payload)
	if err != nil {
		return "", err
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("solana: encode message: %w", err)
	}
	return canonical.SHA256(canonical.DomainSolSummary, msg), nil
}

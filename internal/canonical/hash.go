package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Domain prefixes. The version suffix leaves room for algorithm migration.
const (
	DomainRecordID     = "txgate/record-id/v1"
	DomainSecondFactor = "txgate/second-factor/v1"
	DomainEVMSummary   = "txgate/evm-summary/v1"
	DomainSolSummary   = "txgate/solana-summary/v1"
	DomainSuiSummary   = "txgate/sui-summary/v1"
)

// Digest writes domain, a 0x00 separator and data into h and returns the sum.
// The separator prevents domain/data boundary ambiguity.
func Digest(h hash.Hash, domain string, data []byte) []byte {
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// SHA256 returns the hex SHA-256 of data under domain.
func SHA256(domain string, data []byte) string {
	return hex.EncodeToString(Digest(sha256.New(), domain, data))
}

// HashObject canonically encodes obj and hashes it under domain with SHA-256.
func HashObject(domain string, obj Object) (string, error) {
	data, err := Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return SHA256(domain, data), nil
}

// MustHashObject is like HashObject but panics on error.
func MustHashObject(domain string, obj Object) string {
	h, err := HashObject(domain, obj)
	if err != nil {
		panic(err)
	}
	return h
}

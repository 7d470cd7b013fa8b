// Package canonical produces RFC 8785 canonical JSON and domain-separated
// digests over it.
//
// Every hash the confirmation engine relies on (summary hashes, second-factor
// tokens, record IDs) is computed from canonical bytes produced here, so the
// same logical input yields the same digest across processes and restarts.
//
// Canonical JSON rules:
//   - Object keys sorted by UTF-16 code units
//   - Strings NFC normalized, no HTML escaping
//   - Integers only (floats are rejected)
//   - null is rejected; callers omit absent optional fields instead
package canonical

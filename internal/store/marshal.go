package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/txgate/internal/confirm"
)

// marshalMetadata converts Metadata to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches what callers sent.
func marshalMetadata(md confirm.Metadata) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(md); err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalMetadata parses stored metadata. Legacy rows have none.
func unmarshalMetadata(data sql.NullString) (confirm.Metadata, error) {
	var md confirm.Metadata
	if !data.Valid || data.String == "" {
		return md, nil
	}
	dec := json.NewDecoder(strings.NewReader(data.String))
	dec.UseNumber()
	if err := dec.Decode(&md); err != nil {
		return md, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return md, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

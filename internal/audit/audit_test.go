package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgate/internal/confirm"
)

func TestRecord_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	rec := &confirm.Record{
		ID:           "evm_confirm_1_abcd",
		ChainKey:     "evm:1",
		Status:       confirm.StatusSent,
		SummaryHash:  "0xaa",
		Payload:      []byte("secret payload"),
		SecondFactor: &confirm.SecondFactor{Token: "deadbeef0000"},
		Metadata:     confirm.Metadata{SourceTool: "swap"},
	}

	l.Record(testContext(t), EventCreated, rec)
	l.Record(testContext(t), EventSent, rec, slog.String("broadcast_id", "0x1234"))

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "created", lines[0]["msg"])
	assert.Equal(t, "created", lines[0]["event"])
	assert.Equal(t, "sent", lines[1]["event"])
	assert.Equal(t, "evm_confirm_1_abcd", lines[0]["id"])
	assert.Equal(t, "swap", lines[0]["source_tool"])
	assert.Equal(t, "0x1234", lines[1]["broadcast_id"])

	assert.NotContains(t, buf.String(), "secret payload")
	assert.NotContains(t, buf.String(), "deadbeef0000")
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	rec := &confirm.Record{ID: "x", Status: confirm.StatusPending}

	for i := 0; i < 2; i++ {
		l, err := Open(path)
		require.NoError(t, err)
		l.Record(testContext(t), EventCreated, rec)
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

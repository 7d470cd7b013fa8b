// Package audit writes the confirmation lifecycle as JSON lines.
//
// Each line is one slog record: time, level, msg, event (the same name as
// msg) and the record fields. Payload bytes and second-factor tokens are
// never written.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/txgate/internal/confirm"
)

// Lifecycle events.
const (
	EventCreated               = "created"
	EventSecondFactorSatisfied = "second_factor_satisfied"
	EventConsumed              = "consumed"
	EventSent                  = "sent"
	EventFailed                = "failed"
	EventSkipped               = "skipped"
	EventLinked                = "linked"
	EventRefreshed             = "refreshed"
	EventDryRun                = "dry_run"
)

// Log is a JSONL audit sink.
//
// Thread-safety: safe for concurrent use; slog handlers serialize writes.
type Log struct {
	logger *slog.Logger
	closer io.Closer
}

// New writes audit lines to w.
func New(w io.Writer) *Log {
	return &Log{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// Open appends audit lines to the file at path, creating parent
// directories as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	l := New(f)
	l.closer = f
	return l, nil
}

// Record writes one event for rec.
func (l *Log) Record(ctx context.Context, event string, rec *confirm.Record, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", event),
		slog.String("id", rec.ID),
		slog.String("chain_key", rec.ChainKey),
		slog.String("status", string(rec.Status)),
		slog.String("summary_hash", rec.SummaryHash),
	}
	if rec.Metadata.SourceTool != "" {
		base = append(base, slog.String("source_tool", rec.Metadata.SourceTool))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, event, append(base, attrs...)...)
}

// Close closes the underlying file, if Open created it.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/revittco/mcpmux/internal/metrics"
	"github.com/revittco/mcpmux/internal/store"
)

const maxSummaryLen = 256

// Entry describes one dispatch or lifecycle action to be logged.
type Entry struct {
	RequestType string
	ClientID    string
	ServerID    string
	ServerName  string
	Target      string
	Params      any
	Duration    time.Duration
	Err         error
	ErrorCode   string
	Response    any
}

// Logger turns entries into audit records with token material stripped.
type Logger struct {
	store   store.AuditStore
	bus     *Bus
	metrics *metrics.Metrics
	hints   []string
}

// NewLogger creates an audit Logger. bus and m may be nil.
func NewLogger(s store.AuditStore, bus *Bus, m *metrics.Metrics, redactHints ...string) *Logger {
	return &Logger{store: s, bus: bus, metrics: m, hints: redactHints}
}

// Record persists e and publishes it to live subscribers. Sink failures
// are logged and returned but never alter the dispatch outcome.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	rec := &store.AuditRecord{
		Timestamp:   time.Now().UTC(),
		RequestType: e.RequestType,
		ClientID:    e.ClientID,
		ServerID:    e.ServerID,
		ServerName:  e.ServerName,
		Target:      e.Target,
		LatencyMs:   int(e.Duration.Milliseconds()),
		Status:      store.StatusSuccess,
	}
	if e.Params != nil {
		if raw, err := json.Marshal(e.Params); err == nil {
			rec.ParamsRedacted = Redact(StripMeta(raw), l.hints)
		}
	}
	if e.Err != nil {
		rec.Status = store.StatusError
		rec.ErrorCode = e.ErrorCode
		rec.ErrorMessage = truncate(e.Err.Error())
	} else if e.Response != nil {
		rec.ResponseSummary, rec.ResponseSize = Summarize(e.Response)
	}

	l.metrics.ObserveDispatch(rec.RequestType, rec.Status, e.Duration)

	if l.store != nil {
		if err := l.store.InsertAuditRecord(ctx, rec); err != nil {
			slog.Error("audit insert failed", "request_type", rec.RequestType, "error", err)
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	if l.bus != nil {
		l.bus.Publish(rec)
	}
	return nil
}

// Summarize renders v as truncated JSON and reports the full encoded size.
func Summarize(v any) (string, int) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", 0
	}
	return truncate(string(Redact(raw, nil))), len(raw)
}

func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	return s[:maxSummaryLen] + "..."
}

// Package audit emits structured pipeline events (detected, classified,
// parsed, match_created, error). Recording is best-effort on every path:
// failures are logged and swallowed, never propagated into the pipeline.
package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/obslog"
)

// Event types emitted by the pipeline.
const (
	EventDetected     = "detected"
	EventClassified   = "classified"
	EventParsed       = "parsed"
	EventMatchCreated = "match_created"
	EventError        = "error"
)

// Recorder accepts pipeline events. Implementations must never fail the
// caller.
type Recorder interface {
	Event(ctx context.Context, eventType, subjectID string, metadata map[string]any)
}

// EventStore is the persistence surface the DB recorder needs.
type EventStore interface {
	InsertAuditEvent(ctx context.Context, eventType, subjectID string, metadata []byte) error
}

// DBRecorder writes events to the audit table and optionally forwards them to
// an admin webhook.
type DBRecorder struct {
	store   EventStore
	webhook *WebhookNotifier
}

func NewDBRecorder(store EventStore, webhook *WebhookNotifier) *DBRecorder {
	return &DBRecorder{store: store, webhook: webhook}
}

func (r *DBRecorder) Event(ctx context.Context, eventType, subjectID string, metadata map[string]any) {
	if r == nil {
		return
	}
	var raw []byte
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			obslog.L().Warn("audit_metadata_marshal_failed", zap.String("event", eventType), zap.Error(err))
		} else {
			raw = b
		}
	}
	if r.store != nil {
		if err := r.store.InsertAuditEvent(ctx, eventType, subjectID, raw); err != nil {
			obslog.L().Warn("audit_write_failed",
				zap.String("event", eventType),
				zap.String("subject", subjectID),
				zap.Error(err),
			)
		}
	}
	if r.webhook != nil {
		r.webhook.Notify(ctx, eventType, subjectID, raw)
	}
}

// Nop discards all events. Used by the diagnostic CLI.
type Nop struct{}

func (Nop) Event(context.Context, string, string, map[string]any) {}

// Package audit is the append-only trail the other components write
// lifecycle events to. It is a sink: nothing in the core reads it back.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/model"
)

// Actions recorded by the core.
const (
	ActionAnalysisStarted      = "analysis_started"
	ActionAnalysisCompleted    = "analysis_completed"
	ActionAPIAnalysisRequested = "api_analysis_requested"
	ActionAPIKeyCreated        = "api_key_created"
	ActionAPIKeyRevoked        = "api_key_revoked"
)

// Sink persists entries. The repository-backed sink writes audit_logs rows;
// tests and dev mode use the in-memory one.
type Sink interface {
	Append(ctx context.Context, e *model.AuditEntry) error
}

// Trail records events. A failed write is logged and swallowed; the audit
// trail must never abort the operation it is attached to.
type Trail struct {
	sink Sink
	log  *zap.SugaredLogger
}

// New constructs a Trail.
func New(sink Sink, log *zap.SugaredLogger) *Trail {
	return &Trail{sink: sink, log: log}
}

// Record appends one event.
func (t *Trail) Record(ctx context.Context, userID, action, resourceType, resourceID string, details model.Map) {
	entry := &model.AuditEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	if err := t.sink.Append(ctx, entry); err != nil {
		t.log.Errorw("audit write failed",
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
			"error", err,
		)
	}
}

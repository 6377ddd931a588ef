package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/memstore"
	"github.com/veristamp/veristamp/internal/model"
)

func TestRecordAppendsEntry(t *testing.T) {
	store := memstore.New()
	trail := New(store.Audit(), zap.NewNop().Sugar())

	trail.Record(context.Background(), "user-1", ActionAnalysisStarted, "analysis", "an-1", model.Map{"mode": "full"})

	entries := store.Audit().Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "user-1", e.UserID)
	assert.Equal(t, ActionAnalysisStarted, e.Action)
	assert.Equal(t, "analysis", e.ResourceType)
	assert.Equal(t, "an-1", e.ResourceID)
	assert.Equal(t, "full", e.Details["mode"])
	assert.False(t, e.CreatedAt.IsZero())
}

type failingSink struct{ calls int }

func (f *failingSink) Append(context.Context, *model.AuditEntry) error {
	f.calls++
	return assert.AnError
}

func TestRecordSwallowsSinkFailure(t *testing.T) {
	sink := &failingSink{}
	trail := New(sink, zap.NewNop().Sugar())

	// Must not panic or surface the error.
	trail.Record(context.Background(), "user-1", ActionAnalysisCompleted, "analysis", "an-1", nil)
	assert.Equal(t, 1, sink.calls)
}

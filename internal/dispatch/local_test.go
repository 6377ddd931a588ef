package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/queue"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingRunner) Run(_ context.Context, mediaFileID string, _ model.AnalysisMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, mediaFileID)
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestLocalExecutesDispatchedJobs(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewLocal(runner, 2, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Dispatch(ctx, queue.AnalyzePayload{
			MediaFileID:  fmt.Sprintf("media-%d", i),
			AnalysisType: "full",
		}))
	}
	require.Eventually(t, func() bool { return runner.count() == 5 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
}

func TestLocalSkipsInvalidMode(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewLocal(runner, 1, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Dispatch(ctx, queue.AnalyzePayload{MediaFileID: "bad", AnalysisType: "psychic"}))
	require.NoError(t, pool.Dispatch(ctx, queue.AnalyzePayload{MediaFileID: "good", AnalysisType: "full"}))

	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"good"}, runner.runs)
}

func TestLocalDispatchFailsWhenFull(t *testing.T) {
	// Workers never started, so the buffer fills and the next dispatch
	// reports backpressure instead of blocking the request path.
	pool := NewLocal(&recordingRunner{}, 1, zap.NewNop().Sugar())
	ctx := context.Background()
	var err error
	for i := 0; i < 200; i++ {
		if err = pool.Dispatch(ctx, queue.AnalyzePayload{MediaFileID: "m", AnalysisType: "full"}); err != nil {
			break
		}
	}
	require.Error(t, err)
}

func TestLocalDispatchHonorsCancelledContext(t *testing.T) {
	pool := NewLocal(&recordingRunner{}, 1, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Buffer has room, so the send still wins; fill it first.
	for i := 0; i < 200; i++ {
		if pool.Dispatch(context.Background(), queue.AnalyzePayload{MediaFileID: "m", AnalysisType: "full"}) != nil {
			break
		}
	}
	err := pool.Dispatch(ctx, queue.AnalyzePayload{MediaFileID: "m", AnalysisType: "full"})
	assert.ErrorIs(t, err, context.Canceled)
}

// Package dispatch provides an in-process worker pool implementing the same
// dispatch surface as the asynq-backed queue, for single-process dev runs
// and tests.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/queue"
)

// Runner executes one analysis job.
type Runner interface {
	Run(ctx context.Context, mediaFileID string, mode model.AnalysisMode) error
}

// Local fans dispatched jobs out to a fixed pool of goroutines.
type Local struct {
	runner  Runner
	jobs    chan queue.AnalyzePayload
	workers int
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
	once    sync.Once
}

// NewLocal constructs a Local pool.
func NewLocal(runner Runner, workers int, log *zap.SugaredLogger) *Local {
	if workers <= 0 {
		workers = 1
	}
	return &Local{
		runner:  runner,
		jobs:    make(chan queue.AnalyzePayload, 128),
		workers: workers,
		log:     log,
	}
}

// Start launches the workers. They drain until the context is cancelled.
func (l *Local) Start(ctx context.Context) {
	l.once.Do(func() {
		for i := 0; i < l.workers; i++ {
			l.wg.Add(1)
			go l.work(ctx)
		}
	})
}

func (l *Local) work(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-l.jobs:
			mode, ok := model.ParseMode(job.AnalysisType)
			if !ok {
				l.log.Errorw("invalid analysis mode in job", "media_file_id", job.MediaFileID, "analysis_type", job.AnalysisType)
				continue
			}
			if err := l.runner.Run(ctx, job.MediaFileID, mode); err != nil {
				l.log.Errorw("analysis job failed", "media_file_id", job.MediaFileID, "error", err)
			}
		}
	}
}

// Dispatch implements the same contract as queue.Queue.Dispatch: it returns
// once the job is queued, never after it completes.
func (l *Local) Dispatch(ctx context.Context, payload queue.AnalyzePayload) error {
	select {
	case l.jobs <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("dispatch queue full")
	}
}

// Wait blocks until all workers have exited. Call after cancelling the
// context passed to Start.
func (l *Local) Wait() {
	l.wg.Wait()
}

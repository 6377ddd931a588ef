// Package worker plugs the analysis engine into the asynq worker loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/analysis"
	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/queue"
)

// Processor handles analysis tasks.
type Processor struct {
	engine *analysis.Engine
	log    *zap.SugaredLogger
}

// NewProcessor constructs a worker processor.
func NewProcessor(engine *analysis.Engine, log *zap.SugaredLogger) *Processor {
	return &Processor{engine: engine, log: log}
}

// Handler registers the analysis job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskAnalyzeMedia, p.handleAnalyze)
	return mux
}

func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var payload queue.AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	mode, ok := model.ParseMode(payload.AnalysisType)
	if !ok {
		// Malformed payloads cannot succeed on retry.
		p.log.Errorw("invalid analysis mode in task", "media_file_id", payload.MediaFileID, "analysis_type", payload.AnalysisType)
		return fmt.Errorf("invalid analysis mode %q: %w", payload.AnalysisType, asynq.SkipRetry)
	}
	return p.engine.Run(ctx, payload.MediaFileID, mode)
}

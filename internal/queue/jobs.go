// Package queue defines the asynq task that hands an analysis off to
// background execution.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskAnalyzeMedia is scheduled each time media is submitted.
	TaskAnalyzeMedia = "analysis:run"
)

// AnalyzePayload is serialized into the task so the worker knows which media
// file to analyze. Dispatch is idempotent per media_file_id: the worker's
// pending->processing claim makes redelivered tasks no-ops.
type AnalyzePayload struct {
	MediaFileID  string `json:"media_file_id"`
	AnalysisType string `json:"analysis_type"`
}

// Queue enqueues analysis jobs onto asynq.
type Queue struct {
	client *asynq.Client
}

// NewQueue wraps an asynq client.
func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

// Dispatch enqueues one analysis job and returns without waiting for
// completion.
func (q *Queue) Dispatch(ctx context.Context, payload AnalyzePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskAnalyzeMedia, data)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue analysis task: %w", err)
	}
	return nil
}

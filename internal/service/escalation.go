package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/pkg/config"
	"github.com/noah-isme/sma-audit-api/pkg/jobs"
)

// AuditRetryQueue retries audit writes that failed on the best-effort path
// (post-commit writes on login). It runs a single worker that retries a
// failed entry in place, so entries are replayed in the order they were
// escalated. The request path never waits on it.
type AuditRetryQueue struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditRetryQueue builds the escalation queue around a recorder.
func NewAuditRetryQueue(recorder *RecorderService, cfg config.AuditConfig, logger *zap.Logger) *AuditRetryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := func(ctx context.Context, job jobs.Job) error {
		in, ok := job.Payload.(RecordInput)
		if !ok {
			logger.Error("audit escalation job carried unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		_, err := recorder.Record(ctx, in)
		return err
	}

	queue := jobs.NewQueue("audit-escalation", handler, jobs.QueueConfig{
		Workers:    1,
		BufferSize: cfg.QueueSize,
		MaxRetries: cfg.RetryAttempts,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})

	return &AuditRetryQueue{queue: queue, logger: logger}
}

// Start begins queue consumption.
func (e *AuditRetryQueue) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Stop halts the worker. Entries still buffered at shutdown are logged as
// dropped so they can be reconciled manually.
func (e *AuditRetryQueue) Stop() {
	e.queue.Stop()
}

// Escalate hands a failed audit write to the retry queue. Failure to even
// enqueue is logged with full context for manual reconciliation.
func (e *AuditRetryQueue) Escalate(in RecordInput) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(in.Event),
		Payload: in,
	}
	if err := e.queue.Enqueue(job); err != nil {
		fields := []zap.Field{
			zap.Error(err),
			zap.String("event", string(in.Event)),
			zap.Any("new_values", in.NewValues),
		}
		if in.Actor != nil {
			fields = append(fields, zap.String("actor_id", in.Actor.ID))
		}
		e.logger.Error("audit entry lost: escalation queue unavailable", fields...)
	}
}

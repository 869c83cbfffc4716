package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/medcare-hms/medcare/internal/observability"
)

// KeyPurger removes idempotency keys older than a retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges stale idempotency keys.
type IdempotencyCleanupJob struct {
	Keys      KeyPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	defer func() { j.Metrics.ObserveJob(TaskIdempotencyCleanup, err) }()
	retention := j.Retention
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	removed, err := j.Keys.Cleanup(ctx, retention)
	if err != nil {
		loggerOr(j.Logger).Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	loggerOr(j.Logger).Info("idempotency cleanup complete", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}

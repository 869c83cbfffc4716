package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/medcare-hms/medcare/internal/observability"
)

// StatsWarmer recomputes cached billing stats.
type StatsWarmer interface {
	WarmStats(ctx context.Context) error
}

// StatsWarmupJob keeps the billing dashboard cache hot.
type StatsWarmupJob struct {
	Billing StatsWarmer
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Handle processes TaskBillingStatsWarmup tasks.
func (j *StatsWarmupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Billing == nil {
		return errors.New("stats warmup: handler not configured")
	}
	defer func() { j.Metrics.ObserveJob(TaskBillingStatsWarmup, err) }()
	if err = j.Billing.WarmStats(ctx); err != nil {
		loggerOr(j.Logger).Error("warm billing stats", slog.Any("error", err))
		return err
	}
	loggerOr(j.Logger).Debug("billing stats warmed")
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

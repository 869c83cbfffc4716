package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/medcare-hms/medcare/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskBillingStatsWarmup recomputes the cached billing dashboard.
	TaskBillingStatsWarmup = "billing:stats_warmup"
	// TaskLowStockScan reports active items at or below their minimum stock.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskStockChanged inspects an item after a committed stock change.
	TaskStockChanged = "inventory:stock_changed"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ScheduledPayload carries scheduling metadata for periodic tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// StockChangedPayload is the queued form of inventory.StockChangedEvent.
type StockChangedPayload struct {
	ItemID       int64  `json:"item_id"`
	Name         string `json:"name"`
	Source       string `json:"source"`
	Reference    string `json:"reference"`
	CurrentStock int    `json:"current_stock"`
}

func newScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewBillingStatsWarmupTask constructs a stats warmup task.
func NewBillingStatsWarmupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskBillingStatsWarmup, at)
}

// NewLowStockScanTask constructs a low stock scan task.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskLowStockScan, at)
}

// NewIdempotencyCleanupTask constructs an idempotency cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup, at)
}

// NewStockChangedTask wraps a stock event for the worker.
func NewStockChangedTask(evt inventory.StockChangedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(StockChangedPayload(evt))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockChanged, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

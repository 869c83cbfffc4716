package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/observability"
)

// LowStockLister lists active items at or below minimum stock.
type LowStockLister interface {
	ListLowStock(ctx context.Context) ([]catalog.InventoryItem, error)
}

// ItemLookup loads one inventory item.
type ItemLookup interface {
	GetInventoryItem(ctx context.Context, id int64) (catalog.InventoryItem, error)
}

// StockJob reports items that need reordering.
type StockJob struct {
	Catalog LowStockLister
	Items   ItemLookup
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// HandleScan processes TaskLowStockScan tasks.
func (j *StockJob) HandleScan(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Catalog == nil {
		return errors.New("low stock scan: handler not configured")
	}
	defer func() { j.Metrics.ObserveJob(TaskLowStockScan, err) }()
	items, err := j.Catalog.ListLowStock(ctx)
	if err != nil {
		return fmt.Errorf("low stock scan: %w", err)
	}
	logger := loggerOr(j.Logger)
	for _, item := range items {
		logger.Warn("inventory below minimum",
			slog.Int64("item_id", item.ID),
			slog.String("name", item.Name),
			slog.String("department", string(item.Department)),
			slog.Int("current_stock", item.CurrentStock),
			slog.Int("minimum_stock", item.MinimumStock))
	}
	logger.Info("low stock scan complete", slog.Int("items", len(items)))
	return nil
}

// HandleStockChanged processes TaskStockChanged tasks.
func (j *StockJob) HandleStockChanged(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Items == nil {
		return errors.New("stock changed: handler not configured")
	}
	var payload StockChangedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("stock changed payload: %v: %w", err, asynq.SkipRetry)
	}
	defer func() { j.Metrics.ObserveJob(TaskStockChanged, err) }()
	item, err := j.Items.GetInventoryItem(ctx, payload.ItemID)
	if err != nil {
		if errors.Is(err, catalog.ErrInventoryItemNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if item.CurrentStock <= item.MinimumStock {
		loggerOr(j.Logger).Warn("inventory below minimum",
			slog.Int64("item_id", item.ID),
			slog.String("name", item.Name),
			slog.String("source", payload.Source),
			slog.String("reference", payload.Reference),
			slog.Int("current_stock", item.CurrentStock),
			slog.Int("minimum_stock", item.MinimumStock))
	}
	return nil
}

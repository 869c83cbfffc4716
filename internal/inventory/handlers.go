package inventory

import "context"

// IntegrationHandler receives stock events after commit, e.g. to queue low-stock checks.
type IntegrationHandler interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}

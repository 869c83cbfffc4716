package inventory

// Stock change sources.
const (
	SourceSale       = "sale"
	SourceAdjustment = "adjustment"
)

// StockChangedEvent is published after a committed stock change.
type StockChangedEvent struct {
	ItemID       int64
	Name         string
	Source       string
	Reference    string
	CurrentStock int
}

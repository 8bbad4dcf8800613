package events

// Topic constants for domain events emitted by the checkout service.
const (
	TopicSaleCommitted = "sale.committed"
	TopicStockLow      = "stock.low"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{TopicSaleCommitted, TopicStockLow}
}

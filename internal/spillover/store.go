package spillover

import (
	"context"

	"courier/internal/queue"
)

// KeyPrefix namespaces spillover records so the table can coexist with
// other durable state in the same database file.
const KeyPrefix = "courier/spillover/"

// Key returns the storage key for an item id.
func Key(itemID string) string { return KeyPrefix + itemID }

// Store is the durable home for permanently failed items.
type Store interface {
	// Save writes or overwrites the record for the item. Saving the same
	// item twice is not an error.
	Save(ctx context.Context, item *queue.Item) error
	// Remove deletes the record for the item id. Removing an absent
	// record is not an error.
	Remove(ctx context.Context, itemID string) error
	// ListAll returns every stored item in insertion order.
	ListAll(ctx context.Context) ([]*queue.Item, error)
	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)
	// Clear removes every record and returns how many were dropped.
	Clear(ctx context.Context) (int, error)
	Close() error
}

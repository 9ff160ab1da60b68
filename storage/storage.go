// Package storage defines the record store consumed by the server
// templates. A Record is a flat string-keyed document addressed by id;
// backends differ only in durability and sharing characteristics.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the record id is unknown to the store.
var ErrNotFound = errors.New("storage: record not found")

// Record is one stored item.
type Record struct {
	ID        string            `json:"id"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the record store interface. Implementations must be safe for
// concurrent use.
type Store interface {
	// List returns every record, ordered by creation time ascending.
	List(ctx context.Context) ([]Record, error)

	// Get retrieves one record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Put inserts or replaces a record keyed on its ID.
	Put(ctx context.Context, rec Record) error

	// Close releases backend resources.
	Close() error
}

// Watcher is implemented by stores that can report external mutations, so
// callers can refresh derived views (resource listings) when the backing
// data changes out of band.
type Watcher interface {
	// Watch invokes fn after each detected change until ctx is canceled.
	Watch(ctx context.Context, fn func()) error
}

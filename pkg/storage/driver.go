// Package storage
package storage

import (
	"context"

	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

// Driver persists usage records for completed chat requests.
type Driver interface {
	// Put stores a record. Storing a record whose ID already exists replaces it.
	Put(ctx context.Context, record *usage.Record) error

	// Get retrieves a record by its chat completion ID.
	Get(ctx context.Context, id string) (*usage.Record, error)

	// List returns records newest first. A limit <= 0 returns every record.
	List(ctx context.Context, limit int) ([]*usage.Record, error)

	// Close closes the store and releases any resources.
	Close() error
}

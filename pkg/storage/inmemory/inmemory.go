// Package inmemory provides a process local storage driver. Records are lost
// on restart.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	mu sync.RWMutex

	// records is keyed by chat completion ID
	records map[string]*usage.Record
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]*usage.Record),
	}
}

// Put stores a copy of record.
func (d *Driver) Put(_ context.Context, record *usage.Record) error {
	if record == nil {
		return storage.ErrNilRecord
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r := *record
	d.records[record.ID] = &r
	return nil
}

// Get retrieves a record by its ID.
func (d *Driver) Get(_ context.Context, id string) (*usage.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.records[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	out := *r
	return &out, nil
}

// List returns records ordered by StartedAt, newest first.
func (d *Driver) List(_ context.Context, limit int) ([]*usage.Record, error) {
	d.mu.RLock()
	result := make([]*usage.Record, 0, len(d.records))
	for _, r := range d.records {
		out := *r
		result = append(result, &out)
	}
	d.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

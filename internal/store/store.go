package store

import (
	"context"
	"errors"

	"yojak/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the key-value contract the lifecycle engine runs against. A
// record is exclusively owned by its store: callers read a copy, mutate
// it, and write it back through Put.
type Store interface {
	// Get returns the record of the given type and id, or ErrNotFound.
	Get(ctx context.Context, t domain.RecordType, id string) (domain.Record, error)
	// Put persists the record. The write is atomic with respect to
	// concurrent readers: they observe either the previous version or
	// the new one, never a partial write.
	Put(ctx context.Context, rec domain.Record) error
	// List returns every record of the given type in a stable order.
	List(ctx context.Context, t domain.RecordType) ([]domain.Record, error)
}

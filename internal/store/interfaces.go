package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/loginspector/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrStoreClosed is returned by a backend used after Close
var ErrStoreClosed = errors.New("store closed")

// TimeField is the field every collection is indexed on, descending
const TimeField = "time"

// Query describes one page window of a collection scan
type Query struct {
	Filter        model.TimeFilter
	Keyword       string
	KeywordScope  model.KeywordScope
	CaseSensitive bool
	Skip          int
	Limit         int
}

// IndexInfo describes an index present on a collection
type IndexInfo struct {
	Name       string
	Field      string
	Descending bool
}

// Backend is the data access surface of the backing store. Implementations
// must be safe for concurrent use. Find returns records ordered by time
// descending, newest insert first among equal times.
type Backend interface {
	// EnsureIndex creates the descending time index on collection if absent
	EnsureIndex(ctx context.Context, collection string) error
	// Indexes lists the indexes on collection
	Indexes(ctx context.Context, collection string) ([]IndexInfo, error)
	// Insert writes rec and returns the storage-assigned identifier
	Insert(ctx context.Context, collection string, rec *model.LogRecord) (string, error)
	// Find returns one window of matching records; unknown collections yield none
	Find(ctx context.Context, collection string, q Query) ([]*model.LogRecord, error)
	// Collections lists the level partitions present in the namespace
	Collections(ctx context.Context) ([]string, error)
	// NodeSpans aggregates records of the given collections by source node
	NodeSpans(ctx context.Context, collections []string) ([]model.NodeSpan, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Provider hands out the shared backend handle
type Provider interface {
	Handle() (Backend, error)
}

// IdempotencyStore interface for idempotency key operations
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/loginspector/internal/model"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const memoryTimeIndex = "time_-1"

// MemoryStore implements Backend with in-process collections. It backs the
// memory driver used for local runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	seq         uint64
	closed      bool
	logger      *zap.Logger
}

type memoryCollection struct {
	entries []memoryEntry
	indexes map[string]IndexInfo
}

type memoryEntry struct {
	seq    uint64
	record *model.LogRecord
}

// NewMemoryStore creates an empty in-memory backend
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
		logger:      logger,
	}
}

func (s *MemoryStore) collection(name string) *memoryCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{indexes: make(map[string]IndexInfo)}
		s.collections[name] = c
	}
	return c
}

// EnsureIndex records the time index on the collection, creating the collection if needed
func (s *MemoryStore) EnsureIndex(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, ok := c.indexes[memoryTimeIndex]; !ok {
		c.indexes[memoryTimeIndex] = IndexInfo{Name: memoryTimeIndex, Field: TimeField, Descending: true}
		s.logger.Debug("Created index",
			zap.String("collection", collection),
			zap.String("index", memoryTimeIndex))
	}
	return nil
}

// Indexes lists the indexes on collection
func (s *MemoryStore) Indexes(ctx context.Context, collection string) ([]IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	return lo.Values(c.indexes), nil
}

// Insert stores a copy of rec
func (s *MemoryStore) Insert(ctx context.Context, collection string, rec *model.LogRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	stored.ID = uuid.New().String()

	s.seq++
	c := s.collection(collection)
	c.entries = append(c.entries, memoryEntry{seq: s.seq, record: stored})

	return stored.ID, nil
}

// Find scans the collection newest first
func (s *MemoryStore) Find(ctx context.Context, collection string, q Query) ([]*model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	c, ok := s.collections[collection]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	entries := lo.Filter(c.entries, func(e memoryEntry, _ int) bool {
		return q.Filter.Contains(e.record.Time) &&
			e.record.MatchesKeyword(q.Keyword, q.KeywordScope, q.CaseSensitive)
	})
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.record.Time.Equal(b.record.Time) {
			return a.record.Time.After(b.record.Time)
		}
		return a.seq > b.seq
	})

	if q.Skip >= len(entries) {
		return nil, nil
	}
	entries = entries[q.Skip:]
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	return lo.Map(entries, func(e memoryEntry, _ int) *model.LogRecord {
		return e.record.Clone()
	}), nil
}

// Collections lists the collections created so far
func (s *MemoryStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := lo.Keys(s.collections)
	sort.Strings(names)
	return names, nil
}

// NodeSpans groups records of the given collections by source node
func (s *MemoryStore) NodeSpans(ctx context.Context, collections []string) ([]model.NodeSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var records []*model.LogRecord
	for _, name := range lo.Uniq(collections) {
		if c, ok := s.collections[name]; ok {
			for _, e := range c.entries {
				records = append(records, e.record)
			}
		}
	}
	s.mu.RUnlock()

	grouped := lo.GroupBy(records, func(r *model.LogRecord) string {
		return r.SourceNode
	})

	spans := make([]model.NodeSpan, 0, len(grouped))
	for node, recs := range grouped {
		times := lo.Map(recs, func(r *model.LogRecord, _ int) time.Time {
			return r.Time
		})
		spans = append(spans, model.SpanOf(node, times))
	}
	return spans, nil
}

// Ping succeeds until the store is closed
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// Close marks the store closed
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

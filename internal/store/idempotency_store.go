package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryIdempotencyStore keeps acknowledgments in process with a TTL
type MemoryIdempotencyStore struct {
	data    map[string]*ackItem
	mu      sync.RWMutex
	maxSize int
	logger  *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type ackItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates the store and starts its cleanup loop
func NewMemoryIdempotencyStore(maxSize int, cleanupInterval time.Duration, logger *zap.Logger) *MemoryIdempotencyStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &MemoryIdempotencyStore{
		data:    make(map[string]*ackItem),
		maxSize: maxSize,
		logger:  logger,
		stop:    make(chan struct{}),
	}

	go s.cleanup(cleanupInterval)

	return s
}

// Get retrieves a stored acknowledgment
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.data[key]
	if !exists || time.Now().After(item.expiresAt) {
		return "", ErrNotFound
	}
	return item.value, nil
}

// Set stores an acknowledgment with TTL
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && s.maxSize > 0 && len(s.data) >= s.maxSize {
		s.evictLocked(time.Now())
	}

	s.data[key] = &ackItem{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// evictLocked drops expired entries, or the entry closest to expiry when none are
func (s *MemoryIdempotencyStore) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
			continue
		}
		if oldestKey == "" || v.expiresAt.Before(oldest) {
			oldestKey, oldest = k, v.expiresAt
		}
	}
	if len(s.data) >= s.maxSize && oldestKey != "" {
		delete(s.data, oldestKey)
	}
}

// Delete removes a key
func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping always succeeds
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup loop
func (s *MemoryIdempotencyStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Size returns the number of stored keys, expired or not
func (s *MemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryIdempotencyStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			removed := 0
			for key, item := range s.data {
				if now.After(item.expiresAt) {
					delete(s.data, key)
					removed++
				}
			}
			s.mu.Unlock()
			if removed > 0 {
				s.logger.Debug("Expired idempotency keys", zap.Int("count", removed))
			}
		}
	}
}

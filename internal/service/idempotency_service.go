package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/devrev/loginspector/internal/metrics"
	"github.com/devrev/loginspector/internal/store"
	"go.uber.org/zap"
)

// MaxIdempotencyKeyLength bounds caller supplied keys
const MaxIdempotencyKeyLength = 255

// IdempotencyService remembers acknowledgments of reports submitted with an
// idempotency key so resubmissions can be answered without writing again.
type IdempotencyService struct {
	idempotencyStore store.IdempotencyStore
	ttl              time.Duration
	metrics          *metrics.Metrics
	logger           *zap.Logger
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(
	idempotencyStore store.IdempotencyStore,
	ttl time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IdempotencyService {
	return &IdempotencyService{
		idempotencyStore: idempotencyStore,
		ttl:              ttl,
		metrics:          m,
		logger:           logger,
	}
}

// Get returns the stored acknowledgment for key within scope. found is false
// when the key is unknown or expired.
func (s *IdempotencyService) Get(ctx context.Context, scope, key string) (ack string, found bool, err error) {
	ack, err = s.idempotencyStore.Get(ctx, s.buildStoreKey(scope, key))
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get idempotency response: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordIdempotentReplay()
	}
	s.logger.Debug("Idempotency response found",
		zap.String("scope", scope),
		zap.String("idempotency_key", key))
	return ack, true, nil
}

// Store records the acknowledgment for key within scope
func (s *IdempotencyService) Store(ctx context.Context, scope, key, ack string) error {
	if err := s.idempotencyStore.Set(ctx, s.buildStoreKey(scope, key), ack, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}

	s.logger.Debug("Stored idempotency response",
		zap.String("scope", scope),
		zap.String("idempotency_key", key),
		zap.Duration("ttl", s.ttl))
	return nil
}

// Delete forgets key within scope
func (s *IdempotencyService) Delete(ctx context.Context, scope, key string) error {
	if err := s.idempotencyStore.Delete(ctx, s.buildStoreKey(scope, key)); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

// Ping checks the underlying store
func (s *IdempotencyService) Ping(ctx context.Context) error {
	return s.idempotencyStore.Ping(ctx)
}

// buildStoreKey hashes the caller key so arbitrary header values map to
// fixed-size store keys.
func (s *IdempotencyService) buildStoreKey(scope, key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%s", scope, hex.EncodeToString(hash[:]))
}

// ValidateIdempotencyKey reports whether a caller supplied key is usable:
// non-empty, bounded, printable ASCII.
func ValidateIdempotencyKey(key string) bool {
	if key == "" || len(key) > MaxIdempotencyKeyLength {
		return false
	}
	for _, c := range key {
		if c > unicode.MaxASCII || !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}

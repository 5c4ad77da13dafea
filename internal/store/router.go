package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devrev/loginspector/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var levelAliases = map[string]string{
	"info":        model.LevelInfo,
	"information": model.LevelInfo,
	"warn":        model.LevelWarn,
	"warning":     model.LevelWarn,
	"error":       model.LevelError,
	"err":         model.LevelError,
}

// CollectionNameFor maps a level to the collection holding its records.
// Well-known levels and their aliases are canonicalized; any other level is
// its own collection name.
func CollectionNameFor(level string) string {
	if name, ok := levelAliases[strings.ToLower(level)]; ok {
		return name
	}
	return level
}

// provisionTimeout bounds a shared provisioning call. The call outlives the
// caller that started it, so it cannot borrow that caller's deadline.
const provisionTimeout = 30 * time.Second

// ProvisionObserver is notified of every index provisioning attempt
type ProvisionObserver func(collection string, err error)

// Router provisions collections before their first write. A collection is
// provisioned at most once per process; failures are retried on the next call.
type Router struct {
	provider Provider
	logger   *zap.Logger
	observer ProvisionObserver

	mu          sync.RWMutex
	provisioned map[string]struct{}
	group       singleflight.Group
}

// NewRouter creates a router drawing its backend from provider
func NewRouter(provider Provider, logger *zap.Logger) *Router {
	return &Router{
		provider:    provider,
		logger:      logger,
		provisioned: make(map[string]struct{}),
	}
}

// SetObserver installs a callback for provisioning outcomes
func (r *Router) SetObserver(observer ProvisionObserver) {
	r.observer = observer
}

// Provisioned reports whether collection has been provisioned by this process
func (r *Router) Provisioned(collection string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.provisioned[collection]
	return ok
}

// Ensure makes sure collection carries its time index. Concurrent callers for
// the same collection share a single backend call; each caller stops waiting
// when its own ctx is done without failing the others.
func (r *Router) Ensure(ctx context.Context, collection string) error {
	if r.Provisioned(collection) {
		return nil
	}

	results := r.group.DoChan(collection, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return nil, r.provision(sharedCtx, collection)
	})

	select {
	case res := <-results:
		return res.Err
	case <-ctx.Done():
		return WrapWriteError(collection, ctx.Err())
	}
}

func (r *Router) provision(ctx context.Context, collection string) error {
	if r.Provisioned(collection) {
		return nil
	}

	backend, err := r.provider.Handle()
	if err != nil {
		return err
	}

	err = backend.EnsureIndex(ctx, collection)
	if r.observer != nil {
		r.observer(collection, err)
	}
	if err != nil {
		return WrapWriteError(collection, err)
	}

	r.mu.Lock()
	r.provisioned[collection] = struct{}{}
	r.mu.Unlock()

	r.logger.Info("Provisioned collection",
		zap.String("collection", collection),
		zap.String("index", TimeField+" desc"))
	return nil
}

// Bootstrap provisions the well-known levels in parallel and returns every
// failure joined together.
func (r *Router) Bootstrap(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, level := range model.BootstrapLevels {
		collection := CollectionNameFor(level)
		g.Go(func() error {
			if err := r.Ensure(ctx, collection); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", collection, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

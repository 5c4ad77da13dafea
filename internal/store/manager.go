package store

import (
	"context"
	"sync"
	"sync/atomic"

	apierrors "github.com/devrev/loginspector/internal/errors"
	"go.uber.org/zap"
)

// Manager owns the single backend handle for the lifetime of the process.
// Every service obtains the backend through Handle so a closed store is
// reported uniformly.
type Manager struct {
	cfg     ConnectionConfig
	backend Backend
	router  *Router
	logger  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open validates cfg, connects to the configured backend and verifies
// connectivity and authentication.
func Open(ctx context.Context, cfg ConnectionConfig, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case DriverMongo:
		backend, err = NewMongoStore(ctx, cfg, logger)
	case DriverPostgres:
		backend, err = NewPostgresStore(ctx, cfg, logger)
	case DriverMemory:
		backend = NewMemoryStore(logger)
	}
	if err != nil {
		return nil, apierrors.Connection("failed to connect to "+cfg.Driver+" at "+cfg.Address(), err).
			WithDetail("driver", cfg.Driver)
	}

	return NewManager(cfg, backend, logger), nil
}

// NewManager wraps an already connected backend
func NewManager(cfg ConnectionConfig, backend Backend, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
	}
	m.router = NewRouter(m, logger)
	return m
}

// Handle returns the shared backend, or a ClosedError once Close was called
func (m *Manager) Handle() (Backend, error) {
	if m.closed.Load() {
		return nil, apierrors.Closed("handle")
	}
	return m.backend, nil
}

// Router returns the collection router bound to this manager
func (m *Manager) Router() *Router {
	return m.router
}

// Driver returns the configured driver name
func (m *Manager) Driver() string {
	return m.cfg.Driver
}

// Start provisions the bootstrap levels. Failures are logged and left for the
// first write to retry.
func (m *Manager) Start(ctx context.Context) {
	if err := m.router.Bootstrap(ctx); err != nil {
		m.logger.Warn("Failed to provision bootstrap collections, will retry on first write",
			zap.Error(err))
		return
	}
	m.logger.Info("Bootstrap collections provisioned",
		zap.String("driver", m.cfg.Driver))
}

// Ping verifies the backend is reachable
func (m *Manager) Ping(ctx context.Context) error {
	backend, err := m.Handle()
	if err != nil {
		return err
	}
	if err := backend.Ping(ctx); err != nil {
		return apierrors.Connection("backend ping failed", err)
	}
	return nil
}

// Close releases the backend. Subsequent calls return the first result.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.closeErr = m.backend.Close(ctx)
		if m.closeErr != nil {
			m.logger.Error("Failed to close backend", zap.Error(m.closeErr))
			return
		}
		m.logger.Info("Backend closed", zap.String("driver", m.cfg.Driver))
	})
	return m.closeErr
}

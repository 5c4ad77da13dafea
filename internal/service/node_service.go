package service

import (
	"context"
	"time"

	"github.com/devrev/loginspector/internal/metrics"
	"github.com/devrev/loginspector/internal/model"
	"github.com/devrev/loginspector/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// NodeConfig controls the inspector view
type NodeConfig struct {
	PageSize int
	// Levels restricts the aggregation; empty means every collection
	Levels []string
}

// NodeService computes per-node reporting statistics
type NodeService struct {
	provider store.Provider
	cfg      NodeConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewNodeService creates a new node service
func NewNodeService(provider store.Provider, cfg NodeConfig, m *metrics.Metrics, logger *zap.Logger) *NodeService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &NodeService{
		provider: provider,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// FindAll returns page pageNum of the node statistics ordered by sortedField.
// Unrecognized fields fall back to averagePeriod.
func (s *NodeService) FindAll(ctx context.Context, sortedField string, pageNum int) (page *model.Page[model.NodeStat], err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordQuery("inspect_nodes", err, time.Since(start))
		}
	}()

	field, ok := model.ParseSortField(sortedField)
	if !ok && sortedField != "" {
		s.logger.Debug("Unknown sort field, using default",
			zap.String("requested", sortedField),
			zap.String("field", string(field)))
	}

	backend, err := s.provider.Handle()
	if err != nil {
		return nil, err
	}

	collections, err := s.collections(ctx, backend)
	if err != nil {
		return nil, err
	}

	spans, err := backend.NodeSpans(ctx, collections)
	if err != nil {
		err = store.WrapQueryError("inspector", err)
		s.logger.Error("Failed to aggregate node statistics",
			zap.Strings("collections", collections),
			zap.Error(err))
		return nil, err
	}

	stats := lo.Map(spans, func(span model.NodeSpan, _ int) model.NodeStat {
		return span.Stat()
	})
	model.SortNodeStats(stats, field)

	return model.Paginate(stats, pageNum, s.cfg.PageSize), nil
}

func (s *NodeService) collections(ctx context.Context, backend store.Backend) ([]string, error) {
	if len(s.cfg.Levels) > 0 {
		return lo.Uniq(lo.Map(s.cfg.Levels, func(level string, _ int) string {
			return store.CollectionNameFor(level)
		})), nil
	}

	names, err := backend.Collections(ctx)
	if err != nil {
		return nil, store.WrapQueryError("collections", err)
	}
	return names, nil
}

package service

import (
	"context"
	"strings"
	"time"

	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/metrics"
	"github.com/devrev/loginspector/internal/model"
	"github.com/devrev/loginspector/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// QueryConfig controls record queries
type QueryConfig struct {
	PageSize      int
	KeywordScope  model.KeywordScope
	CaseSensitive bool
}

// QueryService answers paginated, filtered views of one level
type QueryService struct {
	provider store.Provider
	cfg      QueryConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewQueryService creates a new query service
func NewQueryService(provider store.Provider, cfg QueryConfig, m *metrics.Metrics, logger *zap.Logger) *QueryService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.KeywordScope == "" {
		cfg.KeywordScope = model.KeywordScopeAll
	}
	return &QueryService{
		provider: provider,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// PageSize returns the configured page size
func (s *QueryService) PageSize() int {
	return s.cfg.PageSize
}

// FindAll returns page pageNum of the records of level that pass filter and
// contain keyword, newest first. A level that was never written yields an
// empty page.
func (s *QueryService) FindAll(
	ctx context.Context,
	level string,
	filter model.TimeFilter,
	keyword string,
	pageNum int,
) (page *model.Page[model.LogRecord], err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordQuery("find_records", err, time.Since(start))
		}
	}()

	level = strings.TrimSpace(level)
	if level == "" {
		return nil, apierrors.InvalidLevel(level, "level is required")
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return nil, apierrors.InvalidArgument("time range end precedes its start", nil)
	}

	pageNum = model.NormalizePage(pageNum)
	offset, ok := model.Offset(pageNum, s.cfg.PageSize)
	if !ok {
		return model.NewPage[model.LogRecord](nil, pageNum, s.cfg.PageSize), nil
	}

	backend, err := s.provider.Handle()
	if err != nil {
		return nil, err
	}

	collection := store.CollectionNameFor(level)
	recs, err := backend.Find(ctx, collection, store.Query{
		Filter:        filter,
		Keyword:       keyword,
		KeywordScope:  s.cfg.KeywordScope,
		CaseSensitive: s.cfg.CaseSensitive,
		Skip:          offset,
		Limit:         s.cfg.PageSize + 1,
	})
	if err != nil {
		err = store.WrapQueryError(collection, err)
		s.logger.Error("Failed to query records",
			zap.String("collection", collection),
			zap.Int("page", pageNum),
			zap.Error(err))
		return nil, err
	}

	window := lo.Map(recs, func(r *model.LogRecord, _ int) model.LogRecord {
		return *r
	})
	return model.NewPage(window, pageNum, s.cfg.PageSize), nil
}

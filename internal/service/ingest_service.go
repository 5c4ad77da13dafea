package service

import (
	"context"
	"strings"
	"time"

	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/metrics"
	"github.com/devrev/loginspector/internal/model"
	"github.com/devrev/loginspector/internal/store"
	"go.uber.org/zap"
)

// Provisioner makes a collection ready for writes
type Provisioner interface {
	Ensure(ctx context.Context, collection string) error
}

// IngestService persists reports pushed by remote nodes
type IngestService struct {
	provider store.Provider
	router   Provisioner
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(
	provider store.Provider,
	router Provisioner,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		provider: provider,
		router:   router,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Report validates and writes one record and returns its acknowledgment,
// the storage-assigned id.
func (s *IngestService) Report(ctx context.Context, rec *model.LogRecord) (string, error) {
	normalized, err := s.normalize(rec)
	if err != nil {
		s.recordFailure("", err)
		return "", err
	}
	return s.write(ctx, normalized)
}

// ReportBatch validates every record before writing any of them, then writes
// in order. On a storage failure the acknowledgments of the records already
// written are returned together with the error.
func (s *IngestService) ReportBatch(ctx context.Context, recs []*model.LogRecord) ([]string, error) {
	if len(recs) == 0 {
		return nil, apierrors.InvalidArgument("batch must contain at least one record", nil)
	}

	normalized := make([]*model.LogRecord, len(recs))
	for i, rec := range recs {
		n, err := s.normalize(rec)
		if err != nil {
			s.recordFailure("", err)
			if se, ok := err.(*apierrors.StorageError); ok {
				se.WithDetail("index", i)
			}
			return nil, err
		}
		normalized[i] = n
	}

	acks := make([]string, 0, len(normalized))
	for _, rec := range normalized {
		ack, err := s.write(ctx, rec)
		if err != nil {
			return acks, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

// normalize returns a copy of rec with defaults applied
func (s *IngestService) normalize(rec *model.LogRecord) (*model.LogRecord, error) {
	if rec == nil {
		return nil, apierrors.InvalidArgument("record is required", nil)
	}

	out := rec.Clone()
	out.ID = ""
	out.Level = strings.TrimSpace(out.Level)
	if out.Level == "" {
		return nil, apierrors.InvalidLevel(rec.Level, "level is required")
	}
	if out.Time.IsZero() {
		out.Time = s.now()
	}
	out.Time = out.Time.UTC()
	if strings.TrimSpace(out.SourceNode) == "" {
		out.SourceNode = model.UnknownSourceNode
	}
	return out, nil
}

func (s *IngestService) write(ctx context.Context, rec *model.LogRecord) (string, error) {
	collection := store.CollectionNameFor(rec.Level)

	if err := s.router.Ensure(ctx, collection); err != nil {
		s.logger.Error("Failed to provision collection",
			zap.String("collection", collection),
			zap.Error(err))
		s.recordFailure(rec.Level, err)
		return "", err
	}

	backend, err := s.provider.Handle()
	if err != nil {
		s.recordFailure(rec.Level, err)
		return "", err
	}

	id, err := backend.Insert(ctx, collection, rec)
	if err != nil {
		err = store.WrapWriteError(collection, err)
		s.logger.Error("Failed to write record",
			zap.String("collection", collection),
			zap.String("source_node", rec.SourceNode),
			zap.Error(err))
		s.recordFailure(rec.Level, err)
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordIngest(collection)
	}
	s.logger.Debug("Record written",
		zap.String("collection", collection),
		zap.String("id", id),
		zap.String("source_node", rec.SourceNode))

	return id, nil
}

func (s *IngestService) recordFailure(level string, err error) {
	if s.metrics == nil {
		return
	}
	collection := store.CollectionNameFor(strings.TrimSpace(level))
	if collection == "" {
		collection = "none"
	}
	s.metrics.RecordIngestFailure(collection, apierrors.GetCode(err).String())
}

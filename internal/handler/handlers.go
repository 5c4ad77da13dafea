// Package handler provides HTTP request handlers for the log inspector.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/devrev/loginspector/internal/config"
	"github.com/devrev/loginspector/internal/converter"
	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/model"
	"github.com/devrev/loginspector/internal/service"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader lets a reporting node resubmit safely
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks an acknowledgment served from the idempotency store
	IdempotentReplayHeader = "Idempotent-Replay"

	scopeReport = "report"
	scopeBatch  = "batch"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	ingest       *service.IngestService
	query        *service.QueryService
	nodes        *service.NodeService
	idempotency  *service.IdempotencyService
	httpToModel  *converter.HTTPToModel
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance. idempotency may be nil, in
// which case Idempotency-Key headers are ignored.
func NewHandlers(
	ingest *service.IngestService,
	query *service.QueryService,
	nodes *service.NodeService,
	idempotency *service.IdempotencyService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	cfg config.ServerConfig,
) *Handlers {
	return &Handlers{
		ingest:       ingest,
		query:        query,
		nodes:        nodes,
		idempotency:  idempotency,
		httpToModel:  converter.NewHTTPToModel(cfg.MaxBodyBytes),
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      cfg.RequestTimeout,
	}
}

// Report handles GET/POST /log/report requests. The response body is the
// plain-text acknowledgment (the stored record id).
func (h *Handlers) Report(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	rec, err := h.httpToModel.ReportRequest(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	if ack, found := h.replay(ctx, scopeReport, key); found {
		w.Header().Set(IdempotentReplayHeader, "true")
		h.writeTextResponse(w, http.StatusOK, ack)
		return
	}

	ack, err := h.ingest.Report(ctx, rec)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.remember(ctx, scopeReport, key, ack, requestID)
	h.writeTextResponse(w, http.StatusOK, ack)
}

// ReportBatch handles POST /log/report/batch requests.
func (h *Handlers) ReportBatch(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	recs, err := h.httpToModel.BatchRequest(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	if ack, found := h.replay(ctx, scopeBatch, key); found {
		w.Header().Set(IdempotentReplayHeader, "true")
		h.writeJSONResponse(w, http.StatusOK, converter.BatchResponse(splitAck(ack)))
		return
	}

	ids, err := h.ingest.ReportBatch(ctx, recs)
	if err != nil {
		if len(ids) > 0 {
			h.logger.Warn("batch report partially written",
				zap.Int("written", len(ids)),
				zap.Int("submitted", len(recs)),
				zap.String("request_id", requestID),
			)
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.remember(ctx, scopeBatch, key, strings.Join(ids, ","), requestID)
	h.writeJSONResponse(w, http.StatusOK, converter.BatchResponse(ids))
}

// Query handles GET /log/{level} requests.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	params, err := h.httpToModel.QueryRequest(r)
	if err != nil {
		h.errorHandler.HandleQueryError(w, r, err, model.FirstPage)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	page, err := h.query.FindAll(ctx, params.Level, params.Filter, params.Keyword, params.PageNum)
	if err != nil {
		h.errorHandler.HandleQueryError(w, r, err, params.PageNum)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, converter.LogPageResponse(page))
}

// Inspector handles GET /log/inspector.json requests.
func (h *Handlers) Inspector(w http.ResponseWriter, r *http.Request) {
	params, err := h.httpToModel.InspectorRequest(r)
	if err != nil {
		h.errorHandler.HandleQueryError(w, r, err, model.FirstPage)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	page, err := h.nodes.FindAll(ctx, params.SortedName, params.PageNum)
	if err != nil {
		h.errorHandler.HandleQueryError(w, r, err, params.PageNum)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, converter.NodePageResponse(page))
}

// idempotencyKey reads and validates the Idempotency-Key header. ok is false
// when an error response has already been written.
func (h *Handlers) idempotencyKey(w http.ResponseWriter, r *http.Request) (key string, ok bool) {
	key = r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.idempotency == nil {
		return "", true
	}
	if !service.ValidateIdempotencyKey(key) {
		h.errorHandler.WriteValidationError(w,
			"Idempotency-Key must be 1-255 printable ASCII characters", r.Header.Get("X-Request-ID"))
		return "", false
	}
	return key, true
}

// replay looks up a stored acknowledgment. Store failures are logged and
// treated as a miss so the report is still written.
func (h *Handlers) replay(ctx context.Context, scope, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	ack, found, err := h.idempotency.Get(ctx, scope, key)
	if err != nil {
		h.logger.Warn("idempotency lookup failed", zap.String("scope", scope), zap.Error(err))
		return "", false
	}
	return ack, found
}

func (h *Handlers) remember(ctx context.Context, scope, key, ack, requestID string) {
	if key == "" {
		return
	}
	if err := h.idempotency.Store(ctx, scope, key, ack); err != nil {
		h.logger.Warn("failed to store idempotency response",
			zap.String("scope", scope),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

func (h *Handlers) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func splitAck(ack string) []string {
	if ack == "" {
		return nil
	}
	return strings.Split(ack, ",")
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) writeTextResponse(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

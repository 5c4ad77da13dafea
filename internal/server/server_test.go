package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/devrev/loginspector/internal/config"
	"github.com/devrev/loginspector/internal/converter"
	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/handler"
	"github.com/devrev/loginspector/internal/health"
	"github.com/devrev/loginspector/internal/metrics"
	"github.com/devrev/loginspector/internal/service"
	"github.com/devrev/loginspector/internal/store"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  5 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Store: config.StoreConfig{Driver: store.DriverMemory},
		RateLimiter: config.RateLimiterConfig{
			Enabled:           false, // Disable for testing
			RequestsPerSecond: 1000,
			BurstSize:         100,
		},
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	cfg := testConfig()

	manager, err := store.Open(context.Background(), cfg.Store.ConnectionConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })
	manager.Start(context.Background())

	m := metrics.NewMetrics()
	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(
		service.NewIngestService(manager, manager.Router(), m, logger),
		service.NewQueryService(manager, service.QueryConfig{PageSize: 20}, m, logger),
		service.NewNodeService(manager, service.NodeConfig{PageSize: 20}, m, logger),
		nil,
		errorHandler,
		logger,
		cfg.Server,
	)
	hc := health.NewHealthCheck(map[string]health.Pinger{"store": manager}, time.Second, logger)

	return NewServer(cfg, handlers, hc, errorHandler, m, logger).GetHandler()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_ReportQueryInspect(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, httptest.NewRequest(http.MethodGet, "/log/report?"+url.Values{
		"level":      {"info"},
		"sourceNode": {"n1"},
		"time":       {"100"},
		"message":    {"up"},
	}.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/log/info", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var page converter.PageHTTPResponse[converter.LogRecordHTTPResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.ResultList, 1)
	assert.Equal(t, "n1", page.ResultList[0].SourceNode)

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/log/inspector.json?sortedName=reportCount", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats converter.PageHTTPResponse[converter.NodeStatHTTPResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats.ResultList, 1)
	assert.Equal(t, float64(-1), stats.ResultList[0].AveragePeriod)
}

func TestServer_GzipBatch(t *testing.T) {
	h := newTestServer(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`[{"level":"warn","sourceNode":"n4","time":1},{"level":"warn","sourceNode":"n4","time":2}]`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/log/report/batch", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	w := do(t, h, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp converter.BatchReportHTTPResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.IDs, 2)
}

func TestServer_Routing(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"liveness", http.MethodGet, "/health", http.StatusOK},
		{"readiness", http.MethodGet, "/ready", http.StatusOK},
		{"inspector is not a level", http.MethodGet, "/log/inspector.json", http.StatusOK},
		{"unknown endpoint", http.MethodGet, "/v1/key-value", http.StatusNotFound},
		{"batch requires POST", http.MethodGet, "/log/report/batch", http.StatusMethodNotAllowed},
		{"query is read only", http.MethodPost, "/log/info", http.StatusMethodNotAllowed},
		{"preflight", http.MethodOptions, "/log/report", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, httptest.NewRequest(tt.method, tt.path, strings.NewReader("")))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	logger := zap.NewNop()
	cfg := testConfig()
	hc := health.NewHealthCheck(nil, time.Second, logger)
	srv := NewServer(cfg, &handler.Handlers{}, hc, apierrors.NewHandler(logger), nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

package handler

import (
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
	"github.com/devrev/loginspector/internal/service"
	"github.com/devrev/loginspector/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandlers(t *testing.T, pageSize int) (*Handlers, *store.Manager) {
	t.Helper()
	logger := zap.NewNop()

	manager, err := store.Open(context.Background(), store.ConnectionConfig{Driver: store.DriverMemory}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	idemStore := store.NewMemoryIdempotencyStore(100, time.Minute, logger)
	t.Cleanup(func() { _ = idemStore.Close() })

	h := NewHandlers(
		service.NewIngestService(manager, manager.Router(), nil, logger),
		service.NewQueryService(manager, service.QueryConfig{PageSize: pageSize}, nil, logger),
		service.NewNodeService(manager, service.NodeConfig{PageSize: pageSize}, nil, logger),
		service.NewIdempotencyService(idemStore, time.Hour, nil, logger),
		apierrors.NewHandler(logger),
		logger,
		config.ServerConfig{RequestTimeout: 5 * time.Second},
	)
	return h, manager
}

func reportForm(t *testing.T, h *Handlers, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/log/report", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.Report(w, req)
	return w
}

func queryLevel(t *testing.T, h *Handlers, level, rawQuery string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/log/"+level+"?"+rawQuery, nil)
	req = mux.SetURLVars(req, map[string]string{"level": level})
	w := httptest.NewRecorder()
	h.Query(w, req)
	return w
}

func decodeLogPage(t *testing.T, w *httptest.ResponseRecorder) converter.PageHTTPResponse[converter.LogRecordHTTPResponse] {
	t.Helper()
	var page converter.PageHTTPResponse[converter.LogRecordHTTPResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	return page
}

func TestReport_FormThenQuery(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	w := reportForm(t, h, url.Values{
		"level":      {"info"},
		"time":       {"100"},
		"sourceNode": {"n1"},
		"message":    {"booted"},
		"region":     {"eu-west-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	ack := w.Body.String()
	assert.NotEmpty(t, ack)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	w = queryLevel(t, h, "info", "")
	require.Equal(t, http.StatusOK, w.Code)

	page := decodeLogPage(t, w)
	require.Len(t, page.ResultList, 1)
	rec := page.ResultList[0]
	assert.Equal(t, ack, rec.ID)
	assert.Equal(t, int64(100), rec.Time)
	assert.Equal(t, "n1", rec.SourceNode)
	assert.Equal(t, "eu-west-1", rec.Attributes["region"])
	assert.Equal(t, 1, page.CurrPage)
	assert.Nil(t, page.PrevPage)
	assert.Nil(t, page.NextPage)
}

func TestReport_JSONBody(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	req := httptest.NewRequest(http.MethodPost, "/log/report",
		strings.NewReader(`{"level":"error","time":5000,"sourceNode":"n2","message":"disk full"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Report(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	page := decodeLogPage(t, queryLevel(t, h, "error", "keyword=DISK"))
	require.Len(t, page.ResultList, 1)
	assert.Equal(t, "disk full", page.ResultList[0].Message)
}

func TestReport_MissingLevel(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	w := reportForm(t, h, url.Values{"message": {"orphan"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestReport_IdempotentReplay(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	send := func() *httptest.ResponseRecorder {
		values := url.Values{"level": {"warn"}, "sourceNode": {"n3"}, "message": {"retry me"}}
		req := httptest.NewRequest(http.MethodPost, "/log/report", strings.NewReader(values.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(IdempotencyKeyHeader, "n3-0001")
		w := httptest.NewRecorder()
		h.Report(w, req)
		return w
	}

	first := send()
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get(IdempotentReplayHeader))

	second := send()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(IdempotentReplayHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())

	page := decodeLogPage(t, queryLevel(t, h, "warn", ""))
	assert.Len(t, page.ResultList, 1, "resubmission must not write twice")
}

func TestReport_InvalidIdempotencyKey(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	req := httptest.NewRequest(http.MethodPost, "/log/report?level=info", nil)
	req.Header.Set(IdempotencyKeyHeader, "bad\tkey")
	w := httptest.NewRecorder()
	h.Report(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Idempotency-Key")
}

func TestReportBatch(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	body := `[{"level":"error","sourceNode":"n2","time":5},{"level":"error","sourceNode":"n2","time":15},{"level":"error","sourceNode":"n2","time":25}]`
	req := httptest.NewRequest(http.MethodPost, "/log/report/batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, "batch-1")
	w := httptest.NewRecorder()
	h.ReportBatch(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp converter.BatchReportHTTPResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.IDs, 3)

	// replay returns the same ids
	req = httptest.NewRequest(http.MethodPost, "/log/report/batch", strings.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "batch-1")
	w = httptest.NewRecorder()
	h.ReportBatch(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get(IdempotentReplayHeader))

	var replayed converter.BatchReportHTTPResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replayed))
	assert.Equal(t, resp.IDs, replayed.IDs)

	w = httptest.NewRecorder()
	h.Inspector(w, httptest.NewRequest(http.MethodGet, "/log/inspector.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats converter.PageHTTPResponse[converter.NodeStatHTTPResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats.ResultList, 1)
	assert.Equal(t, "n2", stats.ResultList[0].SourceNode)
	assert.Equal(t, 10.0, stats.ResultList[0].AveragePeriod)
	assert.Equal(t, int64(3), stats.ResultList[0].ReportCount)
	assert.Equal(t, int64(25), stats.ResultList[0].LastSeen)
}

func TestReportBatch_RejectsNonArray(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	req := httptest.NewRequest(http.MethodPost, "/log/report/batch", strings.NewReader(`{"level":"info"}`))
	w := httptest.NewRecorder()
	h.ReportBatch(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery_Pagination(t *testing.T) {
	h, _ := newTestHandlers(t, 2)
	for _, ts := range []string{"10", "20", "30"} {
		require.Equal(t, http.StatusOK, reportForm(t, h, url.Values{"level": {"info"}, "time": {ts}}).Code)
	}

	first := decodeLogPage(t, queryLevel(t, h, "info", "_pageNum=0"))
	require.Len(t, first.ResultList, 2)
	assert.Equal(t, int64(30), first.ResultList[0].Time)
	assert.Equal(t, 1, first.CurrPage)
	require.NotNil(t, first.NextPage)
	assert.Equal(t, 2, *first.NextPage)

	second := decodeLogPage(t, queryLevel(t, h, "info", "_pageNum=2"))
	require.Len(t, second.ResultList, 1)
	assert.Equal(t, int64(10), second.ResultList[0].Time)
	assert.Nil(t, second.NextPage)
	require.NotNil(t, second.PrevPage)
	assert.Equal(t, 1, *second.PrevPage)
}

func TestQuery_UnknownLevelIsEmpty(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	w := queryLevel(t, h, "audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeLogPage(t, w)
	assert.NotNil(t, page.ResultList)
	assert.Empty(t, page.ResultList)
	assert.Nil(t, page.NextPage)
	assert.Contains(t, w.Body.String(), `"nextPage":null`)
}

func TestQuery_BadTimeFilter(t *testing.T) {
	h, _ := newTestHandlers(t, 20)

	w := queryLevel(t, h, "info", "time=notatime")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"resultList":[]`)
}

func TestQuery_ClosedStoreIsUnavailable(t *testing.T) {
	h, manager := newTestHandlers(t, 20)
	require.NoError(t, manager.Close(context.Background()))

	w := queryLevel(t, h, "info", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"resultList":[]`)
}

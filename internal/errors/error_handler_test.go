package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStorageError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *StorageError
		expected int
	}{
		{"invalid argument", InvalidArgument("bad", nil), http.StatusBadRequest},
		{"invalid level", InvalidLevel("", "empty"), http.StatusBadRequest},
		{"connection", Connection("down", nil), http.StatusServiceUnavailable},
		{"closed", Closed("find"), http.StatusServiceUnavailable},
		{"write", StorageWrite("info", fmt.Errorf("boom")), http.StatusInternalServerError},
		{"query", StorageQuery("info", fmt.Errorf("boom")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.HTTPStatus())
		})
	}
}

func TestGetCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("report: %w", StorageWrite("warn", fmt.Errorf("disk")))

	assert.True(t, IsStorageError(err))
	assert.Equal(t, ErrCodeWriteFailed, GetCode(err))
	assert.True(t, Is(err, ErrCodeWriteFailed))
	assert.False(t, Is(nil, ErrCodeWriteFailed))
	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("plain")))
	assert.Contains(t, err.Error(), "disk")
}

func TestHandler_HandleError(t *testing.T) {
	h := NewHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/log/info", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()

	h.HandleError(w, req, Closed("report"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "STORE_CLOSED", resp.ErrorCode)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestHandler_HandleQueryError(t *testing.T) {
	h := NewHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/log/info", nil)
	w := httptest.NewRecorder()

	h.HandleQueryError(w, req, StorageQuery("info", fmt.Errorf("cursor died")), 3)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "STORAGE_QUERY_ERROR", resp["error_code"])
	assert.Equal(t, []interface{}{}, resp["resultList"])
	assert.Nil(t, resp["nextPage"])
	assert.Equal(t, float64(3), resp["currPage"])
}

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Report(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, reportPath, r.URL.Path)
		assert.Equal(t, "n1-17", r.Header.Get(idempotencyKeyHeader))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "info", r.PostForm.Get("level"))
		assert.Equal(t, "100", r.PostForm.Get("time"))
		assert.Equal(t, "n1", r.PostForm.Get("sourceNode"))
		assert.Equal(t, "eu-west-1", r.PostForm.Get("region"))
		// attributes never override reserved fields
		assert.Equal(t, []string{"info"}, r.PostForm["level"])
		w.Write([]byte("rec-1"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	ack, err := c.Report(context.Background(), Record{
		Level:      "info",
		Time:       100,
		SourceNode: "n1",
		Message:    "booted",
		Attributes: map[string]interface{}{"region": "eu-west-1", "level": "shadow"},
	}, "n1-17")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", ack)
}

func TestClient_ReportBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, batchPath, r.URL.Path)
		assert.Empty(t, r.Header.Get(idempotencyKeyHeader))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var recs []Record
		require.NoError(t, json.Unmarshal(body, &recs))
		require.Len(t, recs, 2)
		assert.Equal(t, "error", recs[1].Level)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ids":["a","b"]}`))
	}))
	defer srv.Close()

	ids, err := New(srv.URL).ReportBatch(context.Background(), []Record{
		{Level: "warn", SourceNode: "n2"},
		{Level: "error", SourceNode: "n2"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/log/warn", r.URL.Path)
		assert.Equal(t, "1000,2000", r.URL.Query().Get("time"))
		assert.Equal(t, "disk", r.URL.Query().Get("keyword"))
		assert.Equal(t, "2", r.URL.Query().Get("_pageNum"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultList":[{"id":"x","level":"warn","time":1500,"sourceNode":"n1","message":"disk 90%"}],"currPage":2,"prevPage":1,"nextPage":null,"pageSize":20}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).Query(context.Background(), "warn", QueryOptions{
		Since:   time.UnixMilli(1000),
		Until:   time.UnixMilli(2000),
		Keyword: "disk",
		PageNum: 2,
	})
	require.NoError(t, err)
	require.Len(t, page.ResultList, 1)
	assert.Equal(t, int64(1500), page.ResultList[0].Time)
	require.NotNil(t, page.PrevPage)
	assert.Equal(t, 1, *page.PrevPage)
	assert.Nil(t, page.NextPage)
}

func TestClient_Inspector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, inspectorPath, r.URL.Path)
		assert.Equal(t, "lastSeen", r.URL.Query().Get("sortedName"))
		assert.Empty(t, r.URL.Query().Get("_pageNum"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultList":[{"sourceNode":"n2","reportCount":3,"averagePeriod":10,"lastSeen":25}],"currPage":1,"prevPage":null,"nextPage":null,"pageSize":20}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).Inspector(context.Background(), InspectorOptions{SortedName: "lastSeen"})
	require.NoError(t, err)
	require.Len(t, page.ResultList, 1)
	assert.Equal(t, 10.0, page.ResultList[0].AveragePeriod)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Report(context.Background(), Record{Level: "info"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report info record")
}

func TestTimeParam(t *testing.T) {
	assert.Equal(t, "", timeParam(time.Time{}, time.Time{}))
	assert.Equal(t, "1000", timeParam(time.UnixMilli(1000), time.Time{}))
	assert.Equal(t, "0,2000", timeParam(time.Time{}, time.UnixMilli(2000)))
}

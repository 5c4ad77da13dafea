// Package client is the Go reporter used by nodes that push log records to
// the log inspector, and a reader for its query endpoints.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/google/go-querystring/query"
)

const (
	reportPath    = "/log/report"
	batchPath     = "/log/report/batch"
	inspectorPath = "/log/inspector.json"

	idempotencyKeyHeader = "Idempotency-Key"
)

// Record is one log record as sent to and returned by the service. Time is
// carried as epoch milliseconds on the wire.
type Record struct {
	ID         string                 `json:"id,omitempty"`
	Level      string                 `json:"level"`
	Time       int64                  `json:"time,omitempty"`
	SourceNode string                 `json:"sourceNode,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NodeStat is one row of the inspector view
type NodeStat struct {
	SourceNode    string  `json:"sourceNode"`
	ReportCount   int64   `json:"reportCount"`
	AveragePeriod float64 `json:"averagePeriod"`
	LastSeen      int64   `json:"lastSeen"`
}

// Page is one page of results. PrevPage and NextPage are nil when there is
// no such page.
type Page[T any] struct {
	ResultList []T  `json:"resultList"`
	CurrPage   int  `json:"currPage"`
	PrevPage   *int `json:"prevPage"`
	NextPage   *int `json:"nextPage"`
	PageSize   int  `json:"pageSize"`
}

// QueryOptions selects records of one level. Zero times leave that side of
// the range open.
type QueryOptions struct {
	Since   time.Time
	Until   time.Time
	Keyword string
	PageNum int
}

type queryParams struct {
	Time    string `url:"time,omitempty"`
	Keyword string `url:"keyword,omitempty"`
	PageNum int    `url:"_pageNum,omitempty"`
}

// InspectorOptions selects a page of node statistics
type InspectorOptions struct {
	SortedName string `url:"sortedName,omitempty"`
	PageNum    int    `url:"_pageNum,omitempty"`
}

// reportForm is the form encoding of a single report
type reportForm struct {
	Level      string `url:"level"`
	Time       int64  `url:"time,omitempty"`
	SourceNode string `url:"sourceNode,omitempty"`
	Message    string `url:"message,omitempty"`
}

type batchResponse struct {
	IDs []string `json:"ids"`
}

// Client talks to one log inspector instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the service rooted at baseURL, e.g. http://inspector:8080
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report sends one record and returns the service acknowledgment. A non-empty
// idempotencyKey makes resubmission safe: the service replays the first ack.
func (c *Client) Report(ctx context.Context, rec Record, idempotencyKey string) (string, error) {
	values, err := query.Values(reportForm{
		Level:      rec.Level,
		Time:       rec.Time,
		SourceNode: rec.SourceNode,
		Message:    rec.Message,
	})
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	for key, v := range rec.Attributes {
		if _, reserved := values[key]; reserved {
			continue
		}
		values.Set(key, fmt.Sprint(v))
	}

	var ack string
	b := requests.URL(c.baseURL).
		Client(c.httpClient).
		Path(reportPath).
		BodyForm(values).
		ToString(&ack)
	if idempotencyKey != "" {
		b = b.Header(idempotencyKeyHeader, idempotencyKey)
	}
	if err := b.Fetch(ctx); err != nil {
		return "", fmt.Errorf("report %s record: %w", rec.Level, err)
	}
	return ack, nil
}

// ReportBatch sends records in one request and returns their acknowledgments in order.
func (c *Client) ReportBatch(ctx context.Context, recs []Record, idempotencyKey string) ([]string, error) {
	var resp batchResponse
	b := requests.URL(c.baseURL).
		Client(c.httpClient).
		Path(batchPath).
		BodyJSON(recs).
		ToJSON(&resp)
	if idempotencyKey != "" {
		b = b.Header(idempotencyKeyHeader, idempotencyKey)
	}
	if err := b.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("report batch of %d: %w", len(recs), err)
	}
	return resp.IDs, nil
}

// Query returns one page of the records of level, newest first.
func (c *Client) Query(ctx context.Context, level string, opts QueryOptions) (*Page[Record], error) {
	values, err := query.Values(queryParams{
		Time:    timeParam(opts.Since, opts.Until),
		Keyword: opts.Keyword,
		PageNum: opts.PageNum,
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var page Page[Record]
	err = requests.URL(c.baseURL).
		Client(c.httpClient).
		Path("/log/" + url.PathEscape(level)).
		Params(values).
		ToJSON(&page).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", level, err)
	}
	return &page, nil
}

// Inspector returns one page of per-node reporting statistics.
func (c *Client) Inspector(ctx context.Context, opts InspectorOptions) (*Page[NodeStat], error) {
	values, err := query.Values(opts)
	if err != nil {
		return nil, fmt.Errorf("encode inspector query: %w", err)
	}

	var page Page[NodeStat]
	err = requests.URL(c.baseURL).
		Client(c.httpClient).
		Path(inspectorPath).
		Params(values).
		ToJSON(&page).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspector: %w", err)
	}
	return &page, nil
}

// timeParam renders the since[,until] filter in epoch milliseconds
func timeParam(since, until time.Time) string {
	switch {
	case since.IsZero() && until.IsZero():
		return ""
	case until.IsZero():
		return strconv.FormatInt(since.UnixMilli(), 10)
	default:
		var start int64
		if !since.IsZero() {
			start = since.UnixMilli()
		}
		return strconv.FormatInt(start, 10) + "," + strconv.FormatInt(until.UnixMilli(), 10)
	}
}

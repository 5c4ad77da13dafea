package converter

import (
	"github.com/devrev/loginspector/internal/model"
	"github.com/samber/lo"
)

// LogRecordHTTPResponse is the wire form of a stored record. Times are epoch
// milliseconds, the same unit reports are accepted in.
type LogRecordHTTPResponse struct {
	ID         string                 `json:"id"`
	Level      string                 `json:"level"`
	Time       int64                  `json:"time"`
	SourceNode string                 `json:"sourceNode"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NodeStatHTTPResponse is the wire form of one inspector row
type NodeStatHTTPResponse struct {
	SourceNode    string  `json:"sourceNode"`
	ReportCount   int64   `json:"reportCount"`
	AveragePeriod float64 `json:"averagePeriod"`
	LastSeen      int64   `json:"lastSeen"`
}

// PageHTTPResponse wraps one page of results
type PageHTTPResponse[T any] struct {
	ResultList []T  `json:"resultList"`
	CurrPage   int  `json:"currPage"`
	PrevPage   *int `json:"prevPage"`
	NextPage   *int `json:"nextPage"`
	PageSize   int  `json:"pageSize"`
}

// BatchReportHTTPResponse acknowledges a batch report
type BatchReportHTTPResponse struct {
	IDs []string `json:"ids"`
}

// LogPageResponse converts a record page
func LogPageResponse(page *model.Page[model.LogRecord]) *PageHTTPResponse[LogRecordHTTPResponse] {
	return &PageHTTPResponse[LogRecordHTTPResponse]{
		ResultList: lo.Map(page.ResultList, func(r model.LogRecord, _ int) LogRecordHTTPResponse {
			return LogRecordHTTPResponse{
				ID:         r.ID,
				Level:      r.Level,
				Time:       r.Time.UnixMilli(),
				SourceNode: r.SourceNode,
				Message:    r.Message,
				Attributes: r.Attributes,
			}
		}),
		CurrPage: page.CurrPage,
		PrevPage: page.PrevPage,
		NextPage: page.NextPage,
		PageSize: page.PageSize,
	}
}

// NodePageResponse converts an inspector page
func NodePageResponse(page *model.Page[model.NodeStat]) *PageHTTPResponse[NodeStatHTTPResponse] {
	return &PageHTTPResponse[NodeStatHTTPResponse]{
		ResultList: lo.Map(page.ResultList, func(s model.NodeStat, _ int) NodeStatHTTPResponse {
			return NodeStatHTTPResponse{
				SourceNode:    s.SourceNode,
				ReportCount:   s.ReportCount,
				AveragePeriod: s.AveragePeriod,
				LastSeen:      s.LastSeen.UnixMilli(),
			}
		}),
		CurrPage: page.CurrPage,
		PrevPage: page.PrevPage,
		NextPage: page.NextPage,
		PageSize: page.PageSize,
	}
}

// BatchResponse converts batch acknowledgments
func BatchResponse(ids []string) *BatchReportHTTPResponse {
	if ids == nil {
		ids = []string{}
	}
	return &BatchReportHTTPResponse{IDs: ids}
}

// Package converter turns HTTP requests into model values and model values
// into HTTP responses.
package converter

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/model"
	"github.com/gorilla/mux"
	"github.com/valyala/fastjson"
)

// Request parameter names
const (
	ParamLevel      = "level"
	ParamTime       = "time"
	ParamSourceNode = "sourceNode"
	ParamMessage    = "message"
	ParamKeyword    = "keyword"
	ParamPageNum    = "_pageNum"
	ParamSortedName = "sortedName"
)

// DefaultMaxBodyBytes bounds report bodies
const DefaultMaxBodyBytes = 4 << 20

// reservedFormKeys are never copied into attributes
var reservedFormKeys = map[string]bool{
	ParamLevel:      true,
	ParamTime:       true,
	ParamSourceNode: true,
	ParamMessage:    true,
	"id":            true,
}

// HTTPToModel converts HTTP requests into model values.
type HTTPToModel struct {
	parsers      fastjson.ParserPool
	maxBodyBytes int64
}

// NewHTTPToModel creates a new converter. maxBodyBytes <= 0 selects the default.
func NewHTTPToModel(maxBodyBytes int64) *HTTPToModel {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPToModel{maxBodyBytes: maxBodyBytes}
}

// QueryParams are the parameters of a record query
type QueryParams struct {
	Level   string
	Filter  model.TimeFilter
	Keyword string
	PageNum int
}

// InspectorParams are the parameters of the inspector view
type InspectorParams struct {
	SortedName string
	PageNum    int
}

// ReportRequest reads one record from a form-encoded, query-string or JSON request.
func (c *HTTPToModel) ReportRequest(r *http.Request) (*model.LogRecord, error) {
	if isJSON(r) {
		body, err := c.readBody(r)
		if err != nil {
			return nil, err
		}
		p := c.parsers.Get()
		defer c.parsers.Put(p)

		v, err := p.ParseBytes(body)
		if err != nil {
			return nil, apierrors.InvalidArgument("invalid JSON body", err)
		}
		if v.Type() != fastjson.TypeObject {
			return nil, apierrors.InvalidArgument("report body must be a JSON object", nil)
		}
		return recordFromJSON(v)
	}

	r.Body = http.MaxBytesReader(nil, r.Body, c.maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, apierrors.InvalidArgument("invalid form body", err)
	}
	return recordFromForm(r)
}

// BatchRequest reads a JSON array of records
func (c *HTTPToModel) BatchRequest(r *http.Request) ([]*model.LogRecord, error) {
	body, err := c.readBody(r)
	if err != nil {
		return nil, err
	}
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, apierrors.InvalidArgument("invalid JSON body", err)
	}
	items, err := v.Array()
	if err != nil {
		return nil, apierrors.InvalidArgument("batch body must be a JSON array", err)
	}

	recs := make([]*model.LogRecord, 0, len(items))
	for i, item := range items {
		if item.Type() != fastjson.TypeObject {
			return nil, apierrors.InvalidArgument(fmt.Sprintf("batch element %d is not an object", i), nil)
		}
		rec, err := recordFromJSON(item)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// QueryRequest reads the parameters of GET /log/{level}
func (c *HTTPToModel) QueryRequest(r *http.Request) (*QueryParams, error) {
	query := r.URL.Query()

	level := mux.Vars(r)[ParamLevel]
	if strings.TrimSpace(level) == "" {
		return nil, apierrors.InvalidLevel(level, "level is required")
	}

	filter, err := ParseTimeFilter(query.Get(ParamTime))
	if err != nil {
		return nil, err
	}

	pageNum, err := parsePageNum(query.Get(ParamPageNum))
	if err != nil {
		return nil, err
	}

	return &QueryParams{
		Level:   level,
		Filter:  filter,
		Keyword: query.Get(ParamKeyword),
		PageNum: pageNum,
	}, nil
}

// InspectorRequest reads the parameters of GET /log/inspector.json
func (c *HTTPToModel) InspectorRequest(r *http.Request) (*InspectorParams, error) {
	query := r.URL.Query()

	pageNum, err := parsePageNum(query.Get(ParamPageNum))
	if err != nil {
		return nil, err
	}

	sortedName := query.Get(ParamSortedName)
	if sortedName == "" {
		sortedName = string(model.DefaultSortField)
	}

	return &InspectorParams{
		SortedName: sortedName,
		PageNum:    pageNum,
	}, nil
}

// epochSecondsDigits is the width of epoch seconds from 2001 to 2286. Integers
// of any other width are epoch milliseconds.
const epochSecondsDigits = 10

// ParseTime accepts epoch milliseconds, ten digit epoch seconds or any layout
// dateparse recognizes. Layouts without a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if len(strings.TrimPrefix(s, "-")) == epochSecondsDigits {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, apierrors.InvalidArgument(fmt.Sprintf("unrecognized time %q", s), err)
	}
	return t.UTC(), nil
}

// ParseTimeFilter reads "since" or "since,until". Empty input is no filter.
func ParseTimeFilter(s string) (model.TimeFilter, error) {
	var filter model.TimeFilter
	s = strings.TrimSpace(s)
	if s == "" {
		return filter, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return filter, apierrors.InvalidArgument("time must be 'since' or 'since,until'", nil)
	}

	since, err := ParseTime(parts[0])
	if err != nil {
		return filter, err
	}
	filter.Since = since

	if len(parts) == 2 {
		until, err := ParseTime(parts[1])
		if err != nil {
			return filter, err
		}
		filter.Until = until
	}

	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return filter, apierrors.InvalidArgument("time range end precedes its start", nil)
	}
	return filter, nil
}

func parsePageNum(s string) (int, error) {
	if s == "" {
		return model.FirstPage, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apierrors.InvalidArgument(fmt.Sprintf("%s must be an integer", ParamPageNum), err)
	}
	return model.NormalizePage(n), nil
}

func (c *HTTPToModel) readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, apierrors.InvalidArgument("failed to read request body", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, apierrors.InvalidArgument(fmt.Sprintf("request body exceeds %d bytes", c.maxBodyBytes), nil)
	}
	return body, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func recordFromForm(r *http.Request) (*model.LogRecord, error) {
	t, err := ParseTime(r.Form.Get(ParamTime))
	if err != nil {
		return nil, err
	}

	rec := &model.LogRecord{
		Level:      r.Form.Get(ParamLevel),
		Time:       t,
		SourceNode: r.Form.Get(ParamSourceNode),
		Message:    r.Form.Get(ParamMessage),
	}

	for key, values := range r.Form {
		if reservedFormKeys[key] || len(values) == 0 {
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]interface{})
		}
		if len(values) == 1 {
			rec.Attributes[key] = values[0]
		} else {
			rec.Attributes[key] = append([]string(nil), values...)
		}
	}
	return rec, nil
}

func recordFromJSON(v *fastjson.Value) (*model.LogRecord, error) {
	rec := &model.LogRecord{
		Level:      string(v.GetStringBytes(ParamLevel)),
		SourceNode: string(v.GetStringBytes(ParamSourceNode)),
		Message:    string(v.GetStringBytes(ParamMessage)),
	}

	if tv := v.Get(ParamTime); tv != nil {
		switch tv.Type() {
		case fastjson.TypeNumber:
			ms, err := tv.Int64()
			if err != nil {
				return nil, apierrors.InvalidArgument("time must be epoch milliseconds", err)
			}
			rec.Time = time.UnixMilli(ms).UTC()
		case fastjson.TypeString:
			t, err := ParseTime(string(tv.GetStringBytes()))
			if err != nil {
				return nil, err
			}
			rec.Time = t
		case fastjson.TypeNull:
		default:
			return nil, apierrors.InvalidArgument("time must be a number or a string", nil)
		}
	}

	if av := v.Get("attributes"); av != nil && av.Type() == fastjson.TypeObject {
		obj, _ := av.Object()
		rec.Attributes = make(map[string]interface{}, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			rec.Attributes[string(key)] = jsonValue(val)
		})
	}
	return rec, nil
}

// jsonValue converts a fastjson value into plain Go values
func jsonValue(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = jsonValue(item)
		}
		return out
	case fastjson.TypeObject:
		obj, _ := v.Object()
		out := make(map[string]interface{}, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			out[string(key)] = jsonValue(val)
		})
		return out
	default:
		return nil
	}
}

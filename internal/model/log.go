package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known severity levels. Any other level string is accepted as-is.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// UnknownSourceNode is recorded when a reporter does not identify itself
const UnknownSourceNode = "unknown"

// BootstrapLevels are provisioned at startup
var BootstrapLevels = []string{LevelInfo, LevelWarn, LevelError}

// LogRecord is a single report pushed by a remote node
type LogRecord struct {
	ID         string                 `json:"id,omitempty"`
	Level      string                 `json:"level"`
	Time       time.Time              `json:"time"`
	SourceNode string                 `json:"sourceNode"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Clone returns a copy that shares no mutable state with r
func (r *LogRecord) Clone() *LogRecord {
	c := *r
	if r.Attributes != nil {
		c.Attributes = make(map[string]interface{}, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// KeywordScope selects which fields a keyword filter inspects
type KeywordScope string

const (
	// KeywordScopeMessage matches against the message only
	KeywordScopeMessage KeywordScope = "message"
	// KeywordScopeAll matches against the message and every attribute key and value
	KeywordScopeAll KeywordScope = "all"
)

// ParseKeywordScope returns the scope named by s, defaulting to KeywordScopeAll
func ParseKeywordScope(s string) (KeywordScope, error) {
	switch KeywordScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeywordScopeAll:
		return KeywordScopeAll, nil
	case KeywordScopeMessage:
		return KeywordScopeMessage, nil
	default:
		return "", fmt.Errorf("unknown keyword scope %q", s)
	}
}

// SearchTerms returns the fields a keyword filter runs against: the message,
// then each attribute key followed by its value, in key order. A keyword must
// fall within a single term to match.
func (r *LogRecord) SearchTerms(scope KeywordScope) []string {
	if scope == KeywordScopeMessage || len(r.Attributes) == 0 {
		return []string{r.Message}
	}

	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, 1+2*len(keys))
	terms = append(terms, r.Message)
	for _, k := range keys {
		terms = append(terms, k, fmt.Sprint(r.Attributes[k]))
	}
	return terms
}

// MatchesKeyword reports whether some term of the record contains keyword
func (r *LogRecord) MatchesKeyword(keyword string, scope KeywordScope, caseSensitive bool) bool {
	if keyword == "" {
		return true
	}
	if !caseSensitive {
		keyword = strings.ToLower(keyword)
	}
	for _, term := range r.SearchTerms(scope) {
		if !caseSensitive {
			term = strings.ToLower(term)
		}
		if strings.Contains(term, keyword) {
			return true
		}
	}
	return false
}

// TimeFilter restricts a query to records at/after Since and, when set, at/before Until
type TimeFilter struct {
	Since time.Time
	Until time.Time
}

// IsZero reports whether the filter imposes no restriction
func (f TimeFilter) IsZero() bool {
	return f.Since.IsZero() && f.Until.IsZero()
}

// Contains reports whether t passes the filter
func (f TimeFilter) Contains(t time.Time) bool {
	if !f.Since.IsZero() && t.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && t.After(f.Until) {
		return false
	}
	return true
}

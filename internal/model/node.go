package model

import (
	"sort"
	"strings"
	"time"
)

// NoPeriod is reported as AveragePeriod for nodes with fewer than two
// distinct report times.
const NoPeriod float64 = -1

// NodeSpan is the raw per-node aggregate a backend returns
type NodeSpan struct {
	SourceNode    string
	Count         int64
	FirstSeen     time.Time
	LastSeen      time.Time
	DistinctTimes int64
}

// NodeStat describes the reporting activity of one source node
type NodeStat struct {
	SourceNode    string    `json:"sourceNode"`
	ReportCount   int64     `json:"reportCount"`
	AveragePeriod float64   `json:"averagePeriod"` // milliseconds
	LastSeen      time.Time `json:"lastSeen"`
}

// Stat derives the node statistics. The mean of the positive deltas between
// consecutive sorted report times telescopes to the span divided by the
// number of distinct times minus one.
func (s NodeSpan) Stat() NodeStat {
	stat := NodeStat{
		SourceNode:    s.SourceNode,
		ReportCount:   s.Count,
		AveragePeriod: NoPeriod,
		LastSeen:      s.LastSeen,
	}
	if s.DistinctTimes >= 2 {
		span := s.LastSeen.Sub(s.FirstSeen)
		stat.AveragePeriod = float64(span) / float64(time.Millisecond) / float64(s.DistinctTimes-1)
	}
	return stat
}

// SpanOf folds report times into a NodeSpan
func SpanOf(sourceNode string, times []time.Time) NodeSpan {
	span := NodeSpan{SourceNode: sourceNode, Count: int64(len(times))}
	seen := make(map[int64]struct{}, len(times))
	for i, t := range times {
		if i == 0 || t.Before(span.FirstSeen) {
			span.FirstSeen = t
		}
		if i == 0 || t.After(span.LastSeen) {
			span.LastSeen = t
		}
		seen[t.UnixNano()] = struct{}{}
	}
	span.DistinctTimes = int64(len(seen))
	return span
}

// SortField names a NodeStat ordering
type SortField string

const (
	SortAveragePeriod SortField = "averagePeriod"
	SortReportCount   SortField = "reportCount"
	SortLastSeen      SortField = "lastSeen"
	SortSourceNode    SortField = "sourceNode"

	// DefaultSortField is used for empty or unrecognized sort names
	DefaultSortField = SortAveragePeriod
)

// ParseSortField resolves a caller supplied field name. ok is false when the
// name was not recognized and the default was substituted.
func ParseSortField(name string) (field SortField, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "averageperiod", "avgperiod", "avg_period", "average_period":
		return SortAveragePeriod, true
	case "reportcount", "report_count", "count":
		return SortReportCount, true
	case "lastseen", "last_seen":
		return SortLastSeen, true
	case "sourcenode", "source_node", "node":
		return SortSourceNode, true
	default:
		return DefaultSortField, false
	}
}

// SortNodeStats orders stats in place by field; ties fall back to SourceNode ascending.
//
//	averagePeriod: slowest reporters first, nodes without a period last
//	reportCount:   busiest first
//	lastSeen:      stalest first
//	sourceNode:    lexical
func SortNodeStats(stats []NodeStat, field SortField) {
	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		switch field {
		case SortReportCount:
			if a.ReportCount != b.ReportCount {
				return a.ReportCount > b.ReportCount
			}
		case SortLastSeen:
			if !a.LastSeen.Equal(b.LastSeen) {
				return a.LastSeen.Before(b.LastSeen)
			}
		case SortSourceNode:
		default:
			if a.AveragePeriod != b.AveragePeriod {
				return a.AveragePeriod > b.AveragePeriod
			}
		}
		return a.SourceNode < b.SourceNode
	})
}

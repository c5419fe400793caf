// Package model holds the plain data shapes shared across the gateway,
// stream-processor, and query-metrics fleets.
package model

import "time"

// StreamRecord is the wire shape carried on the stream bus: four named
// fields, string-typed and quote-wrapped on write (see pkg/wire).
type StreamRecord struct {
	MessageID string
	EventType string
	Payload   string
	Metadata  string
}

// Enrichment holds the columns EnrichmentLookup contributes to a downstream
// ingestion row when it resolves a hit.
type Enrichment struct {
	ContainerNumber string
	IDTrailer       string
	IDVehicle       string
	HasData         bool
}

// ExecutionPoint is a single observed query execution.
type ExecutionPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs float64   `json:"duration_ms"`
	RowCount   int64     `json:"row_count"`
	Method     string    `json:"method"`
}

// QueryMetric is the aggregate derived from a fingerprint's current sample
// window. Percentiles are computed by linear interpolation over the sorted
// durations in that window, not from all-time history.
type QueryMetric struct {
	QueryHash      string    `json:"query_hash"`
	QueryPattern   string    `json:"query_pattern"`
	ExecutionCount int64     `json:"execution_count"`
	AvgMs          float64   `json:"avg_ms"`
	MinMs          float64   `json:"min_ms"`
	MaxMs          float64   `json:"max_ms"`
	P50            float64   `json:"p50"`
	P95            float64   `json:"p95"`
	P99            float64   `json:"p99"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// ProcessorStatus reports the live state of a LogTailer.
type ProcessorStatus struct {
	FilePath       string    `json:"file_path"`
	FileExists     bool      `json:"file_exists"`
	CurrentPos     int64     `json:"current_position"`
	FileSize       int64     `json:"file_size"`
	LinesProcessed int64     `json:"lines_processed"`
	EntriesParsed  int64     `json:"entries_parsed"`
	ParseErrors    int64     `json:"parse_errors"`
	StartTime      time.Time `json:"start_time"`
	LastReadTime   time.Time `json:"last_read_time"`
	IsRunning      bool      `json:"is_running"`
}

// Overview is the global QueryAggregator summary.
type Overview struct {
	TotalTracked     int64     `json:"total_tracked"`
	TotalExecutions  int64     `json:"total_executions"`
	WeightedAvgMs    float64   `json:"weighted_avg_ms"`
	SlowestP95       float64   `json:"slowest_p95"`
	SlowestHash      string    `json:"slowest_hash"`
	EarliestFirstSeen time.Time `json:"earliest_first_seen"`
	LatestLastSeen   time.Time `json:"latest_last_seen"`
}

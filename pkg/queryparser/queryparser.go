// Package queryparser turns one line of the tailed SQL execution log into
// a fingerprinted ExecutionPoint for QueryAggregator.
//
// The log line format is not specified upstream; this assumes one JSON
// object per line (query, duration_ms, row_count, method, timestamp) and
// pulls fields out with github.com/tidwall/gjson, matching the teacher's
// own path-oriented extraction idiom (internal/engine/registry.go,
// pkg/evaluator/evaluator.go) rather than a full struct unmarshal.
package queryparser

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/model"
	"github.com/tidwall/gjson"
)

var (
	quotedLiteral = regexp.MustCompile(`'[^']*'`)
	numericLiteral = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// Parsed is one tailed log line resolved to its fingerprint and execution
// sample.
type Parsed struct {
	QueryHash       string
	NormalizedQuery string
	Point           model.ExecutionPoint
}

// ParseLine parses one JSON log line. An empty or whitespace-only line is
// not valid JSON and returns a ParseError like any other invalid line;
// callers skip blank lines before calling it so they are not counted as
// parse failures.
func ParseLine(line string) (Parsed, error) {
	if !gjson.Valid(line) {
		return Parsed{}, &ridgeline.ParseError{Context: "query_log_line", Err: fmt.Errorf("not valid json")}
	}
	result := gjson.Parse(line)

	query := result.Get("query").String()
	if query == "" {
		return Parsed{}, &ridgeline.ParseError{Context: "query_log_line", Err: fmt.Errorf("missing query field")}
	}

	normalized := Normalize(query)
	hash := Fingerprint(normalized)

	ep := model.ExecutionPoint{
		DurationMs: result.Get("duration_ms").Float(),
		RowCount:   result.Get("row_count").Int(),
		Method:     strings.ToUpper(result.Get("method").String()),
	}

	ts := result.Get("timestamp")
	switch {
	case ts.Type == gjson.String:
		parsed, err := time.Parse(time.RFC3339, ts.String())
		if err != nil {
			return Parsed{}, &ridgeline.ParseError{Context: "query_log_line_timestamp", Err: err}
		}
		ep.Timestamp = parsed
	case ts.Exists():
		ep.Timestamp = time.UnixMilli(ts.Int()).UTC()
	default:
		ep.Timestamp = time.Now().UTC()
	}

	return Parsed{QueryHash: hash, NormalizedQuery: normalized, Point: ep}, nil
}

// Normalize replaces string and numeric literals with a single '?'
// placeholder and collapses whitespace, producing the query_pattern
// fingerprinting is keyed on.
func Normalize(query string) string {
	q := quotedLiteral.ReplaceAllString(query, "?")
	q = numericLiteral.ReplaceAllString(q, "?")
	q = whitespaceRun.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// Fingerprint is the first 16 hex characters of the MD5 of the normalized
// query.
func Fingerprint(normalizedQuery string) string {
	sum := md5.Sum([]byte(normalizedQuery))
	return hex.EncodeToString(sum[:])[:16]
}

// Package querymetrics implements QueryAggregator: a per-fingerprint
// bounded sample window, percentile computation over that window, and
// TTL-keyed storage with ranking queries.
//
// Grounded on pkg/source/redis's use of github.com/redis/go-redis/v9 for
// the key/value layer. Percentiles are computed in computeMetric by linear
// interpolation over the sorted durations of the current sample window.
package querymetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/model"
)

const indexKey = "q:index"

// Aggregator is the QueryAggregator (QA).
type Aggregator struct {
	client     *redis.Client
	maxSamples int
	ttl        time.Duration
}

// New builds an Aggregator. maxSamples bounds the per-fingerprint sample
// window (default 1000); ttl is applied to every key this component
// writes and slides forward on each write (default 15 days).
func New(client *redis.Client, maxSamples int, ttl time.Duration) *Aggregator {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	if ttl <= 0 {
		ttl = 15 * 24 * time.Hour
	}
	return &Aggregator{client: client, maxSamples: maxSamples, ttl: ttl}
}

func samplesKey(hash string) string { return fmt.Sprintf("q:%s:samples", hash) }
func metricKey(hash string) string  { return fmt.Sprintf("q:%s:metric", hash) }

// Record pushes ep into hash's sample window, recomputes the aggregate
// metric from the current window, and refreshes the fingerprint's index
// membership.
func (a *Aggregator) Record(ctx context.Context, hash, normalizedQuery string, ep model.ExecutionPoint) error {
	raw, err := json.Marshal(ep)
	if err != nil {
		return &ridgeline.ParseError{Context: "execution_point", Err: err}
	}

	sKey := samplesKey(hash)
	pipe := a.client.TxPipeline()
	pipe.LPush(ctx, sKey, raw)
	pipe.LTrim(ctx, sKey, 0, int64(a.maxSamples-1))
	pipe.Expire(ctx, sKey, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return &ridgeline.TransientIOError{Op: "record_samples", Err: err}
	}

	samples, err := a.loadSamples(ctx, hash)
	if err != nil {
		return err
	}
	metric := computeMetric(hash, normalizedQuery, samples)
	if metric == nil {
		return nil
	}

	metricJSON, err := json.Marshal(metric)
	if err != nil {
		return &ridgeline.ParseError{Context: "query_metric", Err: err}
	}
	if err := a.client.Set(ctx, metricKey(hash), metricJSON, a.ttl).Err(); err != nil {
		return &ridgeline.TransientIOError{Op: "record_metric", Err: err}
	}

	pipe = a.client.TxPipeline()
	pipe.SAdd(ctx, indexKey, hash)
	pipe.Expire(ctx, indexKey, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return &ridgeline.TransientIOError{Op: "record_index", Err: err}
	}
	return nil
}

func (a *Aggregator) loadSamples(ctx context.Context, hash string) ([]model.ExecutionPoint, error) {
	raws, err := a.client.LRange(ctx, samplesKey(hash), 0, -1).Result()
	if err != nil {
		return nil, &ridgeline.TransientIOError{Op: "load_samples", Err: err}
	}
	out := make([]model.ExecutionPoint, 0, len(raws))
	for _, r := range raws {
		ep, err := decodeExecutionPoint(r)
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// decodeExecutionPoint tolerates both the native struct encoding and a
// loosely typed JSON-map encoding (e.g. a numeric timestamp instead of
// RFC3339), per the component's deserialization contract.
func decodeExecutionPoint(raw string) (model.ExecutionPoint, error) {
	var ep model.ExecutionPoint
	if err := json.Unmarshal([]byte(raw), &ep); err == nil && !ep.Timestamp.IsZero() {
		return ep, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return model.ExecutionPoint{}, err
	}
	if v, ok := m["duration_ms"].(float64); ok {
		ep.DurationMs = v
	}
	if v, ok := m["row_count"].(float64); ok {
		ep.RowCount = int64(v)
	}
	if v, ok := m["method"].(string); ok {
		ep.Method = v
	}
	switch ts := m["timestamp"].(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ep.Timestamp = parsed
		}
	case float64:
		ep.Timestamp = time.UnixMilli(int64(ts)).UTC()
	}
	return ep, nil
}

func computeMetric(hash, normalizedQuery string, samples []model.ExecutionPoint) *model.QueryMetric {
	if len(samples) == 0 {
		return nil
	}

	durations := make([]float64, len(samples))
	for i, s := range samples {
		durations[i] = s.DurationMs
	}
	sort.Float64s(durations)

	// Linear interpolation between sorted[floor(i)] and sorted[ceil(i)]
	// with i = (p/100) * (n-1).
	percentile := func(p float64) float64 {
		i := (p / 100) * float64(len(durations)-1)
		lo, hi := int(math.Floor(i)), int(math.Ceil(i))
		return durations[lo] + (durations[hi]-durations[lo])*(i-float64(lo))
	}
	p50 := percentile(50)
	p95 := percentile(95)
	p99 := percentile(99)
	sum := 0.0
	for _, d := range durations {
		sum += d
	}

	first, last := samples[0].Timestamp, samples[0].Timestamp
	for _, s := range samples {
		if s.Timestamp.Before(first) {
			first = s.Timestamp
		}
		if s.Timestamp.After(last) {
			last = s.Timestamp
		}
	}

	return &model.QueryMetric{
		QueryHash:      hash,
		QueryPattern:   normalizedQuery,
		ExecutionCount: int64(len(samples)),
		AvgMs:          sum / float64(len(samples)),
		MinMs:          durations[0],
		MaxMs:          durations[len(durations)-1],
		P50:            truncateMs(p50),
		P95:            truncateMs(p95),
		P99:            truncateMs(p99),
		FirstSeen:      first,
		LastSeen:       last,
	}
}

// truncateMs truncates (not rounds) a percentile value to a whole
// millisecond, per the component's contract.
func truncateMs(v float64) float64 { return math.Trunc(v) }

func (a *Aggregator) loadMetric(ctx context.Context, hash string) (*model.QueryMetric, error) {
	raw, err := a.client.Get(ctx, metricKey(hash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &ridgeline.TransientIOError{Op: "load_metric", Err: err}
	}
	var m model.QueryMetric
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, &ridgeline.ParseError{Context: "query_metric", Err: err}
	}
	return &m, nil
}

func (a *Aggregator) allMetrics(ctx context.Context) ([]model.QueryMetric, error) {
	hashes, err := a.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, &ridgeline.TransientIOError{Op: "load_index", Err: err}
	}
	out := make([]model.QueryMetric, 0, len(hashes))
	for _, h := range hashes {
		m, err := a.loadMetric(ctx, h)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// Slowest returns up to limit metrics ordered by p95 descending.
func (a *Aggregator) Slowest(ctx context.Context, limit int) ([]model.QueryMetric, error) {
	all, err := a.allMetrics(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].P95 > all[j].P95 })
	return capSlice(all, limit), nil
}

// MostFrequent returns up to limit metrics ordered by execution_count
// descending.
func (a *Aggregator) MostFrequent(ctx context.Context, limit int) ([]model.QueryMetric, error) {
	all, err := a.allMetrics(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExecutionCount > all[j].ExecutionCount })
	return capSlice(all, limit), nil
}

// Detail returns the metric and up to the first 100 samples for hash.
func (a *Aggregator) Detail(ctx context.Context, hash string) (*model.QueryMetric, []model.ExecutionPoint, error) {
	metric, err := a.loadMetric(ctx, hash)
	if err != nil || metric == nil {
		return metric, nil, err
	}
	raws, err := a.client.LRange(ctx, samplesKey(hash), 0, 99).Result()
	if err != nil {
		return metric, nil, &ridgeline.TransientIOError{Op: "detail_samples", Err: err}
	}
	samples := make([]model.ExecutionPoint, 0, len(raws))
	for _, r := range raws {
		if ep, err := decodeExecutionPoint(r); err == nil {
			samples = append(samples, ep)
		}
	}
	return metric, samples, nil
}

// Overview summarizes the whole tracked set.
func (a *Aggregator) Overview(ctx context.Context) (*model.Overview, error) {
	all, err := a.allMetrics(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return &model.Overview{}, nil
	}

	ov := &model.Overview{TotalTracked: int64(len(all))}
	var weightedSum float64
	for i, m := range all {
		ov.TotalExecutions += m.ExecutionCount
		weightedSum += m.AvgMs * float64(m.ExecutionCount)
		if i == 0 || m.P95 > ov.SlowestP95 {
			ov.SlowestP95 = m.P95
			ov.SlowestHash = m.QueryHash
		}
		if i == 0 || m.FirstSeen.Before(ov.EarliestFirstSeen) {
			ov.EarliestFirstSeen = m.FirstSeen
		}
		if i == 0 || m.LastSeen.After(ov.LatestLastSeen) {
			ov.LatestLastSeen = m.LastSeen
		}
	}
	if ov.TotalExecutions > 0 {
		ov.WeightedAvgMs = weightedSum / float64(ov.TotalExecutions)
	}
	return ov, nil
}

func capSlice(all []model.QueryMetric, limit int) []model.QueryMetric {
	if limit <= 0 || limit >= len(all) {
		return all
	}
	return all[:limit]
}

package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/roomfire/internal/chat"
)

const shardCount = 32

// BucketSeconds is the width of a throughput bucket.
const BucketSeconds = 10

// Record is the outcome of one resolved task.
type Record struct {
	TimestampMs int64 // send time, ms since the collector started
	Kind        chat.Kind
	Latency     time.Duration // zero for failures
	Status      int
	RoomID      int
}

// OK reports whether the record is a success.
func (r Record) OK() bool { return r.Status == StatusOK }

// LatencyMs returns the latency in fractional milliseconds.
func (r Record) LatencyMs() float64 {
	return float64(r.Latency) / float64(time.Millisecond)
}

type shard struct {
	mu       sync.Mutex
	records  []Record
	rooms    map[int]int64
	kinds    map[chat.Kind]int64
	statuses map[int]int64
}

func newShard() *shard {
	return &shard{
		rooms:    make(map[int]int64),
		kinds:    make(map[chat.Kind]int64),
		statuses: make(map[int]int64),
	}
}

// Collector aggregates task outcomes and connection events from all workers.
// Records land in one of several mutex-guarded shards; global counters are
// atomics.
type Collector struct {
	shards [shardCount]*shard
	next   atomic.Uint64
	start  atomic.Pointer[time.Time]

	successes     atomic.Int64
	failures      atomic.Int64
	created       atomic.Int64
	reconnections atomic.Int64
	reused        atomic.Int64
	closed        atomic.Int64

	histMu     sync.Mutex
	hist       *hdrhistogram.Histogram
	latencySum time.Duration
}

// NewCollector returns an empty collector whose clock starts now.
func NewCollector() *Collector {
	c := &Collector{
		// Track latencies from 1µs up to 60s with 3 significant figures.
		hist: hdrhistogram.New(1, 60_000_000, 3),
	}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	c.Start()
	return c
}

// Start resets the clock record timestamps are measured from.
func (c *Collector) Start() {
	now := time.Now()
	c.start.Store(&now)
}

// StartTime returns the collector epoch.
func (c *Collector) StartTime() time.Time {
	return *c.start.Load()
}

// Timestamp converts t to milliseconds since the collector started.
func (c *Collector) Timestamp(t time.Time) int64 {
	return t.Sub(c.StartTime()).Milliseconds()
}

// Record stores one task outcome. Safe for concurrent use.
func (c *Collector) Record(r Record) {
	s := c.shards[c.next.Add(1)%shardCount]
	s.mu.Lock()
	s.records = append(s.records, r)
	s.rooms[r.RoomID]++
	s.kinds[r.Kind]++
	s.statuses[r.Status]++
	s.mu.Unlock()

	if !r.OK() {
		c.failures.Add(1)
		return
	}
	c.successes.Add(1)

	us := r.Latency.Microseconds()
	c.histMu.Lock()
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)
	c.latencySum += r.Latency
	c.histMu.Unlock()
}

// ConnectionCreated counts a successful dial.
func (c *Collector) ConnectionCreated(int) { c.created.Add(1) }

// Reconnected counts a mapped connection found closed.
func (c *Collector) Reconnected(int) { c.reconnections.Add(1) }

// ConnectionReused counts a task served by an already open connection.
func (c *Collector) ConnectionReused(int) { c.reused.Add(1) }

// ConnectionClosed counts a connection reaching the closed state.
func (c *Collector) ConnectionClosed(int) { c.closed.Add(1) }

// Counters is a point-in-time copy of the atomic counters.
type Counters struct {
	Successes          int64 `json:"successes" yaml:"successes"`
	Failures           int64 `json:"failures" yaml:"failures"`
	ConnectionsCreated int64 `json:"connections_created" yaml:"connections_created"`
	Reconnections      int64 `json:"reconnections" yaml:"reconnections"`
	ConnectionsReused  int64 `json:"connections_reused" yaml:"connections_reused"`
	ConnectionsClosed  int64 `json:"connections_closed" yaml:"connections_closed"`
	ActiveConnections  int64 `json:"active_connections" yaml:"active_connections"`
}

// Total returns successes plus failures.
func (c Counters) Total() int64 { return c.Successes + c.Failures }

// Counters returns the current counter values.
func (c *Collector) Counters() Counters {
	created := c.created.Load()
	closed := c.closed.Load()
	active := created - closed
	if active < 0 {
		active = 0
	}
	return Counters{
		Successes:          c.successes.Load(),
		Failures:           c.failures.Load(),
		ConnectionsCreated: created,
		Reconnections:      c.reconnections.Load(),
		ConnectionsReused:  c.reused.Load(),
		ConnectionsClosed:  closed,
		ActiveConnections:  active,
	}
}

// Records returns a copy of every record ordered by timestamp.
func (c *Collector) Records() []Record {
	var out []Record
	for _, s := range c.shards {
		s.mu.Lock()
		out = append(out, s.records...)
		s.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out
}

// Snapshot is a cheap live view used for progress output.
type Snapshot struct {
	Counters
	Elapsed     time.Duration
	MeanLatency time.Duration
	P50Latency  time.Duration
	P99Latency  time.Duration

	// Histogram totals, read together with the quantiles.
	LatencyCount int64
	LatencySum   time.Duration
}

// Snapshot reads counters and histogram quantiles without touching the
// record shards.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{Counters: c.Counters(), Elapsed: time.Since(c.StartTime())}
	c.histMu.Lock()
	defer c.histMu.Unlock()
	if n := c.hist.TotalCount(); n > 0 {
		snap.LatencyCount = n
		snap.LatencySum = c.latencySum
		snap.MeanLatency = c.latencySum / time.Duration(n)
		snap.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		snap.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	return snap
}

// ThroughputBucket counts records sent within one bucket.
type ThroughputBucket struct {
	Second int64 `json:"time_seconds" yaml:"time_seconds"`
	Count  int64 `json:"messages" yaml:"messages"`
}

// Stats is derived from the stored records on demand.
type Stats struct {
	Counters `yaml:",inline"`
	Total    int64 `json:"total" yaml:"total"`

	MinLatency    time.Duration `json:"-" yaml:"-"`
	MaxLatency    time.Duration `json:"-" yaml:"-"`
	MeanLatency   time.Duration `json:"-" yaml:"-"`
	MedianLatency time.Duration `json:"-" yaml:"-"`
	P95Latency    time.Duration `json:"-" yaml:"-"`
	P99Latency    time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs    float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs    float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs   float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	MedianLatencyMs float64 `json:"median_latency_ms" yaml:"median_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs    float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`

	RoomCounts   map[int]int64       `json:"room_counts,omitempty" yaml:"room_counts,omitempty"`
	KindCounts   map[chat.Kind]int64 `json:"kind_counts,omitempty" yaml:"kind_counts,omitempty"`
	StatusCounts map[int]int64       `json:"status_counts,omitempty" yaml:"status_counts,omitempty"`
	Throughput   []ThroughputBucket  `json:"throughput,omitempty" yaml:"throughput,omitempty"`
}

// Stats computes latency statistics over successful records and per-room,
// per-kind, per-status and throughput counts over all records.
func (c *Collector) Stats() Stats {
	stats := Stats{
		Counters:     c.Counters(),
		RoomCounts:   make(map[int]int64),
		KindCounts:   make(map[chat.Kind]int64),
		StatusCounts: make(map[int]int64),
	}

	var latencies []time.Duration
	buckets := make(map[int64]int64)
	for _, s := range c.shards {
		s.mu.Lock()
		for room, n := range s.rooms {
			stats.RoomCounts[room] += n
		}
		for kind, n := range s.kinds {
			stats.KindCounts[kind] += n
		}
		for status, n := range s.statuses {
			stats.StatusCounts[status] += n
		}
		for _, r := range s.records {
			buckets[BucketOf(r.TimestampMs)]++
			if r.OK() {
				latencies = append(latencies, r.Latency)
			}
		}
		s.mu.Unlock()
	}
	stats.Total = stats.Successes + stats.Failures
	stats.Throughput = sortedBuckets(buckets)

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		stats.MinLatency = latencies[0]
		stats.MaxLatency = latencies[len(latencies)-1]
		stats.MeanLatency = sum / time.Duration(len(latencies))
		stats.MedianLatency = Median(latencies)
		stats.P95Latency = Percentile(latencies, 0.95)
		stats.P99Latency = Percentile(latencies, 0.99)
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = toMs(stats.MeanLatency)
	stats.MedianLatencyMs = toMs(stats.MedianLatency)
	stats.P95LatencyMs = toMs(stats.P95Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)
	return stats
}

// Percentile returns sorted[floor(n*p)], clamped to the last element.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Median returns sorted[n/2].
func Median(sorted []time.Duration) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}

// BucketOf maps a millisecond timestamp to the start second of its bucket.
func BucketOf(timestampMs int64) int64 {
	return (timestampMs / (BucketSeconds * 1000)) * BucketSeconds
}

func sortedBuckets(m map[int64]int64) []ThroughputBucket {
	if len(m) == 0 {
		return nil
	}
	out := make([]ThroughputBucket, 0, len(m))
	for sec, n := range m {
		out = append(out, ThroughputBucket{Second: sec, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Second < out[j].Second })
	return out
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

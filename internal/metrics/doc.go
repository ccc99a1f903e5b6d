// Package metrics aggregates chat task outcomes for a load run.
//
// Workers report one [Record] per resolved task. The [Collector] stores them
// in sharded append-only slices and keeps success, failure and connection
// counters as atomics, so recording from hundreds of goroutines stays cheap:
//
//	collector := metrics.NewCollector()
//	collector.Record(metrics.Record{
//		TimestampMs: collector.Timestamp(sentAt),
//		Kind:        chat.KindText,
//		Latency:     reply.Latency(),
//		Status:      metrics.StatusOK,
//		RoomID:      7,
//	})
//
// # Statistics
//
// [Collector.Stats] sorts the successful latencies once and derives mean,
// median, p95, p99, min and max, together with per-room, per-kind and
// per-status counts and 10-second throughput buckets keyed by send time.
// Percentiles use the nearest-rank index floor(n*p); the median is element
// n/2.
//
// [Collector.Snapshot] reads only the counters and an HdrHistogram of the
// latencies and is meant for once-a-second progress output.
//
// # Connection events
//
// The Collector satisfies the pool's event interface, counting connections
// created, reused and reconnected, and tracks closes to report the number of
// active connections.
//
// # Prometheus
//
// [NewPrometheusCollector] adapts a Collector to prometheus.Collector so a
// running test can be scraped.
package metrics

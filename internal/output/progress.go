package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/roomfire/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	total     int64
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. total is the planned message count, 0 if unknown.
func NewProgressReporter(collector *metrics.Collector, total int64, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		total:     total,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatProgress(p.collector.Snapshot(), p.total))
		case <-p.done:
			return
		}
	}
}

// FormatProgress renders one progress line from a live snapshot.
func FormatProgress(s metrics.Snapshot, total int64) string {
	done := s.Total()
	rate := 0.0
	if secs := s.Elapsed.Seconds(); secs > 0 {
		rate = float64(done) / secs
	}
	line := fmt.Sprintf("Messages: %d", done)
	if total > 0 {
		line += fmt.Sprintf("/%d (%.0f%%)", total, float64(done)/float64(total)*100)
	}
	line += fmt.Sprintf(" | Failures: %d | Rate: %.1f msg/s | P99: %.1fms | Connections: %d",
		s.Failures, rate, float64(s.P99Latency)/float64(time.Millisecond), s.ActiveConnections)
	return line
}

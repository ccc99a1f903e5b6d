package runner_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/metrics"
	"github.com/torosent/roomfire/internal/pool"
	"github.com/torosent/roomfire/internal/ratelimit"
	"github.com/torosent/roomfire/internal/runner"
	"github.com/torosent/roomfire/internal/source"
	"github.com/torosent/roomfire/internal/websocket"
)

func startEchoServer(t *testing.T, delay time.Duration) string {
	t.Helper()
	// Server goroutines outlive the test's client side, so they must not
	// log through t.
	server := httptest.NewServer(chat.NewEchoHandler(chat.EchoConfig{
		Logger:        zap.NewNop(),
		ResponseDelay: delay,
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialerOpener(url string, collector *metrics.Collector) pool.Opener {
	return pool.DialerOpener(websocket.NewDialer(websocket.Config{
		ServerURL: url,
		OnClose:   collector.ConnectionClosed,
	}))
}

func TestRunnerEndToEnd(t *testing.T) {
	url := startEchoServer(t, 0)
	collector := metrics.NewCollector()
	const total = 400

	r := runner.New(runner.Options{
		Total:          total,
		Rooms:          5,
		QueueCapacity:  50,
		WarmupWorkers:  4,
		WarmupQuota:    25,
		Parallelism:    2,
		MainMultiplier: 3,
		PollTimeout:    100 * time.Millisecond,
		Opener:         dialerOpener(url, collector),
		Collector:      collector,
		Logger:         zaptest.NewLogger(t),
	})

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Successes+res.Failures != total {
		t.Fatalf("success+failure = %d, want %d (%s)", res.Successes+res.Failures, total, res)
	}
	if res.Failures != 0 {
		t.Errorf("failures = %d, want 0", res.Failures)
	}
	if res.Generated != total || res.Unprocessed != 0 {
		t.Errorf("generated/unprocessed = %d/%d", res.Generated, res.Unprocessed)
	}
	if res.Warmup.Workers != 4 || res.Warmup.Tasks != 100 {
		t.Errorf("warmup = %+v, want 4 workers / 100 tasks", res.Warmup)
	}
	if res.Main.Workers != 6 || res.Main.Tasks != 300 {
		t.Errorf("main = %+v, want 6 workers / 300 tasks", res.Main)
	}
	if res.Warmup.TimedOut || res.Main.TimedOut {
		t.Error("no phase should time out")
	}
	if !res.Main.Start.After(res.Warmup.Start) || res.Duration <= 0 {
		t.Errorf("phase timestamps not recorded: %+v", res)
	}

	stats := collector.Stats()
	// Each of the 10 workers opens at most one connection per room.
	if stats.ConnectionsCreated == 0 || stats.ConnectionsCreated > 10*5 {
		t.Errorf("connections created = %d, want 1..50", stats.ConnectionsCreated)
	}
	if stats.Reconnections != 0 {
		t.Errorf("reconnections = %d, want 0", stats.Reconnections)
	}
	if stats.ConnectionsReused != total-stats.ConnectionsCreated {
		t.Errorf("reused = %d, want %d", stats.ConnectionsReused, total-stats.ConnectionsCreated)
	}
	var rooms int64
	for room, n := range stats.RoomCounts {
		if room < 1 || room > 5 {
			t.Errorf("unexpected room %d", room)
		}
		rooms += n
	}
	if rooms != total {
		t.Errorf("room counts sum to %d", rooms)
	}
	if !(stats.MinLatency <= stats.MedianLatency && stats.MedianLatency <= stats.P95Latency &&
		stats.P95Latency <= stats.P99Latency && stats.P99Latency <= stats.MaxLatency) {
		t.Errorf("latency ordering violated: %+v", stats)
	}
	// Every worker closed its pool on exit.
	if stats.ActiveConnections != 0 {
		t.Errorf("active connections after run = %d, want 0", stats.ActiveConnections)
	}
}

type timeoutConn struct{ roomID int }

func (c *timeoutConn) RoomID() int  { return c.roomID }
func (c *timeoutConn) IsOpen() bool { return true }
func (c *timeoutConn) Exchange(ctx context.Context, payload []byte, timeout time.Duration) (websocket.Reply, error) {
	return websocket.Reply{}, websocket.ErrResponseTimeout
}
func (c *timeoutConn) Close() error { return nil }

func TestRunnerRecordsExhaustedTasksAsFailures(t *testing.T) {
	var exchanges atomic.Int64
	opener := pool.OpenerFunc(func(ctx context.Context, roomID int) (pool.Connection, error) {
		return &countingConn{timeoutConn: timeoutConn{roomID: roomID}, calls: &exchanges}, nil
	})

	collector := metrics.NewCollector()
	r := runner.New(runner.Options{
		Total:          6,
		WarmupWorkers:  0,
		Parallelism:    1,
		MainMultiplier: 2,
		MainTiming:     runner.Timing{BackoffBase: time.Millisecond},
		PollTimeout:    50 * time.Millisecond,
		Opener:         opener,
		Collector:      collector,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failures != 6 || res.Successes != 0 {
		t.Fatalf("result = %s, want 6 failures", res)
	}
	if got := exchanges.Load(); got != 6*5 {
		t.Errorf("exchanges = %d, want 30 (5 attempts per task)", got)
	}
	if n := collector.Stats().StatusCounts[metrics.StatusTimeout]; n != 6 {
		t.Errorf("timeout records = %d, want 6", n)
	}
}

type countingConn struct {
	timeoutConn
	calls *atomic.Int64
}

func (c *countingConn) Exchange(ctx context.Context, payload []byte, timeout time.Duration) (websocket.Reply, error) {
	c.calls.Add(1)
	return c.timeoutConn.Exchange(ctx, payload, timeout)
}

func TestRunnerConnectFailureIsRetriedThenUnavailable(t *testing.T) {
	var dials atomic.Int64
	opener := pool.OpenerFunc(func(ctx context.Context, roomID int) (pool.Connection, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})
	collector := metrics.NewCollector()
	r := runner.New(runner.Options{
		Total:          2,
		Parallelism:    1,
		MainMultiplier: 1,
		MaxAttempts:    3,
		MainTiming:     runner.Timing{BackoffBase: time.Millisecond},
		PollTimeout:    50 * time.Millisecond,
		Opener:         opener,
		Collector:      collector,
	})
	res, _ := r.Run(context.Background())
	if res.Failures != 2 {
		t.Fatalf("failures = %d, want 2", res.Failures)
	}
	if got := dials.Load(); got != 6 {
		t.Errorf("dials = %d, want 6 (3 attempts per task)", got)
	}
	if n := collector.Stats().StatusCounts[metrics.StatusUnavailable]; n != 2 {
		t.Errorf("unavailable records = %d, want 2", n)
	}
}

func TestRunnerTimeoutReconnects(t *testing.T) {
	url := startEchoServer(t, 50*time.Millisecond)
	collector := metrics.NewCollector()

	r := runner.New(runner.Options{
		Total:          3,
		Rooms:          1,
		Parallelism:    1,
		MainMultiplier: 1,
		MaxAttempts:    2,
		MainTiming:     runner.Timing{ResponseTimeout: 10 * time.Millisecond, BackoffBase: time.Millisecond},
		PollTimeout:    50 * time.Millisecond,
		Opener:         dialerOpener(url, collector),
		Collector:      collector,
	})
	res, _ := r.Run(context.Background())
	if res.Failures != 3 {
		t.Fatalf("failures = %d, want 3 (%s)", res.Failures, res)
	}
	stats := collector.Stats()
	// Every timeout closes the connection, so each later attempt reconnects.
	if stats.Reconnections != 5 || stats.ConnectionsCreated != 6 {
		t.Errorf("reconnections/created = %d/%d, want 5/6", stats.Reconnections, stats.ConnectionsCreated)
	}
}

func TestRunnerPhaseTimeoutProceeds(t *testing.T) {
	url := startEchoServer(t, 200*time.Millisecond)
	collector := metrics.NewCollector()

	r := runner.New(runner.Options{
		Total:            4,
		Rooms:            1,
		WarmupWorkers:    1,
		WarmupQuota:      4,
		WarmupTimeout:    50 * time.Millisecond,
		GracefulShutdown: time.Second,
		PollTimeout:      50 * time.Millisecond,
		Opener:           dialerOpener(url, collector),
		Collector:        collector,
	})
	start := time.Now()
	res, _ := r.Run(context.Background())

	if !res.Warmup.TimedOut {
		t.Fatal("warmup should have timed out")
	}
	if res.Warmup.Duration() > 150*time.Millisecond {
		t.Errorf("warmup lasted %s, want it to stop waiting at the 50ms timeout", res.Warmup.Duration())
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %s, want bounded by the grace period", elapsed)
	}
	if res.Successes+res.Failures+res.Unprocessed != res.Total {
		t.Errorf("result does not account for every task: %s", res)
	}
}

func TestRunnerRateLimitsMainPhase(t *testing.T) {
	url := startEchoServer(t, 0)
	collector := metrics.NewCollector()

	r := runner.New(runner.Options{
		Total:          30,
		Rooms:          2,
		Parallelism:    1,
		MainMultiplier: 4,
		PollTimeout:    50 * time.Millisecond,
		Limiter:        ratelimit.NewWindow(10, ratelimit.WithWindow(100*time.Millisecond)),
		Opener:         dialerOpener(url, collector),
		Collector:      collector,
		Generator: source.NewGenerator(source.Config{
			Total: 30,
			Rooms: 2,
			Rand:  rand.New(rand.NewPCG(3, 4)),
		}),
	})
	start := time.Now()
	res, _ := r.Run(context.Background())
	if res.Successes != 30 {
		t.Fatalf("successes = %d, want 30", res.Successes)
	}
	// 10 permits per 100ms window: 30 sends need at least two refills.
	if elapsed := time.Since(start); elapsed < 190*time.Millisecond {
		t.Errorf("30 sends at 10/100ms took %s, want ~200ms", elapsed)
	}
}

func TestRunnerRequiresOpener(t *testing.T) {
	_, err := runner.New(runner.Options{Total: 1}).Run(context.Background())
	if !errors.Is(err, runner.ErrNoOpener) {
		t.Fatalf("Run() error = %v, want ErrNoOpener", err)
	}
}

func TestRunnerWarmupRetriesBackOff(t *testing.T) {
	var mu sync.Mutex
	var dials []time.Time
	opener := pool.OpenerFunc(func(ctx context.Context, roomID int) (pool.Connection, error) {
		mu.Lock()
		dials = append(dials, time.Now())
		mu.Unlock()
		return nil, errors.New("connection refused")
	})

	// Only the main phase timing is set; warmup falls back to its defaults.
	r := runner.New(runner.Options{
		Total:         1,
		WarmupWorkers: 1,
		WarmupQuota:   1,
		MaxAttempts:   3,
		MainTiming:    runner.Timing{BackoffBase: 200 * time.Millisecond},
		PollTimeout:   50 * time.Millisecond,
		Opener:        opener,
	})
	res, _ := r.Run(context.Background())
	if res.Failures != 1 {
		t.Fatalf("failures = %d, want 1 (%s)", res.Failures, res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dials) != 3 {
		t.Fatalf("dials = %d, want 3", len(dials))
	}
	base := runner.DefaultWarmupTiming.BackoffBase
	for i := 1; i < len(dials); i++ {
		want := base << i
		if gap := dials[i].Sub(dials[i-1]); gap < want {
			t.Errorf("gap before attempt %d = %s, want >= %s", i+1, gap, want)
		}
	}
}

package runner

import (
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/roomfire/internal/metrics"
	"github.com/torosent/roomfire/internal/pool"
	"github.com/torosent/roomfire/internal/ratelimit"
	"github.com/torosent/roomfire/internal/source"
)

// Timing holds the per-phase network bounds.
type Timing struct {
	ConnectTimeout  time.Duration // bound on opening a room connection
	ResponseTimeout time.Duration // bound on waiting for a reply
	BackoffBase     time.Duration // retry delay is BackoffBase * 2^attempts; never zero
}

// Options configure the Runner.
type Options struct {
	Total         int // messages to send across both phases
	Rooms         int // rooms 1..Rooms
	QueueCapacity int

	WarmupWorkers int
	WarmupQuota   int // tasks per warmup worker
	WarmupTimeout time.Duration
	WarmupTiming  Timing

	MainWorkerCap  int
	MainMultiplier int // workers per available CPU
	Parallelism    int // 0 uses runtime.NumCPU
	MainTimeout    time.Duration
	MainTiming     Timing

	MaxAttempts      int
	PollTimeout      time.Duration
	GracefulShutdown time.Duration

	ProgressEvery  int // tasks between worker progress logs
	ProgressStride int // every n-th main worker logs progress

	Opener    pool.Opener        // required
	Limiter   ratelimit.Limiter  // gates main-phase sends; nil means unlimited
	Collector *metrics.Collector // nil creates one
	Generator *source.Generator  // nil builds one from Total and Rooms
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// Defaults.
const (
	DefaultTotal            = 500000
	DefaultRooms            = source.DefaultRooms
	DefaultQueueCapacity    = 100000
	DefaultWarmupWorkers    = 32
	DefaultWarmupQuota      = 1000
	DefaultWarmupTimeout    = 10 * time.Minute
	DefaultMainWorkerCap    = 256
	DefaultMainMultiplier   = 8
	DefaultMainTimeout      = 15 * time.Minute
	DefaultMaxAttempts      = 5
	DefaultPollTimeout      = 5 * time.Second
	DefaultGracefulShutdown = 5 * time.Second
	DefaultProgressEvery    = 1000
	DefaultProgressStride   = 5
)

var (
	DefaultWarmupTiming = Timing{ConnectTimeout: 10 * time.Second, ResponseTimeout: 3 * time.Second, BackoffBase: 100 * time.Millisecond}
	DefaultMainTiming   = Timing{ConnectTimeout: 30 * time.Second, ResponseTimeout: 5 * time.Second, BackoffBase: 200 * time.Millisecond}
)

func (t *Timing) normalize(def Timing) {
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = def.ConnectTimeout
	}
	if t.ResponseTimeout <= 0 {
		t.ResponseTimeout = def.ResponseTimeout
	}
	if t.BackoffBase <= 0 {
		t.BackoffBase = def.BackoffBase
	}
}

func (o *Options) normalize() {
	if o.Total < 0 {
		o.Total = 0
	}
	if o.Rooms <= 0 {
		o.Rooms = DefaultRooms
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.WarmupWorkers < 0 {
		o.WarmupWorkers = 0
	}
	if o.WarmupQuota < 0 {
		o.WarmupQuota = 0
	}
	if o.WarmupTimeout <= 0 {
		o.WarmupTimeout = DefaultWarmupTimeout
	}
	o.WarmupTiming.normalize(DefaultWarmupTiming)
	if o.MainWorkerCap <= 0 {
		o.MainWorkerCap = DefaultMainWorkerCap
	}
	if o.MainMultiplier <= 0 {
		o.MainMultiplier = DefaultMainMultiplier
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if o.MainTimeout <= 0 {
		o.MainTimeout = DefaultMainTimeout
	}
	o.MainTiming.normalize(DefaultMainTiming)
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.GracefulShutdown < 0 {
		o.GracefulShutdown = 0
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.ProgressStride <= 0 {
		o.ProgressStride = DefaultProgressStride
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.Unlimited{}
	}
	if o.Collector == nil {
		o.Collector = metrics.NewCollector()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("roomfire")
	}
	if o.Generator == nil {
		o.Generator = source.NewGenerator(source.Config{
			Total:  o.Total,
			Rooms:  o.Rooms,
			Logger: o.Logger.Named("source"),
		})
	}
}

// warmupTotal is the number of tasks handled by the warmup phase, never more
// than Total.
func (o *Options) warmupTotal() int {
	n := o.WarmupWorkers * o.WarmupQuota
	if n > o.Total {
		n = o.Total
	}
	return n
}

// mainWorkers returns min(cap, parallelism*multiplier).
func (o *Options) mainWorkers() int {
	n := o.Parallelism * o.MainMultiplier
	if n > o.MainWorkerCap {
		n = o.MainWorkerCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

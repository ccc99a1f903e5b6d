package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/metrics"
	"github.com/torosent/roomfire/internal/pool"
	"github.com/torosent/roomfire/internal/queue"
	"github.com/torosent/roomfire/internal/ratelimit"
)

// Phase names.
const (
	PhaseWarmup = "warmup"
	PhaseMain   = "main"
)

// PhaseResult describes one completed phase.
type PhaseResult struct {
	Name     string    `json:"name" yaml:"name"`
	Workers  int       `json:"workers" yaml:"workers"`
	Tasks    int       `json:"tasks" yaml:"tasks"`
	Start    time.Time `json:"start" yaml:"start"`
	End      time.Time `json:"end" yaml:"end"`
	TimedOut bool      `json:"timed_out" yaml:"timed_out"`
}

// Duration is the wall time of the phase.
func (p PhaseResult) Duration() time.Duration {
	if p.End.Before(p.Start) {
		return 0
	}
	return p.End.Sub(p.Start)
}

// Result captures execution summary.
type Result struct {
	Total       int64
	Generated   int64
	Successes   int64
	Failures    int64
	Unprocessed int64 // tasks never resolved: Total - (Successes + Failures)
	Warmup      PhaseResult
	Main        PhaseResult
	Duration    time.Duration
}

// ErrNoOpener is returned by Run when Options.Opener is nil.
var ErrNoOpener = errors.New("runner: connection opener is required")

// Runner drives the generator and the two worker phases.
type Runner struct {
	opt Options
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Collector returns the metrics collector the run reports into.
func (r *Runner) Collector() *metrics.Collector { return r.opt.Collector }

// Run executes the warmup and main phases. Each task resolves to exactly one
// record in the collector; tasks still queued when the run stops are counted
// as unprocessed.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.opt.Opener == nil {
		return Result{}, ErrNoOpener
	}
	log := r.opt.Logger

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := queue.New[chat.Task](r.opt.QueueCapacity)
	r.opt.Collector.Start()

	var generated int
	genDone := make(chan struct{})
	go func() {
		defer close(genDone)
		n, err := r.opt.Generator.Run(ctx, q)
		generated = n
		if err != nil && ctx.Err() == nil {
			log.Error("message generation failed", zap.Error(err))
		}
	}()

	warmupQuotas := Partition(r.opt.warmupTotal(), r.opt.WarmupWorkers)
	log.Info("starting warmup phase",
		zap.Int("workers", r.opt.WarmupWorkers),
		zap.Int("tasks", r.opt.warmupTotal()))
	warmup, warmupDone := r.runPhase(ctx, phaseSpec{
		name:    PhaseWarmup,
		quotas:  warmupQuotas,
		timing:  r.opt.WarmupTiming,
		timeout: r.opt.WarmupTimeout,
		limiter: ratelimit.Unlimited{},
	}, q)
	r.logPhase(warmup)

	mainTotal := r.opt.Total - warmup.Tasks
	mainQuotas := Partition(mainTotal, r.opt.mainWorkers())
	var main PhaseResult
	mainDone := closedChan()
	if ctx.Err() == nil {
		log.Info("starting main phase",
			zap.Int("workers", r.opt.mainWorkers()),
			zap.Int("tasks", mainTotal))
		main, mainDone = r.runPhase(ctx, phaseSpec{
			name:    PhaseMain,
			quotas:  mainQuotas,
			timing:  r.opt.MainTiming,
			timeout: r.opt.MainTimeout,
			limiter: r.opt.Limiter,
		}, q)
		r.logPhase(main)
	}

	// Stop the generator and any stragglers, then give them a bounded grace
	// period to record what they were doing.
	cancel()
	if !waitAll(r.opt.GracefulShutdown, warmupDone, mainDone, genDone) {
		log.Warn("graceful shutdown period elapsed with workers still running",
			zap.Duration("grace", r.opt.GracefulShutdown))
	}

	counters := r.opt.Collector.Counters()
	res := Result{
		Total:     int64(r.opt.Total),
		Successes: counters.Successes,
		Failures:  counters.Failures,
		Warmup:    warmup,
		Main:      main,
	}
	select {
	case <-genDone:
		res.Generated = int64(generated)
	default:
	}
	res.Unprocessed = res.Total - (res.Successes + res.Failures)
	if res.Unprocessed < 0 {
		res.Unprocessed = 0
	}
	end := main.End
	if end.IsZero() {
		end = warmup.End
	}
	res.Duration = end.Sub(warmup.Start)
	return res, nil
}

type phaseSpec struct {
	name    string
	quotas  []int
	timing  Timing
	timeout time.Duration
	limiter ratelimit.Limiter
}

// runPhase starts one worker per non-zero quota and waits for them or for
// the phase timeout, whichever comes first. The returned channel closes once
// every worker of the phase has exited.
func (r *Runner) runPhase(ctx context.Context, spec phaseSpec, q *queue.Queue[chat.Task]) (PhaseResult, <-chan struct{}) {
	res := PhaseResult{Name: spec.name, Start: time.Now()}

	var wg sync.WaitGroup
	for i, quota := range spec.quotas {
		if quota <= 0 {
			continue
		}
		w := r.newWorker(i, spec, quota, q)
		res.Workers++
		res.Tasks += quota
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(spec.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		res.TimedOut = true
	case <-ctx.Done():
	}
	res.End = time.Now()
	return res, done
}

func (r *Runner) newWorker(id int, spec phaseSpec, quota int, q *queue.Queue[chat.Task]) *worker {
	logger := r.opt.Logger.With(zap.String("phase", spec.name), zap.Int("worker", id))
	progress := 0
	if spec.name == PhaseMain && id%r.opt.ProgressStride == 0 {
		progress = r.opt.ProgressEvery
	}
	return &worker{
		id:        id,
		phase:     spec.name,
		quota:     quota,
		queue:     q,
		pool:      pool.New(r.opt.Opener, r.opt.Collector, spec.timing.ConnectTimeout),
		limiter:   spec.limiter,
		timing:    spec.timing,
		poll:      r.opt.PollTimeout,
		collector: r.opt.Collector,
		logger:    logger,
		tracer:    r.opt.Tracer,
		retry: RetryPolicy{
			MaxAttempts: r.opt.MaxAttempts,
			BaseDelay:   spec.timing.BackoffBase,
			ShouldRetry: retryable,
		},
		progressEvery: progress,
	}
}

func (r *Runner) logPhase(p PhaseResult) {
	fields := []zap.Field{
		zap.String("phase", p.Name),
		zap.Int("workers", p.Workers),
		zap.Int("tasks", p.Tasks),
		zap.Duration("duration", p.Duration()),
	}
	if p.TimedOut {
		r.opt.Logger.Warn("phase timed out, abandoning stragglers", fields...)
		return
	}
	r.opt.Logger.Info("phase complete", fields...)
}

// waitAll waits up to d for every channel to close.
func waitAll(d time.Duration, chans ...<-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for _, ch := range chans {
		select {
		case <-ch:
			continue
		default:
		}
		select {
		case <-ch:
		case <-timer.C:
			return false
		}
	}
	return true
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// String summarizes the result on one line.
func (r Result) String() string {
	return fmt.Sprintf("total=%d success=%d failure=%d unprocessed=%d duration=%s",
		r.Total, r.Successes, r.Failures, r.Unprocessed, r.Duration)
}

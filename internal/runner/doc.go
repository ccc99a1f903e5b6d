// Package runner provides the execution engine for roomfire.
//
// A run has three cooperating parts:
//   - a generator goroutine that fills a bounded queue with chat tasks
//   - a warmup phase with a fixed worker count and per-worker quotas
//   - a main phase sized from the CPU count and rate limited
//
// Every worker owns a private [pool.RoomPool], so connections are never
// shared between workers. A task is retried with exponential backoff on
// timeouts and connect failures until [Options.MaxAttempts] is reached, then
// recorded as a failure.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Total:     100000,
//		Rooms:     20,
//		Opener:    pool.DialerOpener(dialer),
//		Collector: collector,
//		Limiter:   ratelimit.NewWindow(5000),
//	})
//	res, err := r.Run(ctx)
//
// Phase timeouts do not abort the run. Stragglers of a timed out phase keep
// working while the next phase starts and are cancelled once the main phase
// ends, bounded by [Options.GracefulShutdown].
package runner

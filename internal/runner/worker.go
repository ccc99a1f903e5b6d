package runner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/metrics"
	"github.com/torosent/roomfire/internal/pool"
	"github.com/torosent/roomfire/internal/queue"
	"github.com/torosent/roomfire/internal/ratelimit"
	"github.com/torosent/roomfire/internal/tracing"
	"github.com/torosent/roomfire/internal/websocket"
)

// worker consumes tasks from the shared queue over its own room connections.
type worker struct {
	id    int
	phase string
	quota int

	queue     *queue.Queue[chat.Task]
	pool      *pool.RoomPool
	limiter   ratelimit.Limiter
	retry     RetryPolicy
	timing    Timing
	poll      time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer

	progressEvery int // 0 disables progress logs
	processed     int
}

// run processes tasks until the quota is met, the queue is closed and
// drained, or ctx is cancelled.
func (w *worker) run(ctx context.Context) {
	defer func() {
		if err := w.pool.Close(); err != nil {
			w.logger.Debug("closing room connections", zap.Error(err))
		}
	}()

	for w.quota <= 0 || w.processed < w.quota {
		if ctx.Err() != nil {
			return
		}
		task, err := w.queue.Poll(ctx, w.poll)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrTimeout):
			w.logger.Debug("queue empty, still waiting", zap.Int("processed", w.processed))
			continue
		default:
			// Closed and drained, or cancelled.
			return
		}

		w.process(ctx, task)
		w.processed++

		if w.progressEvery > 0 && w.processed%w.progressEvery == 0 {
			w.logger.Info("worker progress",
				zap.Int("processed", w.processed),
				zap.Int("quota", w.quota))
		}
	}
}

// process resolves one task to exactly one metrics record.
func (w *worker) process(ctx context.Context, task chat.Task) {
	started := time.Now()
	ctx, span := tracing.StartTaskSpan(ctx, w.tracer, w.phase, task)

	var reply websocket.Reply
	err := w.limiter.Acquire(ctx)
	if err == nil {
		reply, err = w.send(ctx, &task)
	}

	rec := metrics.Record{
		TimestampMs: w.collector.Timestamp(started),
		Kind:        task.Message.Kind,
		Status:      statusFor(err),
		RoomID:      task.RoomID,
	}
	if err == nil {
		rec.TimestampMs = w.collector.Timestamp(reply.SentAt)
		rec.Latency = reply.Latency()
	} else {
		w.logger.Debug("task failed",
			zap.Int("room", task.RoomID),
			zap.Int("attempts", task.Attempts),
			zap.Int("status", rec.Status),
			zap.Error(err))
	}
	w.collector.Record(rec)

	attempts := task.Attempts
	if err == nil {
		attempts++
	}
	tracing.EndSpan(span, err,
		tracing.AttrStatus.Int(rec.Status),
		tracing.AttrAttempt.Int(attempts))
}

func (w *worker) send(ctx context.Context, task *chat.Task) (websocket.Reply, error) {
	payload, err := json.Marshal(task.Message)
	if err != nil {
		return websocket.Reply{}, &chat.RejectedError{Status: chat.StatusError, Reason: err.Error()}
	}

	var reply websocket.Reply
	err = w.retry.Do(ctx, task, func(ctx context.Context) error {
		ctx, span := tracing.StartAttemptSpan(ctx, w.tracer, task.RoomID, task.Attempts+1)
		r, err := w.attempt(ctx, task.RoomID, payload)
		tracing.EndSpan(span, err)
		if err == nil {
			reply = r
		}
		return err
	})
	return reply, err
}

func (w *worker) attempt(ctx context.Context, roomID int, payload []byte) (websocket.Reply, error) {
	conn, err := w.pool.GetOrCreate(ctx, roomID)
	if err != nil {
		return websocket.Reply{}, err
	}
	reply, err := conn.Exchange(ctx, payload, w.timing.ResponseTimeout)
	if err != nil {
		return websocket.Reply{}, err
	}
	if resp := chat.ParseResponse(reply.Data); resp.Rejected() {
		return websocket.Reply{}, resp.Err()
	}
	return reply, nil
}

// statusFor maps a task outcome to its record status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return metrics.StatusOK
	case errors.Is(err, chat.ErrRejected):
		return metrics.StatusRejected
	case errors.Is(err, pool.ErrNoConnection):
		// checked first: a dial timeout wraps context.DeadlineExceeded
		return metrics.StatusUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.StatusCancelled
	default:
		return metrics.StatusTimeout
	}
}

// Package source produces the synthetic chat workload.
package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/queue"
)

const (
	DefaultRooms         = 20
	DefaultProgressEvery = 10000
)

// Bodies is the fixed pool message bodies are drawn from.
var Bodies = []string{
	"Hello everyone!",
	"How is it going?",
	"Good morning from the east coast",
	"Anyone around?",
	"Just joined, what did I miss?",
	"That build finally passed",
	"Coffee break, back in ten",
	"Did you see the release notes?",
	"Lunch plans anyone?",
	"Can someone review my change?",
	"The deploy is rolling out now",
	"Thanks for the help earlier",
	"I will be offline this afternoon",
	"Meeting moved to 3pm",
	"Great work on the demo",
	"Who owns the billing service?",
	"Latency looks better today",
	"Restarting the staging cluster",
	"Any tips for the new editor?",
	"Weekend plans?",
	"The dashboard is green again",
	"Ping me if you need anything",
	"Reading through the design doc",
	"Happy Friday!",
	"Found the root cause",
	"Rolling back the last change",
	"New hire starts Monday",
	"Who broke the nightly job?",
	"Pairing on the parser this afternoon",
	"Tests are flaky again",
	"Merged, thanks for the review",
	"Back from vacation",
	"Standup in five minutes",
	"Network is slow here",
	"Trying out the new keyboard",
	"What time is the retro?",
	"Updated the runbook",
	"Cache hit rate is up",
	"Has anyone tried the beta?",
	"Ordering pizza for the team",
	"See you tomorrow",
	"The load test starts soon",
	"Memory usage is stable",
	"Switching to the backup region",
	"Nice catch on that bug",
	"Docs are published",
	"Raising the rate limit",
	"Filed a ticket for that",
	"Closing the incident",
	"Good night all",
}

// Config controls workload generation.
type Config struct {
	Total         int
	Rooms         int
	ProgressEvery int
	Logger        *zap.Logger
	// Rand overrides the random source, mainly for deterministic tests.
	Rand *rand.Rand
	// Now overrides the timestamp clock.
	Now func() time.Time
}

// Generator fills a queue with exactly Total tasks.
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger
}

// NewGenerator applies defaults to cfg and returns a generator.
func NewGenerator(cfg Config) *Generator {
	if cfg.Rooms <= 0 {
		cfg.Rooms = DefaultRooms
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, rng: rng, logger: logger}
}

// Next builds one task.
func (g *Generator) Next() chat.Task {
	id := chat.MinParticipantID + g.rng.IntN(chat.MaxParticipantID-chat.MinParticipantID+1)
	return chat.Task{
		RoomID: 1 + g.rng.IntN(g.cfg.Rooms),
		Message: chat.Message{
			ParticipantID: id,
			DisplayName:   "user" + strconv.Itoa(id),
			Body:          Bodies[g.rng.IntN(len(Bodies))],
			Timestamp:     g.cfg.Now().UTC().Format(time.RFC3339Nano),
			Kind:          g.kind(),
		},
	}
}

// kind draws TEXT 90%, JOIN 5%, LEAVE 5%.
func (g *Generator) kind() chat.Kind {
	switch n := g.rng.IntN(100); {
	case n < 90:
		return chat.KindText
	case n < 95:
		return chat.KindJoin
	default:
		return chat.KindLeave
	}
}

// Run puts Total tasks into q and closes it. It returns the number of tasks
// queued; on cancellation the tasks already queued remain for consumers.
func (g *Generator) Run(ctx context.Context, q *queue.Queue[chat.Task]) (int, error) {
	defer q.Close()

	start := time.Now()
	for i := 0; i < g.cfg.Total; i++ {
		if err := q.Put(ctx, g.Next()); err != nil {
			g.logger.Warn("message generation stopped",
				zap.Int("generated", i),
				zap.Int("total", g.cfg.Total),
				zap.Error(err))
			return i, fmt.Errorf("generate task %d: %w", i+1, err)
		}
		if n := i + 1; n%g.cfg.ProgressEvery == 0 {
			g.logger.Info("generated messages",
				zap.Int("generated", n),
				zap.Int("total", g.cfg.Total),
				zap.Int("queued", q.Len()))
		}
	}
	g.logger.Info("message generation complete",
		zap.Int("total", g.cfg.Total),
		zap.Duration("elapsed", time.Since(start)))
	return g.cfg.Total, nil
}

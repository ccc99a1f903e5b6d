package source

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/queue"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestRunEmitsExactlyTotalThenCloses(t *testing.T) {
	const total = 2500
	q := queue.New[chat.Task](total)
	g := NewGenerator(Config{Total: total, Rand: seeded(), ProgressEvery: 1000, Logger: zaptest.NewLogger(t)})

	n, err := g.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != total || q.Len() != total {
		t.Fatalf("generated %d, queued %d, want %d", n, q.Len(), total)
	}

	for i := 0; i < total; i++ {
		task, err := q.Poll(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Poll #%d: %v", i, err)
		}
		if task.RoomID < 1 || task.RoomID > DefaultRooms {
			t.Fatalf("room %d out of range", task.RoomID)
		}
		if err := task.Message.Validate(); err != nil {
			t.Fatalf("generated invalid message %+v: %v", task.Message, err)
		}
		if task.Attempts != 0 {
			t.Fatalf("new task has %d attempts", task.Attempts)
		}
	}
	if _, err := q.Poll(context.Background(), time.Millisecond); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("Poll after drain = %v, want ErrClosed", err)
	}
}

func TestKindDistribution(t *testing.T) {
	g := NewGenerator(Config{Total: 1, Rand: seeded()})
	counts := map[chat.Kind]int{}
	const n = 100000
	for i := 0; i < n; i++ {
		counts[g.Next().Message.Kind]++
	}

	within := func(kind chat.Kind, want, tol float64) {
		got := float64(counts[kind]) / n
		if got < want-tol || got > want+tol {
			t.Errorf("%s share = %.3f, want %.2f±%.2f", kind, got, want, tol)
		}
	}
	within(chat.KindText, 0.90, 0.01)
	within(chat.KindJoin, 0.05, 0.01)
	within(chat.KindLeave, 0.05, 0.01)
}

func TestNextFieldRanges(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := NewGenerator(Config{Rooms: 3, Rand: seeded(), Now: func() time.Time { return fixed }})
	rooms := map[int]bool{}
	for i := 0; i < 1000; i++ {
		task := g.Next()
		rooms[task.RoomID] = true
		m := task.Message
		if m.ParticipantID < chat.MinParticipantID || m.ParticipantID > chat.MaxParticipantID {
			t.Fatalf("participant %d out of range", m.ParticipantID)
		}
		if want := "user" + strconv.Itoa(m.ParticipantID); m.DisplayName != want {
			t.Fatalf("display name %q, want %q", m.DisplayName, want)
		}
		if m.Timestamp != "2026-01-02T03:04:05Z" {
			t.Fatalf("timestamp %q", m.Timestamp)
		}
	}
	if len(rooms) != 3 {
		t.Errorf("saw rooms %v, want 1..3", rooms)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := queue.New[chat.Task](5)
	g := NewGenerator(Config{Total: 100, Rand: seeded()})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := g.Run(ctx, q)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want DeadlineExceeded", err)
	}
	if n != 5 {
		t.Errorf("generated %d before blocking, want 5", n)
	}
	// Already queued tasks still drain.
	for i := 0; i < 5; i++ {
		if _, err := q.Poll(context.Background(), time.Second); err != nil {
			t.Fatalf("Poll #%d: %v", i, err)
		}
	}
}

func TestBodiesPool(t *testing.T) {
	if len(Bodies) != 50 {
		t.Fatalf("len(Bodies) = %d, want 50", len(Bodies))
	}
	for _, b := range Bodies {
		if len(b) < chat.MinBodyLength || len(b) > chat.MaxBodyLength {
			t.Errorf("body %q has invalid length", b)
		}
	}
}

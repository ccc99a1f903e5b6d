package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/metrics"
	"github.com/torosent/roomfire/internal/runner"
	"github.com/torosent/roomfire/internal/threshold"
)

// NewRunID returns a lexically sortable identifier for one run.
func NewRunID() string {
	return ulid.Make().String()
}

// RoomThroughput is one room's share of the run.
type RoomThroughput struct {
	RoomID    int     `json:"room_id" yaml:"room_id"`
	Messages  int64   `json:"messages" yaml:"messages"`
	PerSecond float64 `json:"per_second" yaml:"per_second"`
}

// KindShare is one message kind's share of the run.
type KindShare struct {
	Kind     chat.Kind `json:"kind" yaml:"kind"`
	Messages int64     `json:"messages" yaml:"messages"`
	Percent  float64   `json:"percent" yaml:"percent"`
}

// Report is the final summary of a run.
type Report struct {
	RunID           string                 `json:"run_id" yaml:"run_id"`
	Server          string                 `json:"server" yaml:"server"`
	Total           int64                  `json:"total" yaml:"total"`
	Successes       int64                  `json:"successes" yaml:"successes"`
	Failures        int64                  `json:"failures" yaml:"failures"`
	Unprocessed     int64                  `json:"unprocessed" yaml:"unprocessed"`
	SuccessRate     float64                `json:"success_rate" yaml:"success_rate"`
	Duration        time.Duration          `json:"-" yaml:"-"`
	DurationSeconds float64                `json:"duration_seconds" yaml:"duration_seconds"`
	Throughput      float64                `json:"throughput_per_sec" yaml:"throughput_per_sec"`
	Warmup          runner.PhaseResult     `json:"warmup" yaml:"warmup"`
	Main            runner.PhaseResult     `json:"main" yaml:"main"`
	Stats           metrics.Stats          `json:"stats" yaml:"stats"`
	Rooms           []RoomThroughput       `json:"rooms,omitempty" yaml:"rooms,omitempty"`
	Kinds           []KindShare            `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Statuses        []metrics.StatusBucket `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Thresholds      []threshold.Result     `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// NewReport derives the report from the run result and final stats. Overall
// and per-room throughput are measured over the whole run duration.
func NewReport(runID, server string, res runner.Result, stats metrics.Stats) Report {
	r := Report{
		RunID:           runID,
		Server:          server,
		Total:           res.Total,
		Successes:       res.Successes,
		Failures:        res.Failures,
		Unprocessed:     res.Unprocessed,
		Duration:        res.Duration,
		DurationSeconds: res.Duration.Seconds(),
		Warmup:          res.Warmup,
		Main:            res.Main,
		Stats:           stats,
		Statuses:        metrics.FlattenStatusCounts(stats.StatusCounts),
	}
	if res.Total > 0 {
		r.SuccessRate = float64(res.Successes) / float64(res.Total) * 100
	}
	secs := res.Duration.Seconds()
	if secs > 0 {
		r.Throughput = float64(res.Successes+res.Failures) / secs
	}

	rooms := make([]int, 0, len(stats.RoomCounts))
	for room := range stats.RoomCounts {
		rooms = append(rooms, room)
	}
	sort.Ints(rooms)
	for _, room := range rooms {
		rt := RoomThroughput{RoomID: room, Messages: stats.RoomCounts[room]}
		if secs > 0 {
			rt.PerSecond = float64(rt.Messages) / secs
		}
		r.Rooms = append(r.Rooms, rt)
	}

	var kindTotal int64
	for _, n := range stats.KindCounts {
		kindTotal += n
	}
	for _, kind := range chat.Kinds {
		n, ok := stats.KindCounts[kind]
		if !ok {
			continue
		}
		r.Kinds = append(r.Kinds, KindShare{
			Kind:     kind,
			Messages: n,
			Percent:  float64(n) / float64(kindTotal) * 100,
		})
	}
	return r
}

// ThresholdsPassed reports whether every evaluated threshold passed.
func (r Report) ThresholdsPassed() bool {
	for _, t := range r.Thresholds {
		if !t.Pass {
			return false
		}
	}
	return true
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w, "\n--- Chat Load Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	fmt.Fprintf(w, "Server:            %s\n", r.Server)
	fmt.Fprintf(w, "Total Messages:    %d\n", r.Total)
	fmt.Fprintf(w, "Successful:        %d\n", r.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", r.Failures)
	if r.Unprocessed > 0 {
		fmt.Fprintf(w, "Unprocessed:       %d\n", r.Unprocessed)
	}
	fmt.Fprintf(w, "Success Rate:      %.2f%%\n", r.SuccessRate)

	fmt.Fprintln(w, "\nTiming:")
	fmt.Fprintf(w, "  Total:           %s\n", r.Duration.Round(time.Millisecond))
	writePhase(w, r.Warmup)
	writePhase(w, r.Main)

	fmt.Fprintln(w, "\nThroughput:")
	fmt.Fprintf(w, "  Overall:         %.2f msg/s\n", r.Throughput)

	s := r.Stats
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", s.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", s.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", s.MeanLatency)
	fmt.Fprintf(w, "  Median:          %s\n", s.MedianLatency)
	fmt.Fprintf(w, "  P95:             %s\n", s.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", s.P99Latency)

	if len(r.Rooms) > 0 {
		fmt.Fprintln(w, "\nThroughput per Room:")
		for _, room := range r.Rooms {
			fmt.Fprintf(w, "  Room %-4d %8d msgs  %10.2f msg/s\n", room.RoomID, room.Messages, room.PerSecond)
		}
	}

	if len(r.Kinds) > 0 {
		fmt.Fprintln(w, "\nMessage Types:")
		for _, k := range r.Kinds {
			fmt.Fprintf(w, "  %-6s %8d  (%.2f%%)\n", k.Kind, k.Messages, k.Percent)
		}
	}

	if len(r.Statuses) > 0 {
		fmt.Fprintln(w, "\nStatus Buckets:")
		for _, b := range r.Statuses {
			fmt.Fprintf(w, "  %d %s: %d\n", b.Code, b.Label, b.Count)
		}
	}

	fmt.Fprintln(w, "\nConnections:")
	fmt.Fprintf(w, "  Created:         %d\n", s.ConnectionsCreated)
	fmt.Fprintf(w, "  Reconnections:   %d\n", s.Reconnections)
	fmt.Fprintf(w, "  Reused:          %d\n", s.ConnectionsReused)

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, t := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", t.Message)
		}
	}
}

func writePhase(w io.Writer, p runner.PhaseResult) {
	if p.Name == "" {
		return
	}
	label := strings.ToUpper(p.Name[:1]) + p.Name[1:] + ":"
	suffix := ""
	if p.TimedOut {
		suffix = " (timed out)"
	}
	fmt.Fprintf(w, "  %-17s%s, %d workers, %d messages%s\n",
		label, p.Duration().Round(time.Millisecond), p.Workers, p.Tasks, suffix)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/torosent/roomfire/internal/metrics"
)

// ErrFileLocked is returned when another process holds the export lock.
var ErrFileLocked = errors.New("output file is locked by another process")

// Column headers of the CSV exports.
var (
	MetricsCSVHeader    = []string{"timestamp", "messageType", "latency", "statusCode", "roomId"}
	ThroughputCSVHeader = []string{"time_seconds", "messages_per_10_seconds"}
)

// WriteMetricsCSV writes one row per record: milliseconds since start,
// message kind, latency in ms (0 for failures), status code and room.
func WriteMetricsCSV(path string, records []metrics.Record) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.TimestampMs, 10),
			string(r.Kind),
			strconv.FormatInt(r.Latency.Milliseconds(), 10),
			strconv.Itoa(r.Status),
			strconv.Itoa(r.RoomID),
		})
	}
	return writeCSV(path, MetricsCSVHeader, rows)
}

// WriteThroughputCSV writes the 10-second throughput buckets.
func WriteThroughputCSV(path string, buckets []metrics.ThroughputBucket) error {
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, []string{
			strconv.FormatInt(b.Second, 10),
			strconv.FormatInt(b.Count, 10),
		})
	}
	return writeCSV(path, ThroughputCSVHeader, rows)
}

// writeCSV holds an advisory lock on path+".lock" so concurrent runs
// pointed at the same file fail instead of interleaving rows.
func writeCSV(path string, header []string, rows [][]string) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", path, ErrFileLocked)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("unlock %s: %w", path, uerr)
		}
		_ = os.Remove(path + ".lock")
	}()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

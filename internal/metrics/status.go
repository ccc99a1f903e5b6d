package metrics

import (
	"sort"
	"strconv"
)

// Status codes attached to each Record.
const (
	StatusOK          = 200 // reply received
	StatusRejected    = 400 // server answered ERROR
	StatusCancelled   = 499 // run cancelled before the task resolved
	StatusUnavailable = 503 // no connection after all attempts
	StatusTimeout     = 504 // no reply after all attempts
)

var statusText = map[int]string{
	StatusOK:          "ok",
	StatusRejected:    "rejected",
	StatusCancelled:   "cancelled",
	StatusUnavailable: "connect failed",
	StatusTimeout:     "response timeout",
}

// StatusText returns a short label for a record status.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "status " + strconv.Itoa(code)
}

// StatusBucket is the number of records resolved with one status.
type StatusBucket struct {
	Code  int    `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
	Count int64  `json:"count" yaml:"count"`
}

// FlattenStatusCounts converts a status->count map into rows sorted by
// descending count, then by code for stability.
func FlattenStatusCounts(counts map[int]int64) []StatusBucket {
	if len(counts) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(counts))
	for code, count := range counts {
		rows = append(rows, StatusBucket{Code: code, Label: StatusText(code), Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Code < rows[j].Code
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

package sensors

import (
	"time"

	"github.com/google/uuid"
)

// SensorDescriptor identifies one sensor of one source.
// It is unique per (SourceID, SensorID) and immutable for the process lifetime.
type SensorDescriptor struct {
	SourceID    string            `json:"sourceId"`
	SensorID    string            `json:"sensorId"`
	DisplayName string            `json:"displayName"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Metric is one named numeric value of a reading.
type Metric struct {
	Name  string
	Value float64
}

// Reading is a single normalized measurement of one sensor at one instant.
// Metrics keep the order the provider reported them in.
type Reading struct {
	SensorID  string
	Timestamp time.Time // always UTC
	Metrics   []Metric
}

// Key returns the dedup key of the reading (sensor id + timestamp).
func (r Reading) Key() ReadingKey {
	return ReadingKey{SensorID: r.SensorID, UnixNano: r.Timestamp.UnixNano()}
}

// Value returns the value of the named metric, if present.
func (r Reading) Value(name string) (float64, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// ReadingKey is the identity used for last-write-wins merging.
type ReadingKey struct {
	SensorID string
	UnixNano int64
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns End-Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls inside [Start, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Fixed leading columns of every query result.
const (
	ColumnSensorID  = "sensorId"
	ColumnTimestamp = "timestamp"
)

// Row is one merged output row. Metrics missing for the row are absent from Values.
type Row struct {
	SensorID  string
	Timestamp time.Time
	Values    map[string]float64
}

// Value returns the value of column name and whether it is present.
func (r Row) Value(name string) (float64, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// QueryResult is the ephemeral result of one query.
type QueryResult struct {
	SourceID      string
	Columns       []string
	Rows          []Row
	TotalRowCount int

	// Warning is set when some fetch units failed but others succeeded.
	Warning *PartialResultWarning
}

// Query statuses reported to callers.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusEmpty   = "empty"
)

// Status distinguishes full, partial and empty results.
func (r *QueryResult) Status() string {
	switch {
	case r.Warning != nil:
		return StatusPartial
	case r.TotalRowCount == 0:
		return StatusEmpty
	default:
		return StatusOK
	}
}

// Head returns at most n leading rows. Preview callers use it with PreviewRows.
func (r *QueryResult) Head(n int) []Row {
	if n < 0 || n >= len(r.Rows) {
		return r.Rows
	}
	return r.Rows[:n]
}

// PreviewRows is the number of rows a preview shows.
const PreviewRows = 10

// SensorStatus is the outcome of one sensor within a collection run.
type SensorStatus struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Readings int    `json:"readings"`
}

// CollectionRun records one scheduler tick for one scheduled source.
type CollectionRun struct {
	RunID      uuid.UUID               `json:"runId"`
	SourceID   string                  `json:"sourceId"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
	Sensors    map[string]SensorStatus `json:"perSensorStatus"`

	// Error is set when the run failed before any sensor was attempted.
	Error string `json:"error,omitempty"`
}

// NewCollectionRun starts a run record for source at startedAt.
func NewCollectionRun(sourceID string, startedAt time.Time) *CollectionRun {
	return &CollectionRun{
		RunID:     uuid.New(),
		SourceID:  sourceID,
		StartedAt: startedAt.UTC(),
		Sensors:   make(map[string]SensorStatus),
	}
}

// Succeeded counts sensors with an ok status.
func (r *CollectionRun) Succeeded() int {
	n := 0
	for _, st := range r.Sensors {
		if st.OK {
			n++
		}
	}
	return n
}

// Outcome summarizes the run as "ok", "partial" or "failed".
func (r *CollectionRun) Outcome() string {
	ok := r.Succeeded()
	switch {
	case r.Error != "" || (ok == 0 && len(r.Sensors) > 0):
		return "failed"
	case ok < len(r.Sensors):
		return "partial"
	default:
		return "ok"
	}
}

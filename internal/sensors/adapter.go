package sensors

import (
	"context"
	"time"
)

// Mode says how a source's history is obtained.
type Mode int

const (
	// ModeLive sources answer time-ranged queries on demand.
	ModeLive Mode = iota
	// ModeScheduled sources only expose recent data and are harvested into the store.
	ModeScheduled
)

func (m Mode) String() string {
	if m == ModeScheduled {
		return "scheduled"
	}
	return "live"
}

// Adapter abstracts one sensor data provider (e.g. AirGradient, Nebo, Envira).
// Provider-specific request and response shapes never leave the adapter.
type Adapter interface {
	// ID is the stable source id, e.g. "airgradient".
	ID() string

	// ListSensors returns the sensors of the source. An unconfigured source
	// returns a *ConfigError.
	ListSensors(ctx context.Context) ([]SensorDescriptor, error)

	// FetchRange returns readings for sensorIDs within [start, end).
	// Per-sensor failures are reported as SensorErrors alongside the readings
	// of the sensors that succeeded.
	FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]Reading, error)

	// MaxInterval is the longest end-start the provider accepts; 0 means no cap.
	MaxInterval() time.Duration

	// Mode reports whether the source is queried live or harvested on a schedule.
	Mode() Mode
}

// SegmentReader is what the engine needs from the durable store.
type SegmentReader interface {
	// Get returns the union of readings stored for the UTC dates first..last (inclusive).
	Get(ctx context.Context, sourceID string, first, last time.Time) ([]Reading, error)
}

// RunRecorder persists collection run outcomes.
type RunRecorder interface {
	Record(ctx context.Context, run *CollectionRun) error
	Recent(ctx context.Context, limit int) ([]*CollectionRun, error)
}

// Observer receives operational measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveFetch(source, outcome string, took time.Duration)
	ObserveRun(run *CollectionRun)
	ObserveSkippedTick(source string)
	ObservePersisted(source string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, string, time.Duration) {}
func (nopObserver) ObserveRun(*CollectionRun)                 {}
func (nopObserver) ObserveSkippedTick(string)                 {}
func (nopObserver) ObservePersisted(string, int)              {}

// NopObserver discards all observations.
var NopObserver Observer = nopObserver{}

type retryKey struct{}

// WithRateLimitRetry marks ctx so adapters back off and retry on RateLimitError.
// The collection scheduler sets it; on-demand queries do not.
func WithRateLimitRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// RateLimitRetry reports whether ctx opted into rate-limit retries.
func RateLimitRetry(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}

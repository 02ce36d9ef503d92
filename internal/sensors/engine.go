package sensors

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/i474232898/sensor-data-aggregation/internal/sensors")

// Engine answers "sensor set × time range" queries across all sources.
type Engine struct {
	registry     *Registry
	executor     *Executor
	store        SegmentReader
	queryTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithQueryTimeout bounds how long a query waits for outstanding fetches.
// Units still running when it elapses are reported as incomplete.
func WithQueryTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.queryTimeout = d
	}
}

// NewEngine creates a new Engine. store may be nil when no scheduled source is registered.
func NewEngine(registry *Registry, executor *Executor, store SegmentReader, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		executor: executor,
		store:    store,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's source registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// ListSensors returns the sensors of one source.
func (e *Engine) ListSensors(ctx context.Context, sourceID string) ([]SensorDescriptor, error) {
	a, err := e.registry.Lookup(sourceID)
	if err != nil {
		return nil, err
	}
	return a.ListSensors(ctx)
}

// Query returns every reading of the selected sensors in [start, end) as one
// merged, sorted row set. Live sources are fetched chunk by chunk; scheduled
// sources are read from the store. The full result is returned: truncation for
// previews is left to the caller.
func (e *Engine) Query(ctx context.Context, sourceID string, sel Selection, start, end time.Time) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "sensors.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", sourceID),
		attribute.String("start", start.UTC().Format(time.RFC3339)),
		attribute.String("end", end.UTC().Format(time.RFC3339)),
	)

	res, err := e.query(ctx, sourceID, sel, start.UTC(), end.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", res.TotalRowCount))
	return res, nil
}

func (e *Engine) query(ctx context.Context, sourceID string, sel Selection, start, end time.Time) (*QueryResult, error) {
	if start.After(end) {
		return nil, ErrInvalidRange
	}

	a, err := e.registry.Lookup(sourceID)
	if err != nil {
		return nil, err
	}

	known, err := a.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	selected := sel.Resolve(known)

	empty := &QueryResult{
		SourceID: sourceID,
		Columns:  []string{ColumnSensorID, ColumnTimestamp},
		Rows:     []Row{},
	}
	if start.Equal(end) || len(selected) == 0 {
		return empty, nil
	}

	ids := make([]string, 0, len(selected))
	wanted := make(map[string]bool, len(selected))
	for _, d := range selected {
		ids = append(ids, d.SensorID)
		wanted[d.SensorID] = true
	}
	window := TimeRange{Start: start, End: end}

	var (
		readings []Reading
		warning  *PartialResultWarning
	)
	switch a.Mode() {
	case ModeScheduled:
		readings, err = e.readStored(ctx, sourceID, window)
		if err != nil {
			return nil, err
		}
	default:
		readings, warning, err = e.fetchLive(ctx, a, ids, window)
		if err != nil {
			return nil, err
		}
	}

	// Providers and date-granular segments may return rows just outside the
	// window; the window is authoritative.
	readings = TrimReadings(readings, wanted, window)

	columns, rows := MergeReadings(readings)
	return &QueryResult{
		SourceID:      sourceID,
		Columns:       columns,
		Rows:          rows,
		TotalRowCount: len(rows),
		Warning:       warning,
	}, nil
}

func (e *Engine) fetchLive(ctx context.Context, a Adapter, ids []string, window TimeRange) ([]Reading, *PartialResultWarning, error) {
	units := PlanUnits(a.ID(), ids, window.Start, window.End, a.MaxInterval())

	runCtx := ctx
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	readings, failures := e.executor.Run(runCtx, a, units)
	if len(failures) == len(units) {
		return nil, nil, &FetchFailedError{Source: a.ID(), Failures: failures}
	}
	warning := newPartialWarning(failures, len(ids))
	if warning != nil {
		log.Printf("engine: %s query returned partial data: %s", a.ID(), warning.Message())
	}
	return readings, warning, nil
}

func (e *Engine) readStored(ctx context.Context, sourceID string, window TimeRange) ([]Reading, error) {
	if e.store == nil {
		return nil, fmt.Errorf("source %s is scheduler-fed but no store is configured", sourceID)
	}
	first := window.Start
	last := window.End.Add(-time.Nanosecond)
	readings, err := e.store.Get(ctx, sourceID, first, last)
	if err != nil {
		return nil, fmt.Errorf("read stored segments for %s: %w", sourceID, err)
	}
	return readings, nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

var tracer = otel.Tracer("github.com/i474232898/sensor-data-aggregation/internal/scheduler")

const (
	defaultMaxLookback = 48 * time.Hour
	recordTimeout      = 10 * time.Second
)

// ErrStopped is returned by Tick once the collector has been stopped.
var ErrStopped = errors.New("collector is stopped")

// Store is the part of the segment store a collector writes to.
type Store interface {
	Append(ctx context.Context, sourceID string, readings []sensors.Reading) ([]sensors.Reading, error)
	Watermarks(ctx context.Context, sourceID string) (map[string]time.Time, error)
	SetWatermarks(ctx context.Context, sourceID string, marks map[string]time.Time) error
}

// Options tune a Collector.
type Options struct {
	// MaxLookback bounds how far back a window reaches when a sensor has no
	// watermark or an older one.
	MaxLookback time.Duration
	// RunTimeout bounds a single run; 0 means no bound.
	RunTimeout time.Duration
}

// Collector harvests one scheduler-fed source into the store. It is either
// idle or running one run; a tick that arrives while running is skipped.
type Collector struct {
	adapter  sensors.Adapter
	executor *sensors.Executor
	store    Store
	recorder sensors.RunRecorder
	obs      sensors.Observer
	opts     Options
	now      func() time.Time

	running atomic.Bool

	// mu orders wg.Add in Tick against wg.Wait in stop.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewCollector creates a Collector for a. recorder and obs may be nil.
func NewCollector(a sensors.Adapter, executor *sensors.Executor, store Store, recorder sensors.RunRecorder, obs sensors.Observer, opts Options) *Collector {
	if opts.MaxLookback <= 0 {
		opts.MaxLookback = defaultMaxLookback
	}
	if obs == nil {
		obs = sensors.NopObserver
	}
	return &Collector{
		adapter:  a,
		executor: executor,
		store:    store,
		recorder: recorder,
		obs:      obs,
		opts:     opts,
		now:      time.Now,
	}
}

// SourceID returns the collected source.
func (c *Collector) SourceID() string {
	return c.adapter.ID()
}

// Running reports whether a run is in progress.
func (c *Collector) Running() bool {
	return c.running.Load()
}

// Tick performs one collection run. If a run is already in progress it
// returns ErrRunInProgress and no run is created. After stop it returns
// ErrStopped.
func (c *Collector) Tick(ctx context.Context) (*sensors.CollectionRun, error) {
	if !c.running.CompareAndSwap(false, true) {
		log.Printf("scheduler: %s run still in progress; skipping tick", c.SourceID())
		c.obs.ObserveSkippedTick(c.SourceID())
		return nil, sensors.ErrRunInProgress
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.running.Store(false)
		return nil, ErrStopped
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer func() {
		c.running.Store(false)
		c.wg.Done()
	}()

	return c.collect(ctx), nil
}

// stop rejects further ticks and waits for the in-flight run, if any.
func (c *Collector) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.wg.Wait()
}

// window returns where a sensor's next fetch starts: its watermark, but never
// earlier than now minus the max lookback.
func (c *Collector) window(mark, now time.Time) time.Time {
	floor := now.Add(-c.opts.MaxLookback)
	if mark.IsZero() || mark.Before(floor) {
		return floor
	}
	return mark
}

func (c *Collector) collect(parent context.Context) *sensors.CollectionRun {
	source := c.SourceID()
	run := sensors.NewCollectionRun(source, c.now())

	ctx, span := tracer.Start(parent, "scheduler.Collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", source),
		attribute.String("run_id", run.RunID.String()),
	)

	if c.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RunTimeout)
		defer cancel()
	}
	ctx = sensors.WithRateLimitRetry(ctx)

	defer func() {
		run.FinishedAt = c.now().UTC()
		c.finish(ctx, run)
		span.SetAttributes(attribute.String("outcome", run.Outcome()))
	}()

	descs, err := c.adapter.ListSensors(ctx)
	if err != nil {
		run.Error = err.Error()
		return run
	}
	marks, err := c.store.Watermarks(ctx, source)
	if err != nil {
		run.Error = err.Error()
		return run
	}

	now := run.StartedAt
	var units []sensors.FetchUnit
	for _, d := range descs {
		start := c.window(marks[d.SensorID], now)
		if !start.Before(now) {
			run.Sensors[d.SensorID] = sensors.SensorStatus{OK: true}
			continue
		}
		units = append(units, sensors.PlanUnits(source, []string{d.SensorID}, start, now, c.adapter.MaxInterval())...)
	}

	readings, failures := c.executor.Run(ctx, c.adapter, units)

	failed := make(map[string]error)
	for _, f := range failures {
		if _, seen := failed[f.Unit.SensorID]; !seen {
			failed[f.Unit.SensorID] = f.Err
		}
	}

	persisted, storeErr := c.store.Append(ctx, source, readings)
	c.obs.ObservePersisted(source, len(persisted))
	if storeErr != nil {
		log.Printf("scheduler: %s run %s: persisting readings failed: %v", source, run.RunID, storeErr)
	}

	fetched := make(map[string]int)
	for _, r := range readings {
		fetched[r.SensorID]++
	}
	stored := make(map[string]int)
	latest := make(map[string]time.Time)
	for _, r := range persisted {
		stored[r.SensorID]++
		if r.Timestamp.After(latest[r.SensorID]) {
			latest[r.SensorID] = r.Timestamp
		}
	}

	advance := make(map[string]time.Time)
	for _, u := range units {
		id := u.SensorID
		if _, done := run.Sensors[id]; done {
			continue
		}
		switch {
		case failed[id] != nil:
			run.Sensors[id] = sensors.SensorStatus{OK: false, Reason: failed[id].Error(), Readings: stored[id]}
		case stored[id] < fetched[id]:
			run.Sensors[id] = sensors.SensorStatus{OK: false, Reason: fmt.Sprintf("persist: %v", storeErr), Readings: stored[id]}
		default:
			run.Sensors[id] = sensors.SensorStatus{OK: true, Readings: stored[id]}
			if ts, ok := latest[id]; ok && ts.After(marks[id]) {
				advance[id] = ts
			}
		}
	}

	if len(advance) > 0 {
		if err := c.store.SetWatermarks(ctx, source, advance); err != nil {
			log.Printf("scheduler: %s run %s: saving watermarks failed: %v", source, run.RunID, err)
		}
	}
	return run
}

func (c *Collector) finish(ctx context.Context, run *sensors.CollectionRun) {
	log.Printf("scheduler: %s run %s %s: %d/%d sensors ok", run.SourceID, run.RunID, run.Outcome(), run.Succeeded(), len(run.Sensors))
	if run.Error != "" {
		log.Printf("scheduler: %s run %s failed: %s", run.SourceID, run.RunID, run.Error)
	}

	c.obs.ObserveRun(run)
	if c.recorder == nil {
		return
	}
	// The run context may already be past its deadline.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.recorder.Record(rctx, run); err != nil {
		log.Printf("scheduler: recording run %s failed: %v", run.RunID, err)
	}
}

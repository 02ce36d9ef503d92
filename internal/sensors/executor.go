package sensors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds in-flight provider calls per source.
const DefaultConcurrency = 4

// FetchUnit is one independent (sensor × chunk) fetch.
type FetchUnit struct {
	SourceID string    `json:"sourceId"`
	SensorID string    `json:"sensorId"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Range returns the unit's time range.
func (u FetchUnit) Range() TimeRange {
	return TimeRange{Start: u.Start, End: u.End}
}

func (u FetchUnit) String() string {
	return fmt.Sprintf("%s/%s [%s, %s)", u.SourceID, u.SensorID,
		u.Start.Format(time.RFC3339), u.End.Format(time.RFC3339))
}

// PlanUnits expands sensors × chunks of [start, end) into fetch units, sensor-major.
func PlanUnits(sourceID string, sensorIDs []string, start, end time.Time, maxInterval time.Duration) []FetchUnit {
	chunks := PlanChunks(start, end, maxInterval)
	units := make([]FetchUnit, 0, len(sensorIDs)*len(chunks))
	for _, id := range sensorIDs {
		for _, c := range chunks {
			units = append(units, FetchUnit{SourceID: sourceID, SensorID: id, Start: c.Start, End: c.End})
		}
	}
	return units
}

// Executor runs fetch units concurrently. The in-flight bound is per source and
// shared by every caller of the same Executor, so concurrent queries and the
// scheduler together never exceed it.
type Executor struct {
	limit int64
	obs   Observer

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewExecutor creates an Executor allowing limit concurrent calls per source.
func NewExecutor(limit int, obs Observer) *Executor {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if obs == nil {
		obs = NopObserver
	}
	return &Executor{
		limit: int64(limit),
		obs:   obs,
		sems:  make(map[string]*semaphore.Weighted),
	}
}

func (e *Executor) semaphore(source string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sems[source]
	if !ok {
		s = semaphore.NewWeighted(e.limit)
		e.sems[source] = s
	}
	return s
}

type unitResult struct {
	idx      int
	readings []Reading
	err      error
}

// Run executes units against a and returns the successful readings, in unit
// order, plus one failure per unit that failed. A unit's failure never aborts
// its siblings. When ctx is done, Run stops waiting and reports every
// outstanding unit as failed with ErrIncomplete.
func (e *Executor) Run(ctx context.Context, a Adapter, units []FetchUnit) ([]Reading, []UnitFailure) {
	if len(units) == 0 {
		return nil, nil
	}

	sem := e.semaphore(a.ID())
	results := make(chan unitResult, len(units))

	for i, u := range units {
		go func(i int, u FetchUnit) {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- unitResult{idx: i, err: fmt.Errorf("%w: %v", ErrIncomplete, err)}
				return
			}
			defer sem.Release(1)

			began := time.Now()
			readings, err := a.FetchRange(ctx, []string{u.SensorID}, u.Start, u.End)
			err = unitError(ctx, u.SensorID, err)
			e.obs.ObserveFetch(a.ID(), outcomeOf(err), time.Since(began))
			results <- unitResult{idx: i, readings: readings, err: err}
		}(i, u)
	}

	perUnit := make([][]Reading, len(units))
	errs := make([]error, len(units))
	finished := make([]bool, len(units))

collect:
	for received := 0; received < len(units); received++ {
		select {
		case r := <-results:
			finished[r.idx] = true
			if r.err != nil {
				errs[r.idx] = r.err
				continue
			}
			perUnit[r.idx] = r.readings
		case <-ctx.Done():
			break collect
		}
	}

	var (
		readings []Reading
		failures []UnitFailure
	)
	for i, u := range units {
		switch {
		case !finished[i]:
			failures = append(failures, UnitFailure{Unit: u, Err: fmt.Errorf("%w: %v", ErrIncomplete, ctx.Err())})
		case errs[i] != nil:
			log.Printf("executor: fetch %s failed: %v", u, errs[i])
			failures = append(failures, UnitFailure{Unit: u, Err: errs[i]})
		default:
			readings = append(readings, perUnit[i]...)
		}
	}
	return readings, failures
}

// unitError narrows a multi-sensor error to the single sensor of a unit and
// marks cancellations as incomplete.
func unitError(ctx context.Context, sensorID string, err error) error {
	if err == nil {
		return nil
	}
	var se SensorErrors
	if errors.As(err, &se) {
		if e, ok := se[sensorID]; ok {
			err = e
		}
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return err
}

func outcomeOf(err error) string {
	var (
		cfg  *ConfigError
		auth *AuthError
		rl   *RateLimitError
		up   *UpstreamError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIncomplete):
		return "incomplete"
	case errors.As(err, &cfg):
		return "config_error"
	case errors.As(err, &auth):
		return "auth_error"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &up):
		return "upstream_error"
	default:
		return "error"
	}
}

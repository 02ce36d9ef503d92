package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

const defaultInterval = 2 * time.Minute

// Scheduler periodically runs a Collector for every scheduler-fed source.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	interval   time.Duration
	collectors map[string]*Collector
}

// New creates a new Scheduler ticking every interval.
func New(interval time.Duration, collectors ...*Collector) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	byID := make(map[string]*Collector, len(collectors))
	for _, c := range collectors {
		byID[c.SourceID()] = c
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		interval:   interval,
		collectors: byID,
	}
}

// Collector returns the collector of sourceID.
func (s *Scheduler) Collector(sourceID string) (*Collector, error) {
	c, ok := s.collectors[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not scheduler-fed", sensors.ErrUnknownSource, sourceID)
	}
	return c, nil
}

// Sources lists the scheduled source ids.
func (s *Scheduler) Sources() []string {
	ids := make([]string, 0, len(s.collectors))
	for id := range s.collectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start schedules one job per collector and starts the underlying scheduler.
// The first tick runs immediately.
func (s *Scheduler) Start() error {
	if len(s.collectors) == 0 {
		log.Println("scheduler: no scheduled sources; nothing to schedule")
		return nil
	}

	for _, id := range s.Sources() {
		c := s.collectors[id]
		_, err := s.scheduler.Every(s.interval).Do(func() {
			// Skipped ticks are already logged and counted by Tick.
			_, _ = c.Tick(context.Background())
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
		log.Printf("scheduler: collecting %s every %s", id, s.interval)
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop cancels future ticks, rejects manual ones and waits for in-flight runs
// to finish, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	var wg sync.WaitGroup
	for _, c := range s.collectors {
		wg.Add(1)
		go func(c *Collector) {
			defer wg.Done()
			c.stop()
		}(c)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: in-flight runs did not finish: %w", ctx.Err())
	}
}

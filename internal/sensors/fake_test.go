package sensors

import (
	"context"
	"sync"
	"time"
)

// fakeAdapter produces one reading per hour per sensor and can be told to fail
// or stall for individual sensors.
type fakeAdapter struct {
	id      string
	mode    Mode
	cap     time.Duration
	sensors []string
	fail    map[string]error
	delay   time.Duration
	cfgErr  *ConfigError
	stray   bool

	mu       sync.Mutex
	calls    int
	inFlight int
	peak     int
}

func (f *fakeAdapter) ID() string                 { return f.id }
func (f *fakeAdapter) Mode() Mode                 { return f.mode }
func (f *fakeAdapter) MaxInterval() time.Duration { return f.cap }

func (f *fakeAdapter) ListSensors(ctx context.Context) ([]SensorDescriptor, error) {
	if f.cfgErr != nil {
		return nil, f.cfgErr
	}
	out := make([]SensorDescriptor, 0, len(f.sensors))
	for _, id := range f.sensors {
		out = append(out, SensorDescriptor{SourceID: f.id, SensorID: id, DisplayName: "Sensor " + id})
	}
	return out, nil
}

func (f *fakeAdapter) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]Reading, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var out []Reading
	errs := SensorErrors{}
	for _, id := range sensorIDs {
		if err, ok := f.fail[id]; ok {
			errs[id] = err
			continue
		}
		if f.stray {
			out = append(out, Reading{SensorID: id, Timestamp: start.Add(-time.Minute), Metrics: []Metric{{Name: "pm25", Value: -1}}})
		}
		for ts := start.Truncate(time.Hour); ts.Before(end); ts = ts.Add(time.Hour) {
			if ts.Before(start) {
				continue
			}
			out = append(out, Reading{
				SensorID:  id,
				Timestamp: ts,
				Metrics:   []Metric{{Name: "pm25", Value: float64(ts.Hour())}, {Name: "temp", Value: 20}},
			})
		}
	}
	if len(errs) > 0 {
		return out, errs
	}
	return out, nil
}

func (f *fakeAdapter) stats() (calls, peak int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.peak
}

type fakeSegments struct {
	readings []Reading
	first    time.Time
	last     time.Time
}

func (s *fakeSegments) Get(ctx context.Context, sourceID string, first, last time.Time) ([]Reading, error) {
	s.first, s.last = first, last
	return s.readings, nil
}

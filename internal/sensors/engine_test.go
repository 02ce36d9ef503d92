package sensors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, store SegmentReader, adapters ...Adapter) *Engine {
	t.Helper()
	reg, err := NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewEngine(reg, NewExecutor(4, nil), store, WithQueryTimeout(5*time.Second))
}

func TestQueryChunksLongRanges(t *testing.T) {
	a := &fakeAdapter{id: "airgradient", cap: 48 * time.Hour, sensors: []string{"s1"}}
	eng := newTestEngine(t, nil, a)

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	res, err := eng.Query(context.Background(), "airgradient", SelectAll(), start, start.Add(100*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls, _ := a.stats(); calls != 3 {
		t.Fatalf("expected 3 chunked calls, got %d", calls)
	}
	if res.TotalRowCount != 100 {
		t.Fatalf("expected 100 rows, got %d", res.TotalRowCount)
	}
	if res.Status() != StatusOK {
		t.Fatalf("expected ok status, got %s", res.Status())
	}
	if got := len(res.Head(PreviewRows)); got != PreviewRows {
		t.Fatalf("expected preview of %d rows, got %d", PreviewRows, got)
	}
}

func TestQueryPartialFailure(t *testing.T) {
	a := &fakeAdapter{
		id:      "envira",
		sensors: []string{"s1", "s2", "s3"},
		fail:    map[string]error{"s3": &UpstreamError{Source: "envira", Status: 502}},
	}
	eng := newTestEngine(t, nil, a)

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	res, err := eng.Query(context.Background(), "envira", SelectAll(), start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Warning == nil {
		t.Fatalf("expected a partial warning")
	}
	if len(res.Warning.FailedSensors) != 1 || res.Warning.FailedSensors[0] != "s3" || res.Warning.TotalSensors != 3 {
		t.Fatalf("unexpected warning: %+v", res.Warning)
	}
	if res.Status() != StatusPartial {
		t.Fatalf("expected partial status, got %s", res.Status())
	}
	for _, r := range res.Rows {
		if r.SensorID == "s3" {
			t.Fatalf("unexpected row for failed sensor")
		}
	}
	if res.TotalRowCount != 4 {
		t.Fatalf("expected 4 rows, got %d", res.TotalRowCount)
	}
}

func TestQueryAllFailed(t *testing.T) {
	a := &fakeAdapter{
		id:      "envira",
		sensors: []string{"s1"},
		fail:    map[string]error{"s1": &AuthError{Source: "envira", Status: 401}},
	}
	eng := newTestEngine(t, nil, a)

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := eng.Query(context.Background(), "envira", SelectAll(), start, start.Add(time.Hour))
	var ff *FetchFailedError
	if !errors.As(err, &ff) {
		t.Fatalf("expected FetchFailedError, got %v", err)
	}
	var auth *AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("expected the cause to unwrap to AuthError, got %v", err)
	}
}

func TestQueryTrimsAndValidates(t *testing.T) {
	a := &fakeAdapter{id: "aurassure", sensors: []string{"s1", "s2"}, stray: true}
	eng := newTestEngine(t, nil, a)
	ctx := context.Background()
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	res, err := eng.Query(ctx, "aurassure", SelectSensors("s2", "unknown"), start, start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalRowCount != 3 {
		t.Fatalf("expected 3 rows, got %d", res.TotalRowCount)
	}
	for _, r := range res.Rows {
		if r.SensorID != "s2" || r.Timestamp.Before(start) {
			t.Fatalf("unexpected row %+v", r)
		}
	}

	if _, err := eng.Query(ctx, "aurassure", SelectAll(), start, start.Add(-time.Hour)); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	res, err = eng.Query(ctx, "aurassure", SelectAll(), start, start)
	if err != nil || res.Status() != StatusEmpty {
		t.Fatalf("expected empty result for zero-length range, got %v %v", res, err)
	}
	if _, err := eng.Query(ctx, "nope", SelectAll(), start, start.Add(time.Hour)); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestQueryUnconfiguredSource(t *testing.T) {
	a := &fakeAdapter{id: "ecomeasure", cfgErr: &ConfigError{Source: "ecomeasure", Reason: "ECOMEASURE_TOKEN not set"}}
	eng := newTestEngine(t, nil, a)

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := eng.Query(context.Background(), "ecomeasure", SelectAll(), start, start.Add(time.Hour))
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestQueryScheduledSourceReadsStore(t *testing.T) {
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	segs := &fakeSegments{readings: []Reading{
		{SensorID: "n1", Timestamp: day.Add(23 * time.Hour), Metrics: []Metric{{Name: "pm25", Value: 1}}},
		{SensorID: "n1", Timestamp: day.Add(25 * time.Hour), Metrics: []Metric{{Name: "pm25", Value: 2}}},
		{SensorID: "n2", Timestamp: day.Add(25 * time.Hour), Metrics: []Metric{{Name: "pm25", Value: 3}}},
		{SensorID: "n1", Timestamp: day.Add(48 * time.Hour), Metrics: []Metric{{Name: "pm25", Value: 4}}},
	}}
	a := &fakeAdapter{id: "nebo", mode: ModeScheduled, sensors: []string{"n1", "n2"}}
	eng := newTestEngine(t, segs, a)

	res, err := eng.Query(context.Background(), "nebo", SelectSensors("n1"), day.Add(24*time.Hour), day.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls, _ := a.stats(); calls != 0 {
		t.Fatalf("scheduled source must not be fetched live")
	}
	if !segs.first.Equal(day.Add(24*time.Hour)) || segs.last.Format("2006-01-02") != "2025-07-02" {
		t.Fatalf("unexpected date range %s..%s", segs.first, segs.last)
	}
	if res.TotalRowCount != 1 {
		t.Fatalf("expected 1 row, got %d", res.TotalRowCount)
	}
	if v, _ := res.Rows[0].Value("pm25"); v != 2 {
		t.Fatalf("expected pm25=2, got %v", v)
	}
}

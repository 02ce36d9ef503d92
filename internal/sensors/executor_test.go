package sensors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutorBoundsConcurrency(t *testing.T) {
	a := &fakeAdapter{id: "src", sensors: []string{"a"}, delay: 20 * time.Millisecond}
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	units := PlanUnits("src", []string{"a", "b", "c", "d", "e"}, base, base.Add(4*time.Hour), 2*time.Hour)

	exec := NewExecutor(2, nil)
	readings, failures := exec.Run(context.Background(), a, units)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(readings) != 5*4 {
		t.Fatalf("expected 20 readings, got %d", len(readings))
	}
	calls, peak := a.stats()
	if calls != len(units) {
		t.Fatalf("expected %d calls, got %d", len(units), calls)
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", peak)
	}
}

func TestExecutorIsolatesFailures(t *testing.T) {
	a := &fakeAdapter{id: "src", fail: map[string]error{"b": &UpstreamError{Source: "src", Status: 500}}}
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	units := PlanUnits("src", []string{"a", "b", "c"}, base, base.Add(time.Hour), 0)

	readings, failures := NewExecutor(4, nil).Run(context.Background(), a, units)
	if len(failures) != 1 || failures[0].Unit.SensorID != "b" {
		t.Fatalf("expected exactly sensor b to fail, got %v", failures)
	}
	var up *UpstreamError
	if !errors.As(failures[0].Err, &up) {
		t.Fatalf("expected the per-sensor UpstreamError, got %v", failures[0].Err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
}

func TestExecutorTimeoutReportsIncomplete(t *testing.T) {
	a := &fakeAdapter{id: "src", delay: time.Second}
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	units := PlanUnits("src", []string{"a", "b"}, base, base.Add(time.Hour), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	began := time.Now()
	readings, failures := NewExecutor(1, nil).Run(ctx, a, units)
	if time.Since(began) > 500*time.Millisecond {
		t.Fatalf("executor did not return promptly after timeout")
	}
	if len(readings) != 0 {
		t.Fatalf("expected no readings, got %d", len(readings))
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	for _, f := range failures {
		if !errors.Is(f.Err, ErrIncomplete) {
			t.Fatalf("expected ErrIncomplete, got %v", f.Err)
		}
	}
}

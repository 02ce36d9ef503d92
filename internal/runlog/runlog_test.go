package runlog

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

func newRun(source string, at time.Time, statuses map[string]sensors.SensorStatus) *sensors.CollectionRun {
	run := sensors.NewCollectionRun(source, at)
	run.FinishedAt = at.Add(time.Second)
	for id, st := range statuses {
		run.Sensors[id] = st
	}
	return run
}

func TestMemoryRetentionAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	var runs []*sensors.CollectionRun
	for i := 0; i < 5; i++ {
		r := newRun("nebo", base.Add(time.Duration(i)*time.Minute), nil)
		runs = append(runs, r)
		if err := m.Record(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, _ := m.Recent(ctx, 0)
	if len(got) != 3 {
		t.Fatalf("expected retention of 3 runs, got %d", len(got))
	}
	if got[0] != runs[4] || got[2] != runs[2] {
		t.Fatalf("expected newest first")
	}
	if got, _ := m.Recent(ctx, 1); len(got) != 1 || got[0] != runs[4] {
		t.Fatalf("expected only the newest run")
	}
}

func TestPostgresRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ledger := NewPostgres(db, "")
	at := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	run := newRun("nebo", at, map[string]sensors.SensorStatus{
		"b": {OK: false, Reason: "source nebo returned status 502"},
		"a": {OK: true, Readings: 3},
	})

	expected := regexp.QuoteMeta("INSERT INTO collection_runs (run_id, source_id, started_at, finished_at, sensor_id, ok, reason, readings, run_error) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9),($10,$11,$12,$13,$14,$15,$16,$17,$18) ON CONFLICT (run_id, sensor_id) DO NOTHING")
	mock.ExpectExec(expected).
		WithArgs(
			run.RunID.String(), "nebo", run.StartedAt, run.FinishedAt, "a", true, "", 3, "",
			run.RunID.String(), "nebo", run.StartedAt, run.FinishedAt, "b", false, "source nebo returned status 502", 0, "",
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := ledger.Record(context.Background(), run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRecordRunWithoutSensors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ledger := NewPostgres(db, "runs")
	run := newRun("nebo", time.Now().UTC(), nil)
	run.Error = "source nebo is not configured: missing NEBO_TOKEN"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs(run.RunID.String(), "nebo", run.StartedAt, run.FinishedAt, "", false, "", 0, run.Error).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := ledger.Record(context.Background(), run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ledger := NewPostgres(db, "")
	newer := sensors.NewCollectionRun("nebo", time.Date(2025, 7, 1, 0, 2, 0, 0, time.UTC))
	older := sensors.NewCollectionRun("nebo", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	cols := []string{"run_id", "source_id", "started_at", "finished_at", "sensor_id", "ok", "reason", "readings", "run_error"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT run_id, source_id")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(newer.RunID.String(), "nebo", newer.StartedAt, newer.StartedAt, "a", true, "", 4, "").
			AddRow(newer.RunID.String(), "nebo", newer.StartedAt, newer.StartedAt, "b", false, "timeout", 0, "").
			AddRow(older.RunID.String(), "nebo", older.StartedAt, older.StartedAt, "", false, "", 0, "not configured"))

	runs, err := ledger.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != newer.RunID || len(runs[0].Sensors) != 2 || runs[0].Outcome() != "partial" {
		t.Fatalf("unexpected newest run %+v", runs[0])
	}
	if runs[1].Error != "not configured" || len(runs[1].Sensors) != 0 || runs[1].Outcome() != "failed" {
		t.Fatalf("unexpected older run %+v", runs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

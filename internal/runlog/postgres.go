package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// DefaultTable is the table used when none is given.
const DefaultTable = "collection_runs"

// Postgres stores one row per (run, sensor). Runs that failed before any
// sensor was attempted get a single row with an empty sensor id.
type Postgres struct {
	db    *sql.DB
	table string
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping run ledger: %w", err)
	}
	return db, nil
}

func NewPostgres(db *sql.DB, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{db: db, table: table}
}

// EnsureSchema creates the ledger table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      UUID        NOT NULL,
	source_id   TEXT        NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	sensor_id   TEXT        NOT NULL,
	ok          BOOLEAN     NOT NULL,
	reason      TEXT        NOT NULL DEFAULT '',
	readings    INTEGER     NOT NULL DEFAULT 0,
	run_error   TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, sensor_id)
)`, p.table))
	return err
}

// Record inserts the run. Re-recording the same run is a no-op.
func (p *Postgres) Record(ctx context.Context, run *sensors.CollectionRun) error {
	ids := make([]string, 0, len(run.Sensors))
	for id := range run.Sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		ids = []string{""}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.table)
	b.WriteString(" (run_id, source_id, started_at, finished_at, sensor_id, ok, reason, readings, run_error) VALUES ")

	args := make([]any, 0, len(ids)*9)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9))

		st := run.Sensors[id]
		args = append(args,
			run.RunID.String(),
			run.SourceID,
			run.StartedAt,
			run.FinishedAt,
			id,
			st.OK,
			st.Reason,
			st.Readings,
			run.Error,
		)
	}
	b.WriteString(" ON CONFLICT (run_id, sensor_id) DO NOTHING")

	if _, err := p.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]*sensors.CollectionRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT run_id, source_id, started_at, finished_at, sensor_id, ok, reason, readings, run_error FROM %[1]s WHERE run_id IN (SELECT run_id FROM %[1]s GROUP BY run_id ORDER BY MAX(started_at) DESC LIMIT $1) ORDER BY started_at DESC, run_id, sensor_id`, p.table)

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var (
		out  []*sensors.CollectionRun
		byID = make(map[uuid.UUID]*sensors.CollectionRun)
	)
	for rows.Next() {
		var (
			rawID, source, sensorID, reason, runErr string
			started, finished                       time.Time
			ok                                      bool
			readings                                int
		)
		if err := rows.Scan(&rawID, &source, &started, &finished, &sensorID, &ok, &reason, &readings, &runErr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run, seen := byID[id]
		if !seen {
			run = &sensors.CollectionRun{
				RunID:      id,
				SourceID:   source,
				StartedAt:  started.UTC(),
				FinishedAt: finished.UTC(),
				Sensors:    make(map[string]sensors.SensorStatus),
				Error:      runErr,
			}
			byID[id] = run
			out = append(out, run)
		}
		if sensorID != "" {
			run.Sensors[sensorID] = sensors.SensorStatus{OK: ok, Reason: reason, Readings: readings}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

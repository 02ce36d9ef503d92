package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/sensor-data-aggregation/internal/metrics"
	"github.com/i474232898/sensor-data-aggregation/internal/runlog"
	"github.com/i474232898/sensor-data-aggregation/internal/scheduler"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
	"github.com/i474232898/sensor-data-aggregation/internal/store"
)

var fixedNow = time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)

// stubSource reports one pm25 reading per sensor per hour.
type stubSource struct {
	id      string
	mode    sensors.Mode
	sensors []string
	cfgErr  error
}

func (s *stubSource) ID() string                 { return s.id }
func (s *stubSource) MaxInterval() time.Duration { return 24 * time.Hour }
func (s *stubSource) Mode() sensors.Mode         { return s.mode }

func (s *stubSource) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	if s.cfgErr != nil {
		return nil, s.cfgErr
	}
	var out []sensors.SensorDescriptor
	for _, id := range s.sensors {
		out = append(out, sensors.SensorDescriptor{SourceID: s.id, SensorID: id, DisplayName: "Sensor " + id})
	}
	return out, nil
}

func (s *stubSource) FetchRange(ctx context.Context, ids []string, start, end time.Time) ([]sensors.Reading, error) {
	if s.cfgErr != nil {
		return nil, s.cfgErr
	}
	var out []sensors.Reading
	for _, id := range ids {
		for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
			out = append(out, sensors.Reading{
				SensorID:  id,
				Timestamp: ts,
				Metrics:   []sensors.Metric{{Name: "pm25", Value: 10}},
			})
		}
	}
	return out, nil
}

func newTestApp(t *testing.T) (*fiber.App, *runlog.Memory) {
	t.Helper()

	live := &stubSource{id: "airgradient", sensors: []string{"1", "2"}}
	down := &stubSource{id: "ecomeasure", cfgErr: &sensors.ConfigError{Source: "ecomeasure", Reason: "missing ECOMEASURE_TOKEN"}}
	nebo := &stubSource{id: "nebo", mode: sensors.ModeScheduled, sensors: []string{"n1"}}

	registry, err := sensors.NewRegistry(live, down, nebo)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	reg := prometheus.NewRegistry()
	obs := metrics.NewProm(reg)
	exec := sensors.NewExecutor(4, obs)
	segs := store.NewSegmentStore(store.NewMemoryBlob())
	ledger := runlog.NewMemory(10)
	engine := sensors.NewEngine(registry, exec, segs)

	collector := scheduler.NewCollector(nebo, exec, segs, ledger, obs, scheduler.Options{})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, Deps{
		Engine:    engine,
		Scheduler: scheduler.New(time.Minute, collector),
		Runs:      ledger,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Now:       func() time.Time { return fixedNow },
	})
	return app, ledger
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPreview(t *testing.T) {
	app, _ := newTestApp(t)

	resp := postJSON(t, app, "/api/v1/preview",
		`{"source":"airgradient","sensors":[1,2],"start_time":"2025-07-01T00:00:00Z","end_time":"2025-07-02T00:00:00Z"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Preview   []map[string]any `json:"preview"`
		TotalRows int              `json:"total_rows"`
		Columns   []string         `json:"columns"`
		Status    string           `json:"status"`
	}
	decode(t, resp, &body)

	if body.TotalRows != 48 || len(body.Preview) != sensors.PreviewRows {
		t.Fatalf("expected 48 rows with a 10 row preview, got %d / %d", body.TotalRows, len(body.Preview))
	}
	if strings.Join(body.Columns, ",") != "sensorId,timestamp,pm25" || body.Status != "ok" {
		t.Fatalf("unexpected columns %v / status %s", body.Columns, body.Status)
	}
	if body.Preview[0]["timestamp"] != "2025-07-01T00:00:00Z" {
		t.Fatalf("unexpected first row %v", body.Preview[0])
	}
}

func TestPreviewShortResult(t *testing.T) {
	app, _ := newTestApp(t)

	// Browser datetime-local values, five hourly rows for one sensor.
	resp := postJSON(t, app, "/api/v1/preview",
		`{"source":"airgradient","sensors":["1"],"start_time":"2025-07-01T00:00","end_time":"2025-07-01T05:00"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Preview   []map[string]any `json:"preview"`
		TotalRows int              `json:"total_rows"`
	}
	decode(t, resp, &body)

	if body.TotalRows != 5 || len(body.Preview) != 5 {
		t.Fatalf("expected all 5 rows in the preview, got %d / %d", body.TotalRows, len(body.Preview))
	}
	if body.Preview[4]["timestamp"] != "2025-07-01T04:00:00Z" {
		t.Fatalf("unexpected last row %v", body.Preview[4])
	}
}

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2025-07-01T10:00:00Z", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01T12:00:00+02:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01T10:00:00.250", time.Date(2025, 7, 1, 10, 0, 0, 250e6, time.UTC)},
		{"2025-07-01T10:00:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01 10:00:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01 12:00:00+02:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01T10:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01T12:00+02:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01 10:00", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-07-01", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"1751364000", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseTime(tc.in)
		if err != nil {
			t.Fatalf("parseTime(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) || got.Location() != time.UTC {
			t.Fatalf("parseTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"yesterday", "2025-07-01T", "01/07/2025"} {
		if _, err := parseTime(bad); err == nil {
			t.Fatalf("parseTime(%q): expected an error", bad)
		}
	}
}

func TestPreviewDefaultWindow(t *testing.T) {
	app, _ := newTestApp(t)

	resp := postJSON(t, app, "/api/v1/preview", `{"source":"airgradient","sensors":"all"}`)
	var body struct {
		TotalRows int `json:"total_rows"`
	}
	decode(t, resp, &body)
	// 48h window, two sensors, hourly readings.
	if body.TotalRows != 96 {
		t.Fatalf("expected 96 rows over the default window, got %d", body.TotalRows)
	}
}

func TestPreviewErrors(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing source", `{"sensors":"all"}`, http.StatusBadRequest},
		{"unknown source", `{"source":"purpleair"}`, http.StatusNotFound},
		{"reversed range", `{"source":"airgradient","start_time":"2025-07-02T00:00:00Z","end_time":"2025-07-01T00:00:00Z"}`, http.StatusBadRequest},
		{"bad time", `{"source":"airgradient","start_time":"yesterday"}`, http.StatusBadRequest},
		{"unconfigured source", `{"source":"ecomeasure"}`, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, app, "/api/v1/preview", tc.body)
			if resp.StatusCode != tc.code {
				t.Fatalf("expected status %d, got %d", tc.code, resp.StatusCode)
			}
			var body map[string]any
			decode(t, resp, &body)
			if body["error"] != true {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestDownloadCSV(t *testing.T) {
	app, _ := newTestApp(t)

	resp := postJSON(t, app, "/api/v1/download",
		`{"source":"airgradient","sensors":["1"],"start_time":"1751328000","end_time":"1751335200","format":"csv"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "airgradient_data_20250703_120000.csv") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if resp.Header.Get("X-Total-Rows") != "2" {
		t.Fatalf("unexpected row count header %q", resp.Header.Get("X-Total-Rows"))
	}

	data, _ := io.ReadAll(resp.Body)
	want := "sensorId,timestamp,pm25\n1,2025-07-01T00:00:00Z,10\n1,2025-07-01T01:00:00Z,10\n"
	if string(data) != want {
		t.Fatalf("unexpected csv:\n%s", data)
	}
}

func TestDownloadUnknownFormat(t *testing.T) {
	app, _ := newTestApp(t)

	resp := postJSON(t, app, "/api/v1/download", `{"source":"airgradient","format":"xlsx"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestSources(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Sources []sensors.SourceInfo `json:"sources"`
	}
	decode(t, resp, &body)
	if len(body.Sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(body.Sources))
	}
	for _, s := range body.Sources {
		if s.ID == "ecomeasure" && (s.Available || s.Reason == "") {
			t.Fatalf("ecomeasure should be unavailable with a reason: %+v", s)
		}
		if s.ID == "nebo" && s.Mode != "scheduled" {
			t.Fatalf("nebo should be scheduled: %+v", s)
		}
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sources/airgradient/sensors", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected sensors response: %v %v", resp, err)
	}
}

func TestManualCollectionRun(t *testing.T) {
	app, ledger := newTestApp(t)

	resp := postJSON(t, app, "/api/v1/collections/nebo/run", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var body struct {
		Outcome string `json:"outcome"`
	}
	decode(t, resp, &body)
	if body.Outcome != "ok" {
		t.Fatalf("expected ok run, got %s", body.Outcome)
	}

	runs, _ := ledger.Recent(context.Background(), 0)
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/collections/runs?limit=5", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var listed struct {
		Runs []sensors.CollectionRun `json:"runs"`
	}
	decode(t, resp, &listed)
	if len(listed.Runs) != 1 || listed.Runs[0].SourceID != "nebo" {
		t.Fatalf("unexpected runs %+v", listed.Runs)
	}

	resp = postJSON(t, app, "/api/v1/collections/airgradient/run", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("live sources have no collector; expected 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	postJSON(t, app, "/api/v1/preview", `{"source":"airgradient"}`)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `sensorhub_fetch_units_total{outcome="ok",source="airgradient"}`) {
		t.Fatalf("expected fetch counters in metrics output:\n%s", data)
	}
}

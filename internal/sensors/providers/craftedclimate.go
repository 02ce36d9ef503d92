package providers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// CraftedClimateProvider pulls CSV telemetry for one device (AUID). The API is
// date-granular, so responses can include rows outside the requested window.
type CraftedClimateProvider struct {
	client
}

func NewCraftedClimateProvider(httpClient *http.Client, cfg config.SourceConfig) *CraftedClimateProvider {
	var defaults []config.SensorEntry
	if auid := cfg.Credential("auid"); auid != "" {
		defaults = []config.SensorEntry{{ID: auid, Name: "Crafted Climate " + auid}}
	}
	return &CraftedClimateProvider{
		client: newClient(config.SourceCraftedClimate, "https://cctelemetry-dev.azurewebsites.net", httpClient, cfg, defaults),
	}
}

func (p *CraftedClimateProvider) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	return p.staticSensors()
}

func (p *CraftedClimateProvider) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]sensors.Reading, error) {
	return p.fetchEach(ctx, sensorIDs, func(ctx context.Context, d sensors.SensorDescriptor) ([]sensors.Reading, error) {
		return p.pull(ctx, d.SensorID, start, end)
	})
}

func (p *CraftedClimateProvider) pull(ctx context.Context, auid string, start, end time.Time) ([]sensors.Reading, error) {
	// endDate is inclusive on the provider side.
	last := end.Add(-time.Nanosecond)

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("startDate", start.UTC().Format("2006-01-02"))
		values.Set("endDate", last.UTC().Format("2006-01-02"))

		u := fmt.Sprintf("%s/pull-data/%s?%s", p.baseURL, url.PathEscape(auid), values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")
		req.Header.Set("X-API-KEY", p.cfg.Credential("api_key"))
		return req, nil
	}

	resp, err := p.do(ctx, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	readings, err := parseTelemetryCSV(auid, resp.Body)
	if err != nil {
		return nil, &sensors.UpstreamError{Source: p.id, Status: resp.StatusCode, Body: err.Error()}
	}
	return readings, nil
}

var csvTimestampColumns = []string{"timestamp", "time", "datetime", "date", "created_at"}

// parseTelemetryCSV reads a header row plus data rows. The first column named
// like a timestamp is the reading time; other numeric cells become metrics.
func parseTelemetryCSV(sensorID string, r io.Reader) ([]sensors.Reading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	tsCol := -1
	for _, want := range csvTimestampColumns {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				tsCol = i
				break
			}
		}
		if tsCol >= 0 {
			break
		}
	}
	if tsCol < 0 {
		for i, h := range header {
			if common.HasAny(strings.ToLower(h), "time", "date") {
				tsCol = i
				break
			}
		}
	}
	if tsCol < 0 {
		return nil, fmt.Errorf("csv has no timestamp column (header %v)", header)
	}

	var out []sensors.Reading
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if tsCol >= len(rec) {
			continue
		}
		ts, ok := parseTimestamp(rec[tsCol], epochAuto)
		if !ok {
			continue
		}
		var metrics []sensors.Metric
		for i, cell := range rec {
			if i == tsCol || i >= len(header) || cell == "" {
				continue
			}
			if v, ok := toFloat(cell); ok {
				metrics = append(metrics, sensors.Metric{Name: strings.TrimSpace(header[i]), Value: v})
			}
		}
		if len(metrics) == 0 {
			continue
		}
		out = append(out, sensors.Reading{SensorID: sensorID, Timestamp: ts, Metrics: metrics})
	}
	return out, nil
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

var aurassureSensors = []config.SensorEntry{
	{ID: "23883", Name: "Aurassure 23883"},
	{ID: "23884", Name: "Aurassure 23884"},
	{ID: "23885", Name: "Aurassure 23885"},
}

var aurassureParameters = []string{"temp", "humid", "pm1", "pm2.5", "no2", "o3", "co"}

// AurassureProvider reads raw thing data from the Aurassure IoT platform.
type AurassureProvider struct {
	client
}

func NewAurassureProvider(httpClient *http.Client, cfg config.SourceConfig) *AurassureProvider {
	return &AurassureProvider{
		client: newClient(config.SourceAurassure, "https://app.aurassure.com/-/api/iot-platform/v1.1.0", httpClient, cfg, aurassureSensors),
	}
}

func (p *AurassureProvider) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	return p.staticSensors()
}

func (p *AurassureProvider) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]sensors.Reading, error) {
	return p.fetchEach(ctx, sensorIDs, func(ctx context.Context, d sensors.SensorDescriptor) ([]sensors.Reading, error) {
		return p.fetchThing(ctx, d.SensorID, start, end)
	})
}

type aurassureQuery struct {
	DataType            string   `json:"data_type"`
	AggregationPeriod   int      `json:"aggregation_period"`
	Parameters          []string `json:"parameters"`
	ParameterAttributes []string `json:"parameter_attributes"`
	Things              []int    `json:"things"`
	FromTime            int64    `json:"from_time"`
	UptoTime            int64    `json:"upto_time"`
	DataSource          []string `json:"data_source"`
}

func (p *AurassureProvider) fetchThing(ctx context.Context, thingID string, start, end time.Time) ([]sensors.Reading, error) {
	id, err := strconv.Atoi(thingID)
	if err != nil {
		return nil, &sensors.UpstreamError{Source: p.id, Body: "thing id must be numeric: " + thingID}
	}
	body, err := json.Marshal(aurassureQuery{
		DataType:            "raw",
		Parameters:          aurassureParameters,
		ParameterAttributes: []string{},
		Things:              []int{id},
		FromTime:            start.Unix(),
		UptoTime:            end.Unix(),
		DataSource:          []string{"processed", "callibrated"},
	})
	if err != nil {
		return nil, err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.baseURL+"/clients/17067/applications/16/things/data", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Access-Id", p.cfg.Credential("access_id"))
		req.Header.Set("Access-Key", p.cfg.Credential("access_key"))
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var payload map[string]any
	if err := p.getJSON(ctx, buildRequest, &payload); err != nil {
		return nil, err
	}

	var out []sensors.Reading
	for _, rec := range recordsOf(payload, "data") {
		delete(rec, "thing_id")
		if r, ok := readingFrom(thingID, rec, epochSeconds, "time"); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

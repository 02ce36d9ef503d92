package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

var airVisualSensors = []config.SensorEntry{
	{ID: "NUXK", Name: "AirVisual NUXK", Metadata: map[string]string{"device_id": "686d464aad899b2bc5156788"}},
	{ID: "5UEO", Name: "AirVisual 5UEO", Metadata: map[string]string{"device_id": "686d479c83f5802962f3d379"}},
	{ID: "215J", Name: "AirVisual 215J", Metadata: map[string]string{"device_id": "688768ce8863f9662b51a598"}},
}

// AirVisualProvider reads IQAir device pages. The device API has no range
// parameters: every call returns the device's recent history, which is
// filtered to the requested window here.
type AirVisualProvider struct {
	client
}

func NewAirVisualProvider(httpClient *http.Client, cfg config.SourceConfig) *AirVisualProvider {
	return &AirVisualProvider{
		client: newClient(config.SourceAirVisual, "https://device.iqair.com/v2", httpClient, cfg, airVisualSensors),
	}
}

func (p *AirVisualProvider) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	return p.staticSensors()
}

func (p *AirVisualProvider) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]sensors.Reading, error) {
	window := sensors.TimeRange{Start: start, End: end}
	return p.fetchEach(ctx, sensorIDs, func(ctx context.Context, d sensors.SensorDescriptor) ([]sensors.Reading, error) {
		all, err := p.fetchDevice(ctx, d.SensorID, common.FirstNonEmpty(d.Metadata["device_id"], d.SensorID))
		if err != nil {
			return nil, err
		}
		return sensors.TrimReadings(all, nil, window), nil
	})
}

type airVisualInstant struct {
	TS   string `json:"ts"`
	PM25 *struct {
		AQIUS *float64 `json:"aqius"`
		Conc  *float64 `json:"conc"`
	} `json:"pm25"`
	TP *float64 `json:"tp"`
	HM *float64 `json:"hm"`
}

type airVisualPayload struct {
	Code       any `json:"code"`
	Historical struct {
		Instant []airVisualInstant `json:"instant"`
	} `json:"historical"`
}

func (p *AirVisualProvider) fetchDevice(ctx context.Context, sensorID, device string) ([]sensors.Reading, error) {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, fmt.Sprintf("%s/%s", p.baseURL, url.PathEscape(device)), nil)
	}

	var payload airVisualPayload
	if err := p.getJSON(ctx, buildRequest, &payload); err != nil {
		return nil, err
	}
	if payload.Code != nil {
		return nil, &sensors.UpstreamError{Source: p.id, Body: fmt.Sprintf("device %s returned error code %v", device, payload.Code)}
	}

	out := make([]sensors.Reading, 0, len(payload.Historical.Instant))
	for _, in := range payload.Historical.Instant {
		ts, ok := parseTimestamp(in.TS, epochAuto)
		if !ok {
			continue
		}
		var metrics []sensors.Metric
		if in.PM25 != nil && in.PM25.AQIUS != nil {
			metrics = append(metrics, sensors.Metric{Name: "pm25_aqius", Value: *in.PM25.AQIUS})
		}
		if in.PM25 != nil && in.PM25.Conc != nil {
			metrics = append(metrics, sensors.Metric{Name: "pm25_conc", Value: *in.PM25.Conc})
		}
		if in.TP != nil {
			metrics = append(metrics, sensors.Metric{Name: "temperature", Value: *in.TP})
		}
		if in.HM != nil {
			metrics = append(metrics, sensors.Metric{Name: "humidity", Value: *in.HM})
		}
		if len(metrics) == 0 {
			continue
		}
		out = append(out, sensors.Reading{SensorID: sensorID, Timestamp: ts, Metrics: metrics})
	}
	return out, nil
}

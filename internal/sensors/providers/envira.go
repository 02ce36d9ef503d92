package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

var enviraSensors = []config.SensorEntry{
	{ID: "device_1", Name: "Envira Device 1", Metadata: map[string]string{"uuid": "fba1d9dd-5031-334d-4e2e-3120ff0f3429"}},
}

// EnviraProvider reads the public pm2.5 series of Envira devices.
type EnviraProvider struct {
	client
}

func NewEnviraProvider(httpClient *http.Client, cfg config.SourceConfig) *EnviraProvider {
	return &EnviraProvider{
		client: newClient(config.SourceEnvira, "https://airlab.enviraiot.es/api/device", httpClient, cfg, enviraSensors),
	}
}

func (p *EnviraProvider) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	return p.staticSensors()
}

func (p *EnviraProvider) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]sensors.Reading, error) {
	return p.fetchEach(ctx, sensorIDs, func(ctx context.Context, d sensors.SensorDescriptor) ([]sensors.Reading, error) {
		uuid := d.Metadata["uuid"]
		if uuid == "" {
			return nil, &sensors.ConfigError{Source: p.id, Reason: "device " + d.SensorID + " has no uuid"}
		}
		return p.fetchDevice(ctx, d.SensorID, uuid, start, end)
	})
}

func (p *EnviraProvider) fetchDevice(ctx context.Context, sensorID, uuid string, start, end time.Time) ([]sensors.Reading, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("range.from", strconv.FormatInt(start.UnixMilli(), 10))
		values.Set("range.to", strconv.FormatInt(end.UnixMilli(), 10))

		u := fmt.Sprintf("%s/%s/data/pm2.5?%s", p.baseURL, url.PathEscape(uuid), values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	var payload any
	if err := p.getJSON(ctx, buildRequest, &payload); err != nil {
		return nil, err
	}

	var out []sensors.Reading
	for _, rec := range recordsOf(payload, "data") {
		if r, ok := readingFrom(sensorID, rec, epochMillis, "ts", "timestamp"); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

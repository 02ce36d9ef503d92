package providers

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

var neboSensors = []config.SensorEntry{
	{ID: "b4e8bdc2-5912-42d8-a032-0b48835a6bc1", Name: "Nebo Sensor 1"},
	{ID: "cb54c62e-3e12-4eee-9ced-5ba38ec98326", Name: "Nebo Sensor 2"},
	{ID: "df2378c8-e12c-406e-a38a-c2fd3db0509b", Name: "Nebo Sensor 3"},
}

// NeboProvider reads the latest minute of Nebo sensors. Nebo keeps no
// queryable history, so the source is scheduler-fed: every tick harvests the
// current minute into the store and queries read from there.
type NeboProvider struct {
	client

	now func() time.Time
}

func NewNeboProvider(httpClient *http.Client, cfg config.SourceConfig) *NeboProvider {
	return &NeboProvider{
		client: newClient(config.SourceNebo, "https://nebo.live/api/v2/sensors", httpClient, cfg, neboSensors),
		now:    time.Now,
	}
}

func (p *NeboProvider) Mode() sensors.Mode {
	return sensors.ModeScheduled
}

func (p *NeboProvider) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	return p.staticSensors()
}

// FetchRange returns the latest minute. The window only filters: readings
// the provider stamps outside [start, end) are dropped.
func (p *NeboProvider) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]sensors.Reading, error) {
	window := sensors.TimeRange{Start: start, End: end}
	return p.fetchEach(ctx, sensorIDs, func(ctx context.Context, d sensors.SensorDescriptor) ([]sensors.Reading, error) {
		readings, err := p.latestMinute(ctx, d.SensorID)
		if err != nil {
			return nil, err
		}
		return sensors.TrimReadings(readings, nil, window), nil
	})
}

// neboHash signs a request: sha1(<unix time><code>) hex digits 5..15.
func neboHash(unix int64, code string) string {
	sum := sha1.Sum([]byte(strconv.FormatInt(unix, 10) + code))
	return hex.EncodeToString(sum[:])[5:16]
}

func (p *NeboProvider) latestMinute(ctx context.Context, slug string) ([]sensors.Reading, error) {
	var fetchedAt time.Time

	buildRequest := func() (*http.Request, error) {
		fetchedAt = p.now().UTC()
		unix := fetchedAt.Unix()

		values := url.Values{}
		values.Set("time", strconv.FormatInt(unix, 10))
		values.Set("hash", neboHash(unix, p.cfg.Credential("code")))

		u := fmt.Sprintf("%s/%s/minute?%s", p.baseURL, url.PathEscape(slug), values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Nebo", p.cfg.Credential("token"))
		return req, nil
	}

	var payload any
	if err := p.getJSON(ctx, buildRequest, &payload); err != nil {
		return nil, err
	}

	records := recordsOf(payload, "data", "results")
	if obj, ok := payload.(map[string]any); ok && len(records) == 0 {
		records = []map[string]any{obj}
	}

	tsKeys := []string{"timestamp", "time", "datetime", "ts"}
	var out []sensors.Reading
	for _, rec := range records {
		if !hasAnyKey(rec, tsKeys...) {
			// Undated minute payloads are stamped with the request minute.
			rec["timestamp"] = fetchedAt.Truncate(time.Minute).Format(time.RFC3339)
		}
		if r, ok := readingFrom(slug, rec, epochAuto, tsKeys...); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

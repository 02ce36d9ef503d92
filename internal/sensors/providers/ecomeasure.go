package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

const (
	// ecomeasureGroupLimit is the most ids group/sensors accepts per call.
	ecomeasureGroupLimit = 10
	// ecomeasureDiscoveryRetry is how long the registry fallback is served
	// before discovery is tried again.
	ecomeasureDiscoveryRetry = 5 * time.Minute
)

var errNothingDiscovered = errors.New("group endpoint returned no sensors")

var ecomeasureSensors = []config.SensorEntry{
	{ID: "20053", Name: "Ecomeasure 20053"},
	{ID: "20055", Name: "Ecomeasure 20055"},
	{ID: "20054", Name: "Ecomeasure 20054"},
}

// EcomeasureProvider reads AirLab measurements. Sensor discovery asks the
// group endpoint and falls back to the static registry when it fails.
type EcomeasureProvider struct {
	client

	// Discovery has its own breaker so a failing group endpoint never
	// blocks measurement fetches.
	discovery *gobreaker.CircuitBreaker
	flight    singleflight.Group
	now       func() time.Time

	mu         sync.Mutex
	discovered []sensors.SensorDescriptor
	retryAt    time.Time
}

func NewEcomeasureProvider(httpClient *http.Client, cfg config.SourceConfig) *EcomeasureProvider {
	return &EcomeasureProvider{
		client:    newClient(config.SourceEcomeasure, "https://airlab-ws.i-comesure.com/api", httpClient, cfg, ecomeasureSensors),
		discovery: newBreaker(config.SourceEcomeasure + "-discovery"),
		now:       time.Now,
	}
}

func (p *EcomeasureProvider) ListSensors(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	found, retryAt := p.discovered, p.retryAt
	p.mu.Unlock()
	if found != nil {
		return found, nil
	}
	if p.now().Before(retryAt) {
		return p.staticSensors()
	}

	// Concurrent callers share one discovery; the lock is not held across it.
	v, err, _ := p.flight.Do("discover", func() (any, error) {
		found, err := p.discover(ctx)
		if err == nil && len(found) == 0 {
			err = errNothingDiscovered
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			// A caller that gave up says nothing about the endpoint.
			if ctx.Err() == nil {
				p.retryAt = p.now().Add(ecomeasureDiscoveryRetry)
			}
			return nil, err
		}
		p.discovered = found
		return found, nil
	})
	if err != nil {
		log.Printf("provider ecomeasure: sensor discovery failed, using registry for %s: %v", ecomeasureDiscoveryRetry, err)
		return p.staticSensors()
	}
	return v.([]sensors.SensorDescriptor), nil
}

func (p *EcomeasureProvider) discover(ctx context.Context) ([]sensors.SensorDescriptor, error) {
	ids := make([]string, 0, len(p.registry))
	for _, d := range p.registry {
		ids = append(ids, d.SensorID)
	}
	if len(ids) > ecomeasureGroupLimit {
		ids = ids[:ecomeasureGroupLimit]
	}

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/group/sensors/%s", p.baseURL, strings.Join(ids, ","))
		return p.authorized(u)
	}

	var payload any
	if err := p.getJSONVia(ctx, p.discovery, buildRequest, &payload); err != nil {
		return nil, err
	}

	var out []sensors.SensorDescriptor
	for _, rec := range recordsOf(payload, "results", "sensors", "data") {
		id := fmt.Sprint(rec["id"])
		if rec["id"] == nil || id == "" {
			continue
		}
		name := id
		if n, ok := rec["name"].(string); ok && n != "" {
			name = n
		}
		d := sensors.SensorDescriptor{SourceID: p.id, SensorID: id, DisplayName: name}
		if reg, ok := p.descriptor(id); ok {
			d.Metadata = reg.Metadata
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *EcomeasureProvider) FetchRange(ctx context.Context, sensorIDs []string, start, end time.Time) ([]sensors.Reading, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}
	var out []sensors.Reading
	errs := sensors.SensorErrors{}
	for _, id := range sensorIDs {
		readings, err := p.measurements(ctx, id, start, end)
		if err != nil {
			errs[id] = err
			continue
		}
		out = append(out, readings...)
	}
	if len(errs) > 0 {
		return out, errs
	}
	return out, nil
}

func (p *EcomeasureProvider) measurements(ctx context.Context, sensorID string, start, end time.Time) ([]sensors.Reading, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("start", start.UTC().Format(time.RFC3339))
		values.Set("end", end.UTC().Format(time.RFC3339))
		values.Set("unit", "false")

		u := fmt.Sprintf("%s/sensors/%s/measurements/?%s", p.baseURL, url.PathEscape(sensorID), values.Encode())
		return p.authorized(u)
	}

	var payload any
	if err := p.getJSON(ctx, buildRequest, &payload); err != nil {
		return nil, err
	}

	var out []sensors.Reading
	for _, rec := range recordsOf(payload, "results", "measurements", "data") {
		delete(rec, "id")
		delete(rec, "sensor")
		if r, ok := readingFrom(sensorID, rec, epochAuto, "timestamp", "time", "datetime", "date"); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *EcomeasureProvider) authorized(u string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "TOKEN "+p.cfg.Credential("token"))
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

var defaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker. Non-2xx responses are classified into sensors error
// kinds: 401/403 as AuthError, 429 as RateLimitError, anything else as
// UpstreamError. Network errors and 5xx are retried; 429 only when ctx opted in
// via sensors.WithRateLimitRetry.
func doRequestWithResilience(
	ctx context.Context,
	source string,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			return nil, classifyResponse(source, resp)
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &sensors.UpstreamError{Source: source, Body: fmt.Sprintf("%v: %v", errCircuitOpen, err)}
		}

		if !shouldRetry(ctx, err) || attempt >= cfg.Backoff.MaxRetries {
			return nil, err
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}
		var rl *sensors.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func classifyResponse(source string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &sensors.AuthError{Source: source, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &sensors.RateLimitError{Source: source, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &sensors.UpstreamError{Source: source, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}

func shouldRetry(ctx context.Context, err error) bool {
	var (
		auth *sensors.AuthError
		rl   *sensors.RateLimitError
		up   *sensors.UpstreamError
	)
	switch {
	case errors.As(err, &auth):
		return false
	case errors.As(err, &rl):
		return sensors.RateLimitRetry(ctx)
	case errors.As(err, &up):
		return up.Status >= 500
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		// Transport errors.
		return true
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

// client is embedded by every adapter: identity, base URL, sensor registry and
// the resilient HTTP plumbing.
type client struct {
	id      string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker

	cfg      config.SourceConfig
	registry []sensors.SensorDescriptor
}

func newClient(id, defaultBaseURL string, httpClient *http.Client, cfg config.SourceConfig, defaults []config.SensorEntry) client {
	base := common.FirstNonEmpty(cfg.BaseURL, defaultBaseURL)
	entries := defaults
	if len(cfg.Sensors) > 0 {
		entries = cfg.Sensors
	}
	return client{
		id:       id,
		baseURL:  strings.TrimRight(base, "/"),
		httpCfg:  HTTPClientConfig{Client: httpClient, Backoff: defaultBackoff},
		circuit:  newBreaker(id),
		cfg:      cfg,
		registry: descriptors(id, entries),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  5,
		Interval:     1 * time.Minute,
		Timeout:      2 * time.Minute,
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess decides what counts against the breaker. Only transport
// errors, 5xx and throttling say the provider is unhealthy; a 4xx for one
// sensor, rejected credentials or a cancelled caller do not.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var (
		auth *sensors.AuthError
		up   *sensors.UpstreamError
	)
	switch {
	case errors.As(err, &auth):
		return true
	case errors.As(err, &up):
		return up.Status > 0 && up.Status < 500
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func descriptors(source string, entries []config.SensorEntry) []sensors.SensorDescriptor {
	out := make([]sensors.SensorDescriptor, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		out = append(out, sensors.SensorDescriptor{
			SourceID:    source,
			SensorID:    e.ID,
			DisplayName: name,
			Metadata:    e.Metadata,
		})
	}
	return out
}

// ID returns the source id.
func (c *client) ID() string { return c.id }

// MaxInterval defaults to no cap; adapters with a provider limit override it.
func (c *client) MaxInterval() time.Duration { return 0 }

// Mode defaults to live.
func (c *client) Mode() sensors.Mode { return sensors.ModeLive }

// checkConfigured returns a ConfigError when credentials are missing.
func (c *client) checkConfigured() error {
	if !c.cfg.Configured() {
		return &sensors.ConfigError{Source: c.id, Reason: c.cfg.MissingReason()}
	}
	return nil
}

// staticSensors serves ListSensors from the registry.
func (c *client) staticSensors() ([]sensors.SensorDescriptor, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	if len(c.registry) == 0 {
		return nil, &sensors.ConfigError{Source: c.id, Reason: "no sensors registered"}
	}
	return c.registry, nil
}

func (c *client) descriptor(sensorID string) (sensors.SensorDescriptor, bool) {
	for _, d := range c.registry {
		if d.SensorID == sensorID {
			return d, true
		}
	}
	return sensors.SensorDescriptor{}, false
}

func (c *client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	return doRequestWithResilience(ctx, c.id, c.httpCfg, c.circuit, build)
}

// getJSON runs the request and decodes a JSON body into v.
func (c *client) getJSON(ctx context.Context, build func() (*http.Request, error), v any) error {
	return c.getJSONVia(ctx, c.circuit, build, v)
}

// getJSONVia is getJSON behind a specific breaker.
func (c *client) getJSONVia(ctx context.Context, cb *gobreaker.CircuitBreaker, build func() (*http.Request, error), v any) error {
	resp, err := doRequestWithResilience(ctx, c.id, c.httpCfg, cb, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &sensors.UpstreamError{Source: c.id, Status: resp.StatusCode, Body: "decode response: " + err.Error()}
	}
	return nil
}

// fetchEach calls fetch for every sensor and gathers per-sensor failures into
// sensors.SensorErrors, so one bad sensor never hides the others' readings.
func (c *client) fetchEach(ctx context.Context, sensorIDs []string, fetch func(ctx context.Context, d sensors.SensorDescriptor) ([]sensors.Reading, error)) ([]sensors.Reading, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	var out []sensors.Reading
	errs := sensors.SensorErrors{}
	for _, id := range sensorIDs {
		d, ok := c.descriptor(id)
		if !ok {
			errs[id] = &sensors.UpstreamError{Source: c.id, Body: "unknown sensor " + id}
			continue
		}
		readings, err := fetch(ctx, d)
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

package sensors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrUnknownSource is returned when no adapter is registered under a source id.
	ErrUnknownSource = errors.New("unknown source")
	// ErrInvalidRange is returned when start is after end.
	ErrInvalidRange = errors.New("invalid time range: start must not be after end")
	// ErrRunInProgress is returned when a collection tick is skipped.
	ErrRunInProgress = errors.New("collection run already in progress")
	// ErrIncomplete marks fetch units abandoned because the caller stopped waiting.
	ErrIncomplete = errors.New("fetch unit did not complete")
)

// ConfigError means a source is unusable (missing credentials or registry).
// It flags the source unavailable and is never fatal to the process.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source %s is not configured: %s", e.Source, e.Reason)
}

// AuthError means the provider rejected the credentials.
type AuthError struct {
	Source string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("source %s rejected credentials (status %d)", e.Source, e.Status)
}

// RateLimitError means the provider throttled the request. It is retryable.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source %s rate limited, retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("source %s rate limited", e.Source)
}

// UpstreamError is a non-retryable provider failure (4xx/5xx or bad payload).
type UpstreamError struct {
	Source string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("source %s: %s", e.Source, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("source %s returned status %d", e.Source, e.Status)
	}
	return fmt.Sprintf("source %s returned status %d: %s", e.Source, e.Status, e.Body)
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// SensorErrors collects per-sensor failures of a multi-sensor fetch.
type SensorErrors map[string]error

func (e SensorErrors) Error() string {
	ids := make([]string, 0, len(e))
	for id := range e {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e[id]))
	}
	return strings.Join(parts, "; ")
}

// UnitFailure pairs a fetch unit with the reason it failed.
type UnitFailure struct {
	Unit FetchUnit
	Err  error
}

// FetchFailedError is returned when every fetch unit of a query failed.
type FetchFailedError struct {
	Source   string
	Failures []UnitFailure
}

func (e *FetchFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("source %s: all fetches failed", e.Source)
	}
	return fmt.Sprintf("source %s: all %d fetches failed: %v", e.Source, len(e.Failures), e.Failures[0].Err)
}

func (e *FetchFailedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}

// PartialResultWarning is attached to an otherwise successful result when
// some fetch units failed or did not complete.
type PartialResultWarning struct {
	FailedSensors []string      `json:"failedSensors"`
	TotalSensors  int           `json:"totalSensors"`
	Incomplete    []FetchUnit   `json:"incomplete,omitempty"`
	Failures      []UnitFailure `json:"-"`
}

// Message renders the "N of M sensors failed" summary.
func (w *PartialResultWarning) Message() string {
	msg := fmt.Sprintf("partial data: %d of %d sensors failed", len(w.FailedSensors), w.TotalSensors)
	if len(w.FailedSensors) > 0 {
		msg += " (" + strings.Join(w.FailedSensors, ", ") + ")"
	}
	if len(w.Incomplete) > 0 {
		msg += fmt.Sprintf("; %d fetch units incomplete", len(w.Incomplete))
	}
	return msg
}

func newPartialWarning(failures []UnitFailure, totalSensors int) *PartialResultWarning {
	if len(failures) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	w := &PartialResultWarning{TotalSensors: totalSensors, Failures: failures}
	for _, f := range failures {
		if !seen[f.Unit.SensorID] {
			seen[f.Unit.SensorID] = true
			w.FailedSensors = append(w.FailedSensors, f.Unit.SensorID)
		}
		if errors.Is(f.Err, ErrIncomplete) {
			w.Incomplete = append(w.Incomplete, f.Unit)
		}
	}
	sort.Strings(w.FailedSensors)
	return w
}

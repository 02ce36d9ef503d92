package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// queryRequest is the body of preview and download requests.
type queryRequest struct {
	Source    string             `json:"source" validate:"required"`
	Sensors   *sensors.Selection `json:"sensors"`
	StartTime string             `json:"start_time"`
	EndTime   string             `json:"end_time"`
	Format    string             `json:"format"`

	From time.Time `json:"-"`
	To   time.Time `json:"-"`
}

func (q *queryRequest) bind(c *fiber.Ctx, now time.Time) error {
	if err := c.BodyParser(q); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	q.To = now.UTC()
	if q.EndTime != "" {
		to, err := parseTime(q.EndTime)
		if err != nil {
			return fmt.Errorf("end_time: %w", err)
		}
		q.To = to
	}
	q.From = q.To.Add(-DefaultWindow)
	if q.StartTime != "" {
		from, err := parseTime(q.StartTime)
		if err != nil {
			return fmt.Errorf("start_time: %w", err)
		}
		q.From = from
	}

	if q.From.After(q.To) {
		return sensors.ErrInvalidRange
	}
	return validate.Struct(q)
}

func (q *queryRequest) selection() sensors.Selection {
	if q.Sensors == nil {
		return sensors.SelectAll()
	}
	return *q.Sensors
}

// Layouts accepted for start_time and end_time, in the order they are tried.
// Fractional seconds are accepted after any seconds field.
var (
	zonedLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04Z07:00",
	}
	// Zone-less input is taken as UTC. 2006-01-02T15:04 is what a
	// datetime-local input sends.
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// parseTime accepts ISO 8601 date-times with or without an offset, a bare
// date, or Unix seconds.
func parseTime(s string) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	for _, layout := range localLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use ISO 8601 (e.g. 2025-07-01T00:00) or unix seconds")
}

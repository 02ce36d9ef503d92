package providers

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// toFloat converts JSON scalars (json.Number, float64, numeric strings) to a
// finite float64.
func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// epoch units accepted by parseTimestamp for numeric input.
type epochUnit int

const (
	epochAuto epochUnit = iota
	epochSeconds
	epochMillis
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999",
	"2006-01-02",
}

// parseTimestamp accepts epoch numbers or common textual layouts and returns
// UTC. Naive textual times are taken as UTC.
func parseTimestamp(v any, unit epochUnit) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	n, ok := toFloat(v)
	if !ok {
		return time.Time{}, false
	}
	if unit == epochAuto {
		unit = epochSeconds
		if math.Abs(n) >= 1e11 {
			unit = epochMillis
		}
	}
	if unit == epochMillis {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// flattenMetrics turns a decoded JSON record into metrics. Nested objects are
// flattened with "_" (pm25.aqius -> pm25_aqius); non-numeric leaves and the
// skipped keys are dropped. Keys are visited in sorted order so column order is
// stable across runs.
func flattenMetrics(record map[string]any, skip ...string) []sensors.Metric {
	skipped := make(map[string]bool, len(skip))
	for _, k := range skip {
		skipped[k] = true
	}
	var out []sensors.Metric
	flattenInto(&out, "", record, skipped)
	return out
}

func flattenInto(out *[]sensors.Metric, prefix string, record map[string]any, skip map[string]bool) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if prefix == "" && skip[k] {
			continue
		}
		name := k
		if prefix != "" {
			name = prefix + "_" + k
		}
		switch v := record[k].(type) {
		case map[string]any:
			flattenInto(out, name, v, skip)
		default:
			if f, ok := toFloat(v); ok {
				*out = append(*out, sensors.Metric{Name: name, Value: f})
			}
		}
	}
}

// recordsOf extracts a list of JSON objects from the first matching key of a
// payload, or from the payload itself when it is a bare list.
func recordsOf(payload any, keys ...string) []map[string]any {
	var list []any
	switch t := payload.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, k := range keys {
			if l, ok := t[k].([]any); ok {
				list = l
				break
			}
		}
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// readingFrom builds a reading from a record using the first present timestamp
// key. Records without a parseable timestamp or without metrics are skipped.
func readingFrom(sensorID string, record map[string]any, unit epochUnit, tsKeys ...string) (sensors.Reading, bool) {
	var (
		ts    time.Time
		found bool
	)
	for _, k := range tsKeys {
		v, ok := record[k]
		if !ok {
			continue
		}
		if ts, found = parseTimestamp(v, unit); found {
			break
		}
	}
	if !found {
		return sensors.Reading{}, false
	}
	metrics := flattenMetrics(record, tsKeys...)
	if len(metrics) == 0 {
		return sensors.Reading{}, false
	}
	return sensors.Reading{SensorID: sensorID, Timestamp: ts, Metrics: metrics}, true
}

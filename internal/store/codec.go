package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// Segment file columns before the metrics.
const (
	colSensorID  = "sensor_id"
	colTimestamp = "timestamp"
)

// encodeSegment writes readings as CSV with header
// sensor_id,timestamp,<metrics...>. Absent metrics are empty cells.
func encodeSegment(columns []string, readings []sensors.Reading) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(append([]string{colSensorID, colTimestamp}, columns...)); err != nil {
		return nil, err
	}
	row := make([]string, len(columns)+2)
	for _, r := range readings {
		row[0] = r.SensorID
		row[1] = r.Timestamp.UTC().Format(time.RFC3339Nano)
		for i, col := range columns {
			row[i+2] = ""
			if v, ok := r.Value(col); ok {
				row[i+2] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// decodeSegment parses a segment written by encodeSegment. Metrics keep the
// header order.
func decodeSegment(data []byte) ([]sensors.Reading, error) {
	r := csv.NewReader(bytes.NewReader(data))

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read segment header: %w", err)
	}
	if len(header) < 2 || header[0] != colSensorID || header[1] != colTimestamp {
		return nil, fmt.Errorf("unexpected segment header %v", header)
	}
	metrics := header[2:]

	var out []sensors.Reading
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read segment line %d: %w", line, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return nil, fmt.Errorf("segment line %d: %w", line, err)
		}
		reading := sensors.Reading{SensorID: rec[0], Timestamp: ts.UTC()}
		for i, name := range metrics {
			cell := rec[i+2]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("segment line %d column %s: %w", line, name, err)
			}
			reading.Metrics = append(reading.Metrics, sensors.Metric{Name: name, Value: v})
		}
		out = append(out, reading)
	}
	return out, nil
}

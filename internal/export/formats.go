package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// CSV writes one row per reading with the result's columns as header.
// Absent metrics are empty cells.
type CSV struct{}

func (CSV) ContentType() string { return "text/csv" }
func (CSV) Extension() string   { return ".csv" }

func (CSV) Encode(w io.Writer, res *sensors.QueryResult) error {
	metrics := metricColumns(res)
	cw := csv.NewWriter(w)

	header := append([]string{sensors.ColumnSensorID, sensors.ColumnTimestamp}, metrics...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range res.Rows {
		record[0] = row.SensorID
		record[1] = row.Timestamp.UTC().Format(TimeLayout)
		for i, name := range metrics {
			record[i+2] = ""
			if v, ok := row.Value(name); ok {
				record[i+2] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSON writes an array of row objects whose keys follow the result's column
// order. Absent metrics are null.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }
func (JSON) Extension() string   { return ".json" }

func (JSON) Encode(w io.Writer, res *sensors.QueryResult) error {
	metrics := metricColumns(res)
	bw := bufio.NewWriter(w)

	names := make([][]byte, len(metrics))
	for i, name := range metrics {
		b, err := json.Marshal(name)
		if err != nil {
			return err
		}
		names[i] = b
	}

	bw.WriteString("[")
	for i, row := range res.Rows {
		if i > 0 {
			bw.WriteString(",")
		}
		id, _ := json.Marshal(row.SensorID)
		fmt.Fprintf(bw, `{"%s":%s,"%s":"%s"`, sensors.ColumnSensorID, id,
			sensors.ColumnTimestamp, row.Timestamp.UTC().Format(TimeLayout))
		for j, name := range metrics {
			bw.WriteString(",")
			bw.Write(names[j])
			bw.WriteString(":")
			v, ok := row.Value(name)
			if !ok {
				bw.WriteString("null")
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				// NaN and Inf have no JSON form.
				bw.WriteString("null")
				continue
			}
			bw.Write(b)
		}
		bw.WriteString("}")
	}
	bw.WriteString("]")
	return bw.Flush()
}

// LongRow is one (sensor, instant, metric) cell of a parquet export.
type LongRow struct {
	SensorID    string  `parquet:"sensor_id"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Metric      string  `parquet:"metric"`
	Value       float64 `parquet:"value"`
}

// Parquet writes the result in long format so the schema is the same for every
// source regardless of which metrics it reports. Absent metrics produce no row.
type Parquet struct{}

func (Parquet) ContentType() string { return "application/vnd.apache.parquet" }
func (Parquet) Extension() string   { return ".parquet" }

func (Parquet) Encode(w io.Writer, res *sensors.QueryResult) error {
	metrics := metricColumns(res)
	pw := parquet.NewGenericWriter[LongRow](w)

	batch := make([]LongRow, 0, len(metrics))
	for _, row := range res.Rows {
		batch = batch[:0]
		ms := row.Timestamp.UnixMilli()
		for _, name := range metrics {
			if v, ok := row.Value(name); ok {
				batch = append(batch, LongRow{SensorID: row.SensorID, TimestampMs: ms, Metric: name, Value: v})
			}
		}
		if len(batch) == 0 {
			continue
		}
		if _, err := pw.Write(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

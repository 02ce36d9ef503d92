package sensors

import "sort"

// DedupReadings merges reading sets by (sensor id, timestamp). When a key
// repeats, the reading that comes later in the input wins. The result is
// sorted by timestamp, then sensor id.
func DedupReadings(sets ...[]Reading) []Reading {
	index := make(map[ReadingKey]int)
	var out []Reading
	for _, set := range sets {
		for _, r := range set {
			k := r.Key()
			if i, ok := index[k]; ok {
				out[i] = r
				continue
			}
			index[k] = len(out)
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out
}

func sortReadings(rs []Reading) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		return rs[i].SensorID < rs[j].SensorID
	})
}

// MetricColumns returns the union of metric names in first-seen order.
func MetricColumns(readings []Reading) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range readings {
		for _, m := range r.Metrics {
			if !seen[m.Name] {
				seen[m.Name] = true
				cols = append(cols, m.Name)
			}
		}
	}
	return cols
}

// MergeReadings turns readings from any number of sensors, chunks or segments
// into one result: one row per (sensor id, timestamp) with last write winning,
// rows sorted by timestamp then sensor id, and columns sensorId, timestamp
// followed by every metric in first-seen order.
func MergeReadings(readings []Reading) (columns []string, rows []Row) {
	columns = append([]string{ColumnSensorID, ColumnTimestamp}, MetricColumns(readings)...)

	merged := DedupReadings(readings)
	rows = make([]Row, 0, len(merged))
	for _, r := range merged {
		values := make(map[string]float64, len(r.Metrics))
		for _, m := range r.Metrics {
			values[m.Name] = m.Value
		}
		rows = append(rows, Row{
			SensorID:  r.SensorID,
			Timestamp: r.Timestamp,
			Values:    values,
		})
	}
	return columns, rows
}

// TrimReadings keeps readings of the wanted sensors inside window.
// A nil wanted set keeps every sensor.
func TrimReadings(readings []Reading, wanted map[string]bool, window TimeRange) []Reading {
	var out []Reading
	for _, r := range readings {
		if wanted != nil && !wanted[r.SensorID] {
			continue
		}
		if !window.Contains(r.Timestamp) {
			continue
		}
		out = append(out, r)
	}
	return out
}

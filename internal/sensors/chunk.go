package sensors

import "time"

// PlanChunks splits [start, end) into contiguous, non-overlapping sub-ranges no
// longer than maxInterval. A maxInterval <= 0 means no cap and yields the range
// unchanged. start == end (or start after end) yields nil.
func PlanChunks(start, end time.Time, maxInterval time.Duration) []TimeRange {
	if !start.Before(end) {
		return nil
	}
	if maxInterval <= 0 {
		return []TimeRange{{Start: start, End: end}}
	}

	n := int(end.Sub(start) / maxInterval)
	chunks := make([]TimeRange, 0, n+1)
	for cur := start; cur.Before(end); {
		next := cur.Add(maxInterval)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, TimeRange{Start: cur, End: next})
		cur = next
	}
	return chunks
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

const (
	dateLayout    = "2006-01-02"
	segmentExt    = ".csv"
	watermarksKey = "watermarks.json"
)

// SegmentStore keeps scheduler-harvested readings as one CSV segment per
// (source, UTC date). Writes are read-modify-write merges serialized per
// segment; readers of a segment wait for an in-flight merge of the same
// segment and never see a partial one.
type SegmentStore struct {
	blob Blob

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewSegmentStore creates a SegmentStore over blob.
func NewSegmentStore(blob Blob) *SegmentStore {
	return &SegmentStore{
		blob:  blob,
		locks: make(map[string]*sync.RWMutex),
	}
}

func (s *SegmentStore) lock(key string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[key] = l
	}
	return l
}

func segmentKey(sourceID string, date time.Time) string {
	return sourceID + "/" + date.UTC().Format(dateLayout) + segmentExt
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Put merges readings into the segment of (sourceID, date): existing rows are
// kept, rows with the same sensor id and timestamp are replaced by the new
// ones. Readings must fall on date.
func (s *SegmentStore) Put(ctx context.Context, sourceID string, date time.Time, readings []sensors.Reading) error {
	day := dayOf(date)
	for _, r := range readings {
		if !dayOf(r.Timestamp).Equal(day) {
			return fmt.Errorf("reading %s at %s does not belong to segment %s", r.SensorID, r.Timestamp.Format(time.RFC3339), day.Format(dateLayout))
		}
	}

	key := segmentKey(sourceID, day)
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	existing, err := s.read(ctx, key)
	if err != nil {
		return err
	}

	columns := sensors.MetricColumns(append(existing[:len(existing):len(existing)], readings...))
	merged := sensors.DedupReadings(existing, readings)

	data, err := encodeSegment(columns, merged)
	if err != nil {
		return fmt.Errorf("encode segment %s: %w", key, err)
	}
	if err := s.blob.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write segment %s: %w", key, err)
	}
	return nil
}

func (s *SegmentStore) read(ctx context.Context, key string) ([]sensors.Reading, error) {
	data, err := s.blob.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read segment %s: %w", key, err)
	}
	readings, err := decodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("decode segment %s: %w", key, err)
	}
	return readings, nil
}

// Get returns the union of the segments for the UTC dates first..last,
// inclusive. Only dates with a stored segment are read.
func (s *SegmentStore) Get(ctx context.Context, sourceID string, first, last time.Time) ([]sensors.Reading, error) {
	dates, err := s.Dates(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list segments of %s: %w", sourceID, err)
	}

	from, to := dayOf(first), dayOf(last)
	var out []sensors.Reading
	for _, day := range dates {
		if day.Before(from) || day.After(to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := segmentKey(sourceID, day)
		l := s.lock(key)
		l.RLock()
		readings, err := s.read(ctx, key)
		l.RUnlock()
		if err != nil {
			return nil, err
		}
		out = append(out, readings...)
	}
	return out, nil
}

// Append splits readings by UTC date and merges each group into its segment in
// ascending date order. It stops at the first failing segment and returns the
// readings persisted before it.
func (s *SegmentStore) Append(ctx context.Context, sourceID string, readings []sensors.Reading) ([]sensors.Reading, error) {
	byDay := make(map[time.Time][]sensors.Reading)
	for _, r := range readings {
		d := dayOf(r.Timestamp)
		byDay[d] = append(byDay[d], r)
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var persisted []sensors.Reading
	for _, d := range days {
		if err := s.Put(ctx, sourceID, d, byDay[d]); err != nil {
			return persisted, err
		}
		persisted = append(persisted, byDay[d]...)
	}
	return persisted, nil
}

// Dates lists the dates with a stored segment for sourceID, ascending.
func (s *SegmentStore) Dates(ctx context.Context, sourceID string) ([]time.Time, error) {
	prefix := sourceID + "/"
	keys, err := s.blob.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var dates []time.Time
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if !strings.HasSuffix(name, segmentExt) {
			continue
		}
		d, err := time.Parse(dateLayout, strings.TrimSuffix(name, segmentExt))
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// Watermarks returns the per-sensor collection watermarks of sourceID. A
// source that was never collected has none.
func (s *SegmentStore) Watermarks(ctx context.Context, sourceID string) (map[string]time.Time, error) {
	key := sourceID + "/" + watermarksKey
	l := s.lock(key)
	l.RLock()
	defer l.RUnlock()

	data, err := s.blob.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watermarks of %s: %w", sourceID, err)
	}
	marks := map[string]time.Time{}
	if err := json.Unmarshal(data, &marks); err != nil {
		return nil, fmt.Errorf("decode watermarks of %s: %w", sourceID, err)
	}
	return marks, nil
}

// SetWatermarks replaces the watermarks of the given sensors; others are kept.
func (s *SegmentStore) SetWatermarks(ctx context.Context, sourceID string, marks map[string]time.Time) error {
	key := sourceID + "/" + watermarksKey
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	current := map[string]time.Time{}
	data, err := s.blob.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("read watermarks of %s: %w", sourceID, err)
	default:
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("decode watermarks of %s: %w", sourceID, err)
		}
	}
	for id, ts := range marks {
		current[id] = ts.UTC()
	}

	out, err := json.Marshal(current)
	if err != nil {
		return err
	}
	return s.blob.Put(ctx, key, out)
}

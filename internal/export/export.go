package export

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// ErrUnknownFormat is returned by Get for unregistered format names.
var ErrUnknownFormat = errors.New("unknown export format")

// TimeLayout is how timestamps are rendered in text exports.
const TimeLayout = time.RFC3339

// Encoder writes a query result in one download format.
type Encoder interface {
	ContentType() string
	Extension() string
	Encode(w io.Writer, res *sensors.QueryResult) error
}

var (
	mu       sync.RWMutex
	encoders = map[string]Encoder{}
)

// Register makes an encoder available under name, replacing any previous one.
func Register(name string, enc Encoder) {
	mu.Lock()
	defer mu.Unlock()
	encoders[name] = enc
}

// Get returns the encoder registered under name.
func Get(name string) (Encoder, error) {
	mu.RLock()
	defer mu.RUnlock()
	enc, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return enc, nil
}

// Formats lists registered format names.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filename builds the attachment name for a download of source at t.
func Filename(source string, t time.Time, enc Encoder) string {
	return fmt.Sprintf("%s_data_%s%s", source, t.UTC().Format("20060102_150405"), enc.Extension())
}

func init() {
	Register("csv", CSV{})
	Register("json", JSON{})
	Register("parquet", Parquet{})
}

// metricColumns returns the result's columns without the two leading key columns.
func metricColumns(res *sensors.QueryResult) []string {
	out := make([]string, 0, len(res.Columns))
	for _, c := range res.Columns {
		if c == sensors.ColumnSensorID || c == sensors.ColumnTimestamp {
			continue
		}
		out = append(out, c)
	}
	return out
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// Prom records fetch and collection activity as Prometheus metrics.
type Prom struct {
	fetchUnits    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	persisted     *prometheus.CounterVec
}

var _ sensors.Observer = (*Prom)(nil)

// NewProm creates the collectors and registers them on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		fetchUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_fetch_units_total",
			Help: "Fetch units executed against providers, by outcome.",
		}, []string{"source", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorhub_fetch_duration_seconds",
			Help:    "Duration of a single provider fetch unit.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_collection_runs_total",
			Help: "Collection runs, by outcome.",
		}, []string{"source", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_collection_skipped_total",
			Help: "Collection ticks skipped because a run was still in progress.",
		}, []string{"source"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_persisted_readings_total",
			Help: "Readings written to the segment store by collection runs.",
		}, []string{"source"}),
	}
	reg.MustRegister(p.fetchUnits, p.fetchDuration, p.runs, p.skipped, p.persisted)
	return p
}

func (p *Prom) ObserveFetch(source, outcome string, took time.Duration) {
	p.fetchUnits.WithLabelValues(source, outcome).Inc()
	p.fetchDuration.WithLabelValues(source).Observe(took.Seconds())
}

func (p *Prom) ObserveRun(run *sensors.CollectionRun) {
	p.runs.WithLabelValues(run.SourceID, run.Outcome()).Inc()
}

func (p *Prom) ObserveSkippedTick(source string) {
	p.skipped.WithLabelValues(source).Inc()
}

func (p *Prom) ObservePersisted(source string, n int) {
	if n <= 0 {
		return
	}
	p.persisted.WithLabelValues(source).Add(float64(n))
}

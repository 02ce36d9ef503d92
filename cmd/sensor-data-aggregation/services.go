package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/metrics"
	"github.com/i474232898/sensor-data-aggregation/internal/runlog"
	"github.com/i474232898/sensor-data-aggregation/internal/scheduler"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors/providers"
	"github.com/i474232898/sensor-data-aggregation/internal/store"
	"github.com/i474232898/sensor-data-aggregation/internal/telemetry"
)

// services is everything the commands share.
type services struct {
	cfg       *config.Snapshot
	engine    *sensors.Engine
	scheduler *scheduler.Scheduler
	runs      sensors.RunRecorder
	registry  *prometheus.Registry

	closers []func(context.Context) error
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s := &services{cfg: cfg, registry: prometheus.NewRegistry()}

	shutdown, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, appName)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, shutdown)

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs := metrics.NewProm(s.registry)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	registry, err := sensors.NewRegistry(providers.Build(cfg, httpClient)...)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	blob, err := s.openBlob()
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	segments := store.NewSegmentStore(blob)

	if s.runs, err = s.openRunLedger(ctx); err != nil {
		s.close(ctx)
		return nil, err
	}

	exec := sensors.NewExecutor(cfg.FetchConcurrency, obs)
	s.engine = sensors.NewEngine(registry, exec, segments, sensors.WithQueryTimeout(cfg.QueryTimeout))

	var scheduled []*scheduler.Collector
	for _, a := range registry.Adapters() {
		if a.Mode() != sensors.ModeScheduled {
			continue
		}
		scheduled = append(scheduled, scheduler.NewCollector(a, exec, segments, s.runs, obs, scheduler.Options{
			MaxLookback: cfg.CollectMaxLookback,
			RunTimeout:  cfg.CollectRunTimeout,
		}))
	}
	s.scheduler = scheduler.New(cfg.CollectInterval, scheduled...)

	return s, nil
}

func (s *services) openBlob() (store.Blob, error) {
	switch s.cfg.StoreBackend {
	case config.StoreMemory:
		log.Println("store: keeping segments in memory; they are lost on restart")
		return store.NewMemoryBlob(), nil
	case config.StoreRedis:
		client := store.NewRedisClient(s.cfg.RedisAddr)
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		log.Printf("store: using redis at %s", s.cfg.RedisAddr)
		return store.NewRedisBlob(client, s.cfg.RedisPrefix), nil
	default:
		blob, err := store.NewFSBlob(s.cfg.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("open segment dir: %w", err)
		}
		log.Printf("store: writing segments under %s", s.cfg.StoreDir)
		return blob, nil
	}
}

func (s *services) openRunLedger(ctx context.Context) (sensors.RunRecorder, error) {
	if s.cfg.RunlogDSN == "" {
		return runlog.NewMemory(s.cfg.RunlogMaxRuns), nil
	}
	db, err := runlog.Open(ctx, s.cfg.RunlogDSN)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return db.Close() })

	ledger := runlog.NewPostgres(db, "")
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("create run ledger table: %w", err)
	}
	return ledger, nil
}

// close releases resources in reverse order of acquisition.
func (s *services) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			log.Printf("error during shutdown: %v", err)
		}
	}
	s.closers = nil
}

package providers

import (
	"net/http"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// Build constructs one adapter per known source. Unconfigured sources are
// still built; they report a ConfigError until credentials are supplied.
func Build(cfg *config.Snapshot, httpClient *http.Client) []sensors.Adapter {
	return []sensors.Adapter{
		NewAurassureProvider(httpClient, cfg.Source(config.SourceAurassure)),
		NewAirGradientProvider(httpClient, cfg.Source(config.SourceAirGradient)),
		NewAirVisualProvider(httpClient, cfg.Source(config.SourceAirVisual)),
		NewCraftedClimateProvider(httpClient, cfg.Source(config.SourceCraftedClimate)),
		NewEcomeasureProvider(httpClient, cfg.Source(config.SourceEcomeasure)),
		NewEnviraProvider(httpClient, cfg.Source(config.SourceEnvira)),
		NewNeboProvider(httpClient, cfg.Source(config.SourceNebo)),
	}
}

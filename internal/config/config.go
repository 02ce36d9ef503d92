package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source ids known to the service.
const (
	SourceAurassure      = "aurassure"
	SourceAirGradient    = "airgradient"
	SourceAirVisual      = "airvisual"
	SourceCraftedClimate = "craftedclimate"
	SourceEcomeasure     = "ecomeasure"
	SourceEnvira         = "envira"
	SourceNebo           = "nebo"
)

// Store backends.
const (
	StoreFS     = "fs"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// SensorEntry is one sensor of a source registry.
type SensorEntry struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Metadata map[string]string `yaml:"metadata"`
}

// SourceConfig holds what one adapter needs: credentials, an optional base URL
// override and an optional sensor registry replacing the built-in defaults.
type SourceConfig struct {
	ID          string
	BaseURL     string
	Credentials map[string]string
	Sensors     []SensorEntry

	// Missing lists required environment variables that are not set.
	Missing []string
}

// Configured reports whether every required credential is present.
func (s SourceConfig) Configured() bool {
	return len(s.Missing) == 0
}

// Credential returns the named credential or "".
func (s SourceConfig) Credential(name string) string {
	return s.Credentials[name]
}

// MissingReason renders Missing for error messages.
func (s SourceConfig) MissingReason() string {
	if len(s.Missing) == 0 {
		return ""
	}
	return "missing " + strings.Join(s.Missing, ", ")
}

// Snapshot is the immutable process configuration. It is built once by Load and
// handed to constructors by pointer.
type Snapshot struct {
	Port string

	HTTPTimeout      time.Duration
	QueryTimeout     time.Duration
	FetchConcurrency int

	CollectInterval    time.Duration
	CollectMaxLookback time.Duration
	CollectRunTimeout  time.Duration

	StoreBackend string
	StoreDir     string
	RedisAddr    string
	RedisPrefix  string

	// RunlogDSN selects the Postgres run ledger; empty keeps runs in memory.
	RunlogDSN     string
	RunlogMaxRuns int

	OTLPEndpoint string
	RegistryFile string

	Sources map[string]SourceConfig
}

// Source returns the configuration of one source. Unknown ids yield a zero
// config with only ID set.
func (s *Snapshot) Source(id string) SourceConfig {
	if sc, ok := s.Sources[id]; ok {
		return sc
	}
	return SourceConfig{ID: id}
}

// credential maps a credential name to the env vars it may come from, in order.
type credential struct {
	name string
	env  []string
}

var sourceCredentials = map[string][]credential{
	SourceAurassure: {
		{name: "access_id", env: []string{"AURASSURE_ACCESS_ID"}},
		{name: "access_key", env: []string{"AURASSURE_ACCESS_KEY"}},
	},
	SourceAirGradient: {
		{name: "token", env: []string{"AIRGRADIENT_API_TOKEN", "AIRGRADIENT_API_KEY"}},
	},
	SourceAirVisual: nil,
	SourceCraftedClimate: {
		{name: "api_key", env: []string{"CRAFTED_CLIMATE_API_KEY"}},
		{name: "auid", env: []string{"CRAFTED_CLIMATE_AUID"}},
	},
	SourceEcomeasure: {
		{name: "token", env: []string{"ECOMEASURE_TOKEN"}},
	},
	SourceEnvira: nil,
	SourceNebo: {
		{name: "token", env: []string{"NEBO_TOKEN"}},
		{name: "code", env: []string{"NEBO_CODE"}},
	},
}

// SourceIDs returns every known source id, sorted.
func SourceIDs() []string {
	ids := make([]string, 0, len(sourceCredentials))
	for id := range sourceCredentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load reads configuration from .env, the environment and the optional YAML
// sensor registry, with sensible defaults.
func Load() (*Snapshot, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &Snapshot{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = getenvDuration("QUERY_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	cfg.FetchConcurrency = getenvInt("FETCH_CONCURRENCY", 4)

	if cfg.CollectInterval, err = getenvDuration("COLLECT_INTERVAL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CollectMaxLookback, err = getenvDuration("COLLECT_MAX_LOOKBACK", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CollectRunTimeout, err = getenvDuration("COLLECT_RUN_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", StoreFS))
	switch cfg.StoreBackend {
	case StoreFS, StoreRedis, StoreMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want fs, redis or memory", cfg.StoreBackend)
	}
	cfg.StoreDir = getenvDefault("STORE_DIR", "./data/segments")
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPrefix = getenvDefault("REDIS_PREFIX", "sensorhub")

	cfg.RunlogDSN = os.Getenv("RUNLOG_DSN")
	cfg.RunlogMaxRuns = getenvInt("RUNLOG_MAX_RUNS", 200)

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.RegistryFile = os.Getenv("SENSOR_REGISTRY_FILE")

	var registry map[string][]SensorEntry
	if cfg.RegistryFile != "" {
		registry, err = LoadRegistry(cfg.RegistryFile)
		if err != nil {
			return nil, err
		}
	}

	cfg.Sources = make(map[string]SourceConfig, len(sourceCredentials))
	for _, id := range SourceIDs() {
		sc := loadSource(id)
		if entries, ok := registry[id]; ok {
			sc.Sensors = entries
		}
		if !sc.Configured() {
			log.Printf("config: source %s unavailable: %s", id, sc.MissingReason())
		}
		cfg.Sources[id] = sc
	}

	return cfg, nil
}

func loadSource(id string) SourceConfig {
	sc := SourceConfig{
		ID:          id,
		BaseURL:     os.Getenv(strings.ToUpper(id) + "_BASE_URL"),
		Credentials: make(map[string]string),
	}
	for _, c := range sourceCredentials[id] {
		v := firstEnv(c.env...)
		if v == "" {
			sc.Missing = append(sc.Missing, c.env[0])
			continue
		}
		sc.Credentials[c.name] = v
	}
	if id == SourceEnvira {
		sc.Sensors = enviraDevicesFromEnv()
	}
	return sc
}

// enviraDevicesFromEnv reads ENVIRA_DEVICE_<n>_UUID for n = 1, 2, ... until
// the first gap.
func enviraDevicesFromEnv() []SensorEntry {
	var out []SensorEntry
	for n := 1; ; n++ {
		uuid := os.Getenv(fmt.Sprintf("ENVIRA_DEVICE_%d_UUID", n))
		if uuid == "" {
			return out
		}
		out = append(out, SensorEntry{
			ID:       fmt.Sprintf("device_%d", n),
			Name:     fmt.Sprintf("Envira Device %d", n),
			Metadata: map[string]string{"uuid": uuid},
		})
	}
}

type registryFile struct {
	Sources map[string]struct {
		Sensors []SensorEntry `yaml:"sensors"`
	} `yaml:"sources"`
}

// LoadRegistry parses a YAML sensor registry:
//
//	sources:
//	  airgradient:
//	    sensors:
//	      - id: sensor_1
//	        name: Sensor 1
//	        metadata: {location_id: "170379"}
func LoadRegistry(path string) (map[string][]SensorEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sensor registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sensor registry %s: %w", path, err)
	}
	out := make(map[string][]SensorEntry, len(f.Sources))
	for id, src := range f.Sources {
		if _, known := sourceCredentials[id]; !known {
			return nil, fmt.Errorf("sensor registry %s: unknown source %q", path, id)
		}
		for i, s := range src.Sensors {
			if s.ID == "" {
				return nil, fmt.Errorf("sensor registry %s: %s sensor %d has no id", path, id, i)
			}
		}
		out[id] = src.Sensors
	}
	return out, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

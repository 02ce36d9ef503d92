package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearSourceEnv(t *testing.T) {
	t.Helper()
	for _, creds := range sourceCredentials {
		for _, c := range creds {
			for _, k := range c.env {
				t.Setenv(k, "")
			}
		}
	}
	t.Setenv("ENVIRA_DEVICE_1_UUID", "")
	t.Setenv("SENSOR_REGISTRY_FILE", "")
	t.Setenv("STORE_BACKEND", "")
}

func TestLoadDefaults(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("COLLECT_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CollectInterval != 2*time.Minute || cfg.CollectMaxLookback != 48*time.Hour {
		t.Fatalf("unexpected collection defaults: %s %s", cfg.CollectInterval, cfg.CollectMaxLookback)
	}
	if cfg.StoreBackend != StoreFS || cfg.FetchConcurrency != 4 {
		t.Fatalf("unexpected store/concurrency defaults: %s %d", cfg.StoreBackend, cfg.FetchConcurrency)
	}

	nebo := cfg.Source(SourceNebo)
	if nebo.Configured() {
		t.Fatalf("nebo must be unconfigured without credentials")
	}
	if nebo.MissingReason() != "missing NEBO_TOKEN, NEBO_CODE" {
		t.Fatalf("unexpected reason %q", nebo.MissingReason())
	}
	if !cfg.Source(SourceAirVisual).Configured() {
		t.Fatalf("airvisual needs no credentials")
	}
}

func TestLoadCredentialsAndFallbacks(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("AIRGRADIENT_API_KEY", "legacy-key")
	t.Setenv("NEBO_TOKEN", "tok")
	t.Setenv("NEBO_CODE", "code")
	t.Setenv("ENVIRA_DEVICE_1_UUID", "uuid-1")
	t.Setenv("ENVIRA_DEVICE_2_UUID", "uuid-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ag := cfg.Source(SourceAirGradient)
	if !ag.Configured() || ag.Credential("token") != "legacy-key" {
		t.Fatalf("expected airgradient token from fallback variable, got %+v", ag)
	}
	if !cfg.Source(SourceNebo).Configured() {
		t.Fatalf("nebo should be configured")
	}
	envira := cfg.Source(SourceEnvira)
	if len(envira.Sensors) != 2 || envira.Sensors[1].Metadata["uuid"] != "uuid-2" {
		t.Fatalf("unexpected envira devices: %+v", envira.Sensors)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("STORE_BACKEND", "s3")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown store backend")
	}

	t.Setenv("STORE_BACKEND", "")
	t.Setenv("COLLECT_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid COLLECT_INTERVAL")
	}
}

func TestLoadRegistry(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("COLLECT_INTERVAL", "")
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	content := `
sources:
  airgradient:
    sensors:
      - id: lab
        name: Lab sensor
        metadata:
          location_id: "999"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	t.Setenv("SENSOR_REGISTRY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sensors := cfg.Source(SourceAirGradient).Sensors
	if len(sensors) != 1 || sensors[0].ID != "lab" || sensors[0].Metadata["location_id"] != "999" {
		t.Fatalf("unexpected registry entries: %+v", sensors)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("sources:\n  unknown:\n    sensors: []\n"), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	if _, err := LoadRegistry(bad); err == nil {
		t.Fatalf("expected error for unknown source in registry")
	}
}

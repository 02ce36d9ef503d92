package telemetry

import (
	"context"
	"testing"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "sensor-data-aggregation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracerWithEndpoint(t *testing.T) {
	// The gRPC exporter connects lazily, so no collector is needed here.
	shutdown, err := InitTracer(context.Background(), "127.0.0.1:4317", "sensor-data-aggregation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestGRPCTarget(t *testing.T) {
	cases := []struct {
		in     string
		target string
		secure bool
	}{
		{"otel-collector:4317", "otel-collector:4317", false},
		{"http://otel-collector:4317", "otel-collector:4317", false},
		{"https://collector.example.com:4317/", "collector.example.com:4317", true},
	}
	for _, tc := range cases {
		target, secure, err := grpcTarget(tc.in)
		if err != nil {
			t.Fatalf("grpcTarget(%q): %v", tc.in, err)
		}
		if target != tc.target || secure != tc.secure {
			t.Fatalf("grpcTarget(%q) = %s %v, want %s %v", tc.in, target, secure, tc.target, tc.secure)
		}
	}

	for _, bad := range []string{"ftp://collector:4317", "http://"} {
		if _, _, err := grpcTarget(bad); err == nil {
			t.Fatalf("grpcTarget(%q): expected an error", bad)
		}
	}
}

func TestInitTracerWithEndpointURL(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "http://127.0.0.1:4317", "sensor-data-aggregation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

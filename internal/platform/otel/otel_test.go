package otel

import (
	"context"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "orchestrator", Config{Enabled: true})
	if err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown err=%v", err)
	}
}

func TestSetupNoopWhenDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "orchestrator", Config{Endpoint: "http://localhost:4318"})
	if err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown err=%v", err)
	}
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable, nothing is exported.
	shutdown, err := Setup(context.Background(), "orchestrator", Config{Enabled: true, Endpoint: "http://192.0.2.1:4318"})
	if err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown err=%v", err)
	}
	if Tracer() == nil {
		t.Fatalf("Tracer() returned nil")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_OTEL_ENABLED", "false")
	t.Setenv("ORCHESTRATOR_OTEL_ENDPOINT", " http://collector:4318 ")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled {
		t.Fatalf("Enabled=true, want false")
	}
	if cfg.Endpoint != "http://collector:4318" {
		t.Fatalf("Endpoint=%q", cfg.Endpoint)
	}
}

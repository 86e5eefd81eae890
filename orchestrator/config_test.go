package main

import (
	"testing"
	"time"
)

func TestServiceConfigValidate(t *testing.T) {
	valid := serviceConfig{
		Store:          "postgres",
		OutcomeStore:   "minio",
		Workers:        4,
		ExpireInterval: time.Second,
		PlanMaxBytes:   1024,
	}
	if err := valid.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !valid.usePostgres() || !valid.useMinio() {
		t.Fatalf("expected postgres and minio")
	}

	cases := map[string]func(*serviceConfig){
		"store":         func(c *serviceConfig) { c.Store = "sqlite" },
		"outcome store": func(c *serviceConfig) { c.OutcomeStore = "s3" },
		"workers":       func(c *serviceConfig) { c.Workers = 0 },
		"interval":      func(c *serviceConfig) { c.ExpireInterval = 0 },
		"plan size":     func(c *serviceConfig) { c.PlanMaxBytes = 0 },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := cfg.validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	memory := serviceConfig{Store: "Memory", OutcomeStore: "memory", Workers: 1, ExpireInterval: time.Second, PlanMaxBytes: 1}
	if err := memory.validate(); err != nil {
		t.Fatalf("validate memory: %v", err)
	}
	if memory.usePostgres() || memory.useMinio() {
		t.Fatalf("expected memory stores")
	}
}

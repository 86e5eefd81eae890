package objectstore

import "testing"

func validConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "outcomes",
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	cases := map[string]func(*Config){
		"scheme":   func(c *Config) { c.Endpoint = "http://localhost:9000" },
		"bucket":   func(c *Config) { c.Bucket = " " },
		"secret":   func(c *Config) { c.SecretKey = "" },
		"negative": func(c *Config) { c.RetentionDays = -1 },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate() expected error", name)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_MINIO_BUCKET_OUTCOMES", "step-outcomes")
	t.Setenv("ORCHESTRATOR_OUTCOME_RETENTION_DAYS", "30")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Bucket != "step-outcomes" || cfg.RetentionDays != 30 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestNew(t *testing.T) {
	store, err := New(validConfig())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if store.Client.EndpointURL().Host != "localhost:9000" {
		t.Fatalf("endpoint=%q", store.Client.EndpointURL().Host)
	}
	if store.Bucket() != "outcomes" {
		t.Fatalf("Bucket()=%q", store.Bucket())
	}
}

func TestRetentionRules(t *testing.T) {
	rules := retentionRules(14)
	if len(rules.Rules) != 1 {
		t.Fatalf("rules=%d, want 1", len(rules.Rules))
	}
	rule := rules.Rules[0]
	if rule.ID != retentionRuleID || rule.Status != "Enabled" || int(rule.Expiration.Days) != 14 {
		t.Fatalf("rule=%+v", rule)
	}
}

package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/platform/env"
)

type Config struct {
	Endpoint  string `env:"ORCHESTRATOR_MINIO_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"ORCHESTRATOR_MINIO_ACCESS_KEY" envDefault:"orchestrator"`
	SecretKey string `env:"ORCHESTRATOR_MINIO_SECRET_KEY" envDefault:"orchestratorminio"`
	Region    string `env:"ORCHESTRATOR_MINIO_REGION" envDefault:"us-east-1"`
	UseSSL    bool   `env:"ORCHESTRATOR_MINIO_USE_SSL" envDefault:"false"`
	Bucket    string `env:"ORCHESTRATOR_MINIO_BUCKET_OUTCOMES" envDefault:"outcomes"`

	// RetentionDays expires outcome objects through a bucket lifecycle rule.
	// Zero keeps them forever.
	RetentionDays int `env:"ORCHESTRATOR_OUTCOME_RETENTION_DAYS" envDefault:"0"`
}

func ConfigFromEnv() (Config, error) {
	cfg, err := env.Parse[Config]()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for name, v := range map[string]string{
		"endpoint":   c.Endpoint,
		"access key": c.AccessKey,
		"secret key": c.SecretKey,
		"region":     c.Region,
		"bucket":     c.Bucket,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("object store %s is required", name)
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.RetentionDays < 0 {
		return errors.New("outcome retention days must be >= 0")
	}
	return nil
}

package delegate

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/platform/env"
)

type Config struct {
	// URL is the task runner's base URL. Task delegation is disabled when
	// it is empty.
	URL string
	// CallbackBaseURL is where the runner posts results, e.g.
	// https://orchestrator.internal. "/callbacks/{id}" is appended.
	CallbackBaseURL string
	Timeout         time.Duration

	// Client credentials for the runner. Requests are unauthenticated when
	// TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("ORCHESTRATOR_DELEGATE_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:             strings.TrimSpace(env.String("ORCHESTRATOR_DELEGATE_URL", "")),
		CallbackBaseURL: strings.TrimSpace(env.String("ORCHESTRATOR_CALLBACK_BASE_URL", "http://localhost:8080")),
		Timeout:         timeout,
		TokenURL:        strings.TrimSpace(env.String("ORCHESTRATOR_DELEGATE_TOKEN_URL", "")),
		ClientID:        strings.TrimSpace(env.String("ORCHESTRATOR_DELEGATE_CLIENT_ID", "")),
		ClientSecret:    env.String("ORCHESTRATOR_DELEGATE_CLIENT_SECRET", ""),
		Scopes:          env.List("ORCHESTRATOR_DELEGATE_SCOPES"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return errors.New("ORCHESTRATOR_DELEGATE_URL must be an absolute url")
	}
	if _, err := url.ParseRequestURI(c.CallbackBaseURL); err != nil {
		return errors.New("ORCHESTRATOR_CALLBACK_BASE_URL must be an absolute url")
	}
	if c.Timeout <= 0 {
		return errors.New("ORCHESTRATOR_DELEGATE_TIMEOUT must be positive")
	}
	if c.TokenURL != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return errors.New("ORCHESTRATOR_DELEGATE_CLIENT_ID and ORCHESTRATOR_DELEGATE_CLIENT_SECRET are required with a token url")
	}
	return nil
}

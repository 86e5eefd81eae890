package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
	storeMinio    = "minio"
)

type serviceConfig struct {
	// Store selects where executions and waits are kept.
	Store string `env:"ORCHESTRATOR_STORE" envDefault:"postgres"`
	// OutcomeStore selects where step outcomes are kept.
	OutcomeStore   string        `env:"ORCHESTRATOR_OUTCOME_STORE" envDefault:"minio"`
	Workers        int           `env:"ORCHESTRATOR_WORKERS" envDefault:"16"`
	ExpireInterval time.Duration `env:"ORCHESTRATOR_EXPIRE_INTERVAL" envDefault:"10s"`
	ExpireBatch    int           `env:"ORCHESTRATOR_EXPIRE_BATCH" envDefault:"50"`
	AuditBuffer    int           `env:"ORCHESTRATOR_AUDIT_BUFFER" envDefault:"256"`
	PlanMaxBytes   int64         `env:"ORCHESTRATOR_PLAN_MAX_BYTES" envDefault:"1048576"`
	DrainTimeout   time.Duration `env:"ORCHESTRATOR_DRAIN_TIMEOUT" envDefault:"30s"`
}

func (c serviceConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store)) {
	case storePostgres, storeMemory:
	default:
		return fmt.Errorf("ORCHESTRATOR_STORE must be %s or %s", storePostgres, storeMemory)
	}
	switch strings.ToLower(strings.TrimSpace(c.OutcomeStore)) {
	case storeMinio, storeMemory:
	default:
		return fmt.Errorf("ORCHESTRATOR_OUTCOME_STORE must be %s or %s", storeMinio, storeMemory)
	}
	if c.Workers <= 0 {
		return errors.New("ORCHESTRATOR_WORKERS must be positive")
	}
	if c.ExpireInterval <= 0 {
		return errors.New("ORCHESTRATOR_EXPIRE_INTERVAL must be positive")
	}
	if c.PlanMaxBytes <= 0 {
		return errors.New("ORCHESTRATOR_PLAN_MAX_BYTES must be positive")
	}
	return nil
}

func (c serviceConfig) usePostgres() bool {
	return strings.EqualFold(strings.TrimSpace(c.Store), storePostgres)
}

func (c serviceConfig) useMinio() bool {
	return strings.EqualFold(strings.TrimSpace(c.OutcomeStore), storeMinio)
}

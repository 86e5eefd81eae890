package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

type NodeExecutionFilter struct {
	PlanExecutionID string
	ParentID        string
	Statuses        []domain.Status
	Limit           int
}

// NodeExecutionUpdate mutates a freshly loaded node execution. Returning an
// error aborts the update without writing.
type NodeExecutionUpdate func(ne *domain.NodeExecution) error

// NodeExecutionRepository persists node executions. Update is atomic: the
// mutation is applied to the latest stored version and written with a
// version check, so concurrent readers never observe a half-applied change.
type NodeExecutionRepository interface {
	Create(ctx context.Context, ne domain.NodeExecution) error
	Get(ctx context.Context, id string) (domain.NodeExecution, error)
	List(ctx context.Context, filter NodeExecutionFilter) ([]domain.NodeExecution, error)
	Update(ctx context.Context, id string, update NodeExecutionUpdate) (domain.NodeExecution, error)
}

type PlanExecutionUpdate func(pe *domain.PlanExecution) error

// PlanExecutionRepository persists plan executions.
type PlanExecutionRepository interface {
	Create(ctx context.Context, pe domain.PlanExecution) error
	Get(ctx context.Context, id string) (domain.PlanExecution, error)
	Update(ctx context.Context, id string, update PlanExecutionUpdate) (domain.PlanExecution, error)
}

// WaitInstanceRepository stores wait instances and the responses delivered
// for their correlation ids.
type WaitInstanceRepository interface {
	Create(ctx context.Context, wait domain.WaitInstance) error
	Get(ctx context.Context, id string) (domain.WaitInstance, error)
	// AddResponse records data for correlationID on every waiting instance
	// that expects it and returns those instances after the write.
	AddResponse(ctx context.Context, correlationID string, data json.RawMessage) ([]domain.WaitInstance, error)
	// Claim moves a waiting instance to DONE. It reports false when another
	// caller claimed it first.
	Claim(ctx context.Context, id string) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.WaitInstance, error)
}

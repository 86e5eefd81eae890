package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	platformpg "github.com/animus-labs/animus-orchestrator/internal/platform/postgres"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
)

type PlanExecutionStore struct {
	db DB
}

const (
	insertPlanExecutionQuery = `INSERT INTO plan_executions (
		plan_execution_id,
		plan,
		status,
		setup_abstractions,
		created_by,
		started_at,
		ended_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectPlanExecutionQuery = `SELECT plan_execution_id, plan, status, setup_abstractions, created_by, started_at, ended_at, version
	 FROM plan_executions
	 WHERE plan_execution_id = $1`

	updatePlanExecutionQuery = `UPDATE plan_executions SET
		status = $2,
		setup_abstractions = $3,
		started_at = $4,
		ended_at = $5,
		version = version + 1
	 WHERE plan_execution_id = $1 AND version = $6`
)

func NewPlanExecutionStore(db DB) *PlanExecutionStore {
	if db == nil {
		return nil
	}
	return &PlanExecutionStore{db: db}
}

func (s *PlanExecutionStore) Create(ctx context.Context, pe domain.PlanExecution) error {
	if s == nil || s.db == nil {
		return errors.New("plan execution store not initialized")
	}
	id := strings.TrimSpace(pe.UUID)
	if id == "" {
		return errors.New("plan execution id is required")
	}
	plan, err := json.Marshal(pe.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	abstractions, err := encodeJSON(pe.SetupAbstractions, "{}")
	if err != nil {
		return fmt.Errorf("encode setup abstractions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertPlanExecutionQuery,
		id,
		plan,
		string(pe.Status),
		abstractions,
		nullIfEmpty(pe.CreatedBy),
		nullTime(pe.StartTs),
		nullTime(pe.EndTs),
	)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return fmt.Errorf("%w: plan execution %s", repo.ErrConflict, id)
		}
		return fmt.Errorf("insert plan execution: %w", err)
	}
	return nil
}

func (s *PlanExecutionStore) Get(ctx context.Context, id string) (domain.PlanExecution, error) {
	pe, _, err := s.get(ctx, id)
	return pe, err
}

// Update writes the mutated plan execution if nobody changed it since it was
// read. The plan document itself is immutable and never rewritten.
func (s *PlanExecutionStore) Update(ctx context.Context, id string, update repo.PlanExecutionUpdate) (domain.PlanExecution, error) {
	if update == nil {
		return domain.PlanExecution{}, errors.New("update is required")
	}
	id = strings.TrimSpace(id)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		pe, version, err := s.get(ctx, id)
		if err != nil {
			return domain.PlanExecution{}, err
		}
		if err := update(&pe); err != nil {
			return domain.PlanExecution{}, err
		}
		pe.UUID = id

		abstractions, err := encodeJSON(pe.SetupAbstractions, "{}")
		if err != nil {
			return domain.PlanExecution{}, fmt.Errorf("encode setup abstractions: %w", err)
		}
		res, err := s.db.ExecContext(ctx, updatePlanExecutionQuery,
			id,
			string(pe.Status),
			abstractions,
			nullTime(pe.StartTs),
			nullTime(pe.EndTs),
			version,
		)
		if err != nil {
			return domain.PlanExecution{}, fmt.Errorf("update plan execution: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return domain.PlanExecution{}, fmt.Errorf("update plan execution: %w", err)
		} else if n == 1 {
			return pe, nil
		}
	}
	return domain.PlanExecution{}, fmt.Errorf("%w: plan execution %s changed concurrently", repo.ErrConflict, id)
}

func (s *PlanExecutionStore) get(ctx context.Context, id string) (domain.PlanExecution, int64, error) {
	if s == nil || s.db == nil {
		return domain.PlanExecution{}, 0, errors.New("plan execution store not initialized")
	}
	var (
		pe           domain.PlanExecution
		plan         []byte
		status       string
		abstractions []byte
		createdBy    sql.NullString
		startedAt    sql.NullTime
		endedAt      sql.NullTime
		version      int64
	)
	err := s.db.QueryRowContext(ctx, selectPlanExecutionQuery, strings.TrimSpace(id)).Scan(
		&pe.UUID,
		&plan,
		&status,
		&abstractions,
		&createdBy,
		&startedAt,
		&endedAt,
		&version,
	)
	if err != nil {
		return domain.PlanExecution{}, 0, handleNotFound(err)
	}
	if err := decodeJSON(plan, &pe.Plan); err != nil {
		return domain.PlanExecution{}, 0, fmt.Errorf("decode plan: %w", err)
	}
	if err := decodeJSON(abstractions, &pe.SetupAbstractions); err != nil {
		return domain.PlanExecution{}, 0, fmt.Errorf("decode setup abstractions: %w", err)
	}
	pe.Status = domain.Status(status)
	pe.CreatedBy = createdBy.String
	pe.StartTs = timeOrZero(startedAt)
	pe.EndTs = timeOrZero(endedAt)
	return pe, version, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	platformpg "github.com/animus-labs/animus-orchestrator/internal/platform/postgres"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
)

type NodeExecutionStore struct {
	db DB
}

const nodeExecutionColumns = `node_execution_id, plan_execution_id, ambiance, node, status, mode, executable_responses,
	resolved_step_parameters, parent_id, previous_id, next_id, notify_id, retry_ids, old_retry, failure_info,
	initial_wait_ms, started_at, ended_at, version`

const (
	insertNodeExecutionQuery = `INSERT INTO node_executions (` + nodeExecutionColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1)`

	selectNodeExecutionQuery = `SELECT ` + nodeExecutionColumns + `
	 FROM node_executions
	 WHERE node_execution_id = $1`

	// The version predicate makes the write a compare-and-swap against the
	// row the update was computed from.
	updateNodeExecutionQuery = `UPDATE node_executions SET
		ambiance = $2,
		status = $3,
		mode = $4,
		executable_responses = $5,
		resolved_step_parameters = $6,
		parent_id = $7,
		previous_id = $8,
		next_id = $9,
		notify_id = $10,
		retry_ids = $11,
		old_retry = $12,
		failure_info = $13,
		initial_wait_ms = $14,
		started_at = $15,
		ended_at = $16,
		version = version + 1,
		updated_at = now()
	 WHERE node_execution_id = $1 AND version = $17`
)

func NewNodeExecutionStore(db DB) *NodeExecutionStore {
	if db == nil {
		return nil
	}
	return &NodeExecutionStore{db: db}
}

func (s *NodeExecutionStore) Create(ctx context.Context, ne domain.NodeExecution) error {
	if s == nil || s.db == nil {
		return errors.New("node execution store not initialized")
	}
	id := strings.TrimSpace(ne.UUID)
	if id == "" {
		return errors.New("node execution id is required")
	}
	if strings.TrimSpace(ne.Ambiance.PlanExecutionID) == "" {
		return errors.New("plan execution id is required")
	}
	row, err := encodeNodeExecution(ne)
	if err != nil {
		return err
	}
	node, err := json.Marshal(ne.Node)
	if err != nil {
		return fmt.Errorf("encode node plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertNodeExecutionQuery,
		id,
		ne.Ambiance.PlanExecutionID,
		row.ambiance,
		node,
		string(ne.Status),
		nullIfEmpty(string(ne.Mode)),
		row.responses,
		nullJSON(ne.ResolvedStepParameters),
		nullIfEmpty(ne.ParentID),
		nullIfEmpty(ne.PreviousID),
		nullIfEmpty(ne.NextID),
		nullIfEmpty(ne.NotifyID),
		row.retryIDs,
		ne.OldRetry,
		nullJSON(row.failureInfo),
		ne.InitialWaitDuration.Milliseconds(),
		nullTime(ne.StartTs),
		nullTime(ne.EndTs),
	)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return fmt.Errorf("%w: node execution %s", repo.ErrConflict, id)
		}
		return fmt.Errorf("insert node execution: %w", err)
	}
	return nil
}

func (s *NodeExecutionStore) Get(ctx context.Context, id string) (domain.NodeExecution, error) {
	if s == nil || s.db == nil {
		return domain.NodeExecution{}, errors.New("node execution store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectNodeExecutionQuery, strings.TrimSpace(id))
	return scanNodeExecution(row)
}

func (s *NodeExecutionStore) List(ctx context.Context, filter repo.NodeExecutionFilter) ([]domain.NodeExecution, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("node execution store not initialized")
	}
	query, args := listNodeExecutionsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.NodeExecution, 0)
	for rows.Next() {
		ne, err := scanNodeExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ne)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	return out, nil
}

// Update applies update to the stored row and writes it back with a version
// check, retrying from a fresh read when another writer got there first.
func (s *NodeExecutionStore) Update(ctx context.Context, id string, update repo.NodeExecutionUpdate) (domain.NodeExecution, error) {
	if s == nil || s.db == nil {
		return domain.NodeExecution{}, errors.New("node execution store not initialized")
	}
	if update == nil {
		return domain.NodeExecution{}, errors.New("update is required")
	}
	id = strings.TrimSpace(id)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		ne, err := s.Get(ctx, id)
		if err != nil {
			return domain.NodeExecution{}, err
		}
		version := ne.Version
		if err := update(&ne); err != nil {
			return domain.NodeExecution{}, err
		}
		ne.UUID = id

		written, err := s.write(ctx, ne, version)
		if err != nil {
			return domain.NodeExecution{}, err
		}
		if written {
			ne.Version = version + 1
			return ne, nil
		}
	}
	return domain.NodeExecution{}, fmt.Errorf("%w: node execution %s changed concurrently", repo.ErrConflict, id)
}

func (s *NodeExecutionStore) write(ctx context.Context, ne domain.NodeExecution, version int64) (bool, error) {
	row, err := encodeNodeExecution(ne)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, updateNodeExecutionQuery,
		ne.UUID,
		row.ambiance,
		string(ne.Status),
		nullIfEmpty(string(ne.Mode)),
		row.responses,
		nullJSON(ne.ResolvedStepParameters),
		nullIfEmpty(ne.ParentID),
		nullIfEmpty(ne.PreviousID),
		nullIfEmpty(ne.NextID),
		nullIfEmpty(ne.NotifyID),
		row.retryIDs,
		ne.OldRetry,
		nullJSON(row.failureInfo),
		ne.InitialWaitDuration.Milliseconds(),
		nullTime(ne.StartTs),
		nullTime(ne.EndTs),
		version,
	)
	if err != nil {
		return false, fmt.Errorf("update node execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update node execution: %w", err)
	}
	return n == 1, nil
}

func listNodeExecutionsQuery(filter repo.NodeExecutionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if id := strings.TrimSpace(filter.PlanExecutionID); id != "" {
		args = append(args, id)
		where = append(where, fmt.Sprintf("plan_execution_id = $%d", len(args)))
	}
	if id := strings.TrimSpace(filter.ParentID); id != "" {
		args = append(args, id)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		from := len(args) + 1
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+placeholders(from, len(filter.Statuses))+")")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(nodeExecutionColumns)
	b.WriteString("\n FROM node_executions")
	if len(where) > 0 {
		b.WriteString("\n WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\n ORDER BY seq ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, "\n LIMIT $%d", len(args))
	}
	return b.String(), args
}

type nodeExecutionRow struct {
	ambiance    []byte
	responses   []byte
	retryIDs    []byte
	failureInfo []byte
}

func encodeNodeExecution(ne domain.NodeExecution) (nodeExecutionRow, error) {
	var (
		row nodeExecutionRow
		err error
	)
	if row.ambiance, err = json.Marshal(ne.Ambiance); err != nil {
		return row, fmt.Errorf("encode ambiance: %w", err)
	}
	if row.responses, err = encodeJSON(ne.ExecutableResponses, "[]"); err != nil {
		return row, fmt.Errorf("encode executable responses: %w", err)
	}
	if row.retryIDs, err = encodeJSON(ne.RetryIDs, "[]"); err != nil {
		return row, fmt.Errorf("encode retry ids: %w", err)
	}
	if ne.FailureInfo != nil {
		if row.failureInfo, err = json.Marshal(ne.FailureInfo); err != nil {
			return row, fmt.Errorf("encode failure info: %w", err)
		}
	}
	return row, nil
}

func scanNodeExecution(scanner rowScanner) (domain.NodeExecution, error) {
	var (
		ne          domain.NodeExecution
		planExecID  string
		ambiance    []byte
		node        []byte
		status      string
		mode        sql.NullString
		responses   []byte
		params      []byte
		parentID    sql.NullString
		previousID  sql.NullString
		nextID      sql.NullString
		notifyID    sql.NullString
		retryIDs    []byte
		failureInfo []byte
		waitMs      int64
		startedAt   sql.NullTime
		endedAt     sql.NullTime
	)
	if err := scanner.Scan(
		&ne.UUID,
		&planExecID,
		&ambiance,
		&node,
		&status,
		&mode,
		&responses,
		&params,
		&parentID,
		&previousID,
		&nextID,
		&notifyID,
		&retryIDs,
		&ne.OldRetry,
		&failureInfo,
		&waitMs,
		&startedAt,
		&endedAt,
		&ne.Version,
	); err != nil {
		return domain.NodeExecution{}, handleNotFound(err)
	}

	if err := decodeJSON(ambiance, &ne.Ambiance); err != nil {
		return domain.NodeExecution{}, fmt.Errorf("decode ambiance: %w", err)
	}
	if ne.Ambiance.PlanExecutionID == "" {
		ne.Ambiance.PlanExecutionID = planExecID
	}
	if err := decodeJSON(node, &ne.Node); err != nil {
		return domain.NodeExecution{}, fmt.Errorf("decode node plan: %w", err)
	}
	if err := decodeJSON(responses, &ne.ExecutableResponses); err != nil {
		return domain.NodeExecution{}, fmt.Errorf("decode executable responses: %w", err)
	}
	if err := decodeJSON(retryIDs, &ne.RetryIDs); err != nil {
		return domain.NodeExecution{}, fmt.Errorf("decode retry ids: %w", err)
	}
	if len(failureInfo) > 0 {
		var info domain.FailureInfo
		if err := decodeJSON(failureInfo, &info); err != nil {
			return domain.NodeExecution{}, fmt.Errorf("decode failure info: %w", err)
		}
		ne.FailureInfo = &info
	}
	if len(params) > 0 {
		ne.ResolvedStepParameters = json.RawMessage(params)
	}
	ne.Status = domain.Status(status)
	ne.Mode = domain.ExecutionMode(mode.String)
	ne.ParentID = parentID.String
	ne.PreviousID = previousID.String
	ne.NextID = nextID.String
	ne.NotifyID = notifyID.String
	ne.InitialWaitDuration = time.Duration(waitMs) * time.Millisecond
	ne.StartTs = timeOrZero(startedAt)
	ne.EndTs = timeOrZero(endedAt)
	return ne, nil
}

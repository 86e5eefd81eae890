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

type WaitInstanceStore struct {
	db DB
}

const waitInstanceColumns = `wait_instance_id, node_execution_id, correlation_ids, responses, status, created_at, expires_at`

const (
	insertWaitInstanceQuery = `INSERT INTO wait_instances (` + waitInstanceColumns + `)
	VALUES ($1,$2,$3,'{}'::jsonb,$4,$5,$6)`

	selectWaitInstanceQuery = `SELECT ` + waitInstanceColumns + `
	 FROM wait_instances
	 WHERE wait_instance_id = $1`

	// The first response for a correlation id wins; redeliveries leave the
	// stored response untouched.
	addWaitResponseQuery = `UPDATE wait_instances SET
		responses = CASE
			WHEN responses ? $1::text THEN responses
			ELSE responses || jsonb_build_object($1::text, $2::jsonb)
		END
	 WHERE status = 'WAITING' AND correlation_ids @> jsonb_build_array($1::text)
	 RETURNING ` + waitInstanceColumns

	claimWaitInstanceQuery = `UPDATE wait_instances SET status = 'DONE', completed_at = now()
	 WHERE wait_instance_id = $1 AND status = 'WAITING'`

	existsWaitInstanceQuery = `SELECT 1 FROM wait_instances WHERE wait_instance_id = $1`

	listExpiredWaitInstancesQuery = `SELECT ` + waitInstanceColumns + `
	 FROM wait_instances
	 WHERE status = 'WAITING' AND expires_at IS NOT NULL AND expires_at <= $1
	 ORDER BY expires_at ASC
	 LIMIT NULLIF($2::int, 0)`
)

func NewWaitInstanceStore(db DB) *WaitInstanceStore {
	if db == nil {
		return nil
	}
	return &WaitInstanceStore{db: db}
}

func (s *WaitInstanceStore) Create(ctx context.Context, wait domain.WaitInstance) error {
	if s == nil || s.db == nil {
		return errors.New("wait instance store not initialized")
	}
	id := strings.TrimSpace(wait.ID)
	if id == "" {
		return errors.New("wait instance id is required")
	}
	if len(wait.CorrelationIDs) == 0 {
		return errors.New("correlation ids are required")
	}
	correlationIDs, err := json.Marshal(wait.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("encode correlation ids: %w", err)
	}
	status := wait.Status
	if status == "" {
		status = domain.WaitStatusWaiting
	}
	createdAt := wait.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, insertWaitInstanceQuery,
		id,
		wait.NodeExecutionID,
		correlationIDs,
		string(status),
		createdAt.UTC(),
		nullTime(wait.ExpiresAt),
	)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return fmt.Errorf("%w: wait instance %s", repo.ErrConflict, id)
		}
		return fmt.Errorf("insert wait instance: %w", err)
	}
	return nil
}

func (s *WaitInstanceStore) Get(ctx context.Context, id string) (domain.WaitInstance, error) {
	if s == nil || s.db == nil {
		return domain.WaitInstance{}, errors.New("wait instance store not initialized")
	}
	return scanWaitInstance(s.db.QueryRowContext(ctx, selectWaitInstanceQuery, strings.TrimSpace(id)))
}

func (s *WaitInstanceStore) AddResponse(ctx context.Context, correlationID string, data json.RawMessage) ([]domain.WaitInstance, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("wait instance store not initialized")
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, errors.New("correlation id is required")
	}
	if !json.Valid(data) {
		return nil, errors.New("response data must be valid json")
	}
	// Two callbacks landing on the same wait can deadlock on its row.
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rows, err := s.db.QueryContext(ctx, addWaitResponseQuery, correlationID, []byte(data))
		if err == nil {
			waits, err := collectWaitInstances(rows)
			if err == nil || !platformpg.IsTransient(err) {
				return waits, err
			}
			lastErr = err
			continue
		}
		if !platformpg.IsTransient(err) {
			return nil, fmt.Errorf("add wait response: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("add wait response: %w", lastErr)
}

func (s *WaitInstanceStore) Claim(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("wait instance store not initialized")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.ExecContext(ctx, claimWaitInstanceQuery, id)
	if err != nil {
		return false, fmt.Errorf("claim wait instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim wait instance: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	var one int
	if err := s.db.QueryRowContext(ctx, existsWaitInstanceQuery, id).Scan(&one); err != nil {
		return false, handleNotFound(err)
	}
	return false, nil
}

func (s *WaitInstanceStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.WaitInstance, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("wait instance store not initialized")
	}
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.QueryContext(ctx, listExpiredWaitInstancesQuery, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired wait instances: %w", err)
	}
	return collectWaitInstances(rows)
}

func collectWaitInstances(rows *sql.Rows) ([]domain.WaitInstance, error) {
	defer rows.Close()
	var out []domain.WaitInstance
	for rows.Next() {
		wait, err := scanWaitInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wait)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan wait instances: %w", err)
	}
	return out, nil
}

func scanWaitInstance(scanner rowScanner) (domain.WaitInstance, error) {
	var (
		wait           domain.WaitInstance
		correlationIDs []byte
		responses      []byte
		status         string
		expiresAt      sql.NullTime
	)
	if err := scanner.Scan(
		&wait.ID,
		&wait.NodeExecutionID,
		&correlationIDs,
		&responses,
		&status,
		&wait.CreatedAt,
		&expiresAt,
	); err != nil {
		return domain.WaitInstance{}, handleNotFound(err)
	}
	if err := decodeJSON(correlationIDs, &wait.CorrelationIDs); err != nil {
		return domain.WaitInstance{}, fmt.Errorf("decode correlation ids: %w", err)
	}
	if err := decodeJSON(responses, &wait.Responses); err != nil {
		return domain.WaitInstance{}, fmt.Errorf("decode responses: %w", err)
	}
	wait.Status = domain.WaitStatus(status)
	wait.CreatedAt = wait.CreatedAt.UTC()
	wait.ExpiresAt = timeOrZero(expiresAt)
	return wait, nil
}

// Package waitnotify connects suspended nodes to the external completions
// they wait for.
//
// A node that suspends registers a wait instance listing the correlation ids
// it needs (callback ids, task ids, child node execution ids). Notify records
// the response for a correlation id; once every id of a wait instance has a
// response the instance is claimed and its node is resumed with the full
// response map. An error response resumes immediately. Claiming is a
// compare-and-set on the store, so a wait instance resumes its node at most
// once no matter how many notifiers race.
package waitnotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
	"github.com/google/uuid"
)

// Resumer receives completed response maps.
type Resumer interface {
	ResumeNodeExecution(ctx context.Context, nodeExecutionID string, responses map[string]domain.ResponseData, asyncError bool) error
}

type Notifier struct {
	logger  *slog.Logger
	waits   repo.WaitInstanceRepository
	resumer Resumer
	now     func() time.Time
}

func New(logger *slog.Logger, waits repo.WaitInstanceRepository) *Notifier {
	if waits == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		waits:  waits,
		now:    time.Now,
	}
}

// Bind sets the component resumed when a wait instance completes. It must be
// called before the first Notify.
func (n *Notifier) Bind(resumer Resumer) {
	n.resumer = resumer
}

// WaitOn registers a wait instance for nodeExecutionID. A positive timeout
// sets the deadline after which the Expirer fails the wait.
func (n *Notifier) WaitOn(ctx context.Context, nodeExecutionID string, timeout time.Duration, correlationIDs ...string) (string, error) {
	if n == nil || n.waits == nil {
		return "", errors.New("notifier not initialized")
	}
	nodeExecutionID = strings.TrimSpace(nodeExecutionID)
	if nodeExecutionID == "" {
		return "", errors.New("node execution id is required")
	}
	ids := make([]string, 0, len(correlationIDs))
	seen := map[string]struct{}{}
	for _, id := range correlationIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return "", errors.New("correlation id is required")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", errors.New("at least one correlation id is required")
	}

	now := n.now().UTC()
	wait := domain.WaitInstance{
		ID:              uuid.NewString(),
		NodeExecutionID: nodeExecutionID,
		CorrelationIDs:  ids,
		Status:          domain.WaitStatusWaiting,
		CreatedAt:       now,
	}
	if timeout > 0 {
		wait.ExpiresAt = now.Add(timeout)
	}
	if err := n.waits.Create(ctx, wait); err != nil {
		return "", fmt.Errorf("create wait instance: %w", err)
	}
	return wait.ID, nil
}

// Notify delivers data for correlationID.
func (n *Notifier) Notify(ctx context.Context, correlationID string, data domain.ResponseData) error {
	if n == nil || n.waits == nil {
		return errors.New("notifier not initialized")
	}
	if n.resumer == nil {
		return errors.New("notifier has no resumer bound")
	}
	raw, err := domain.MarshalResponseData(data)
	if err != nil {
		return err
	}
	waits, err := n.waits.AddResponse(ctx, correlationID, raw)
	if err != nil {
		return fmt.Errorf("record response %s: %w", correlationID, err)
	}
	if len(waits) == 0 {
		n.logger.Warn("notify without waiter", "correlation_id", correlationID)
		return nil
	}

	_, isError := data.(domain.ErrorNotifyResponseData)
	var errs []error
	for _, wait := range waits {
		if !isError && !wait.Complete() {
			continue
		}
		responses := map[string]domain.ResponseData{correlationID: data}
		if !isError {
			responses, err = decodeResponses(wait)
			if err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := n.claimAndResume(ctx, wait, responses, isError); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyError fails every wait instance expecting correlationID.
func (n *Notifier) NotifyError(ctx context.Context, correlationID string, message string, types ...domain.FailureType) error {
	if len(types) == 0 {
		types = []domain.FailureType{domain.FailureUnknown}
	}
	return n.Notify(ctx, correlationID, domain.ErrorNotifyResponseData{
		FailureTypes: types,
		ErrorMessage: message,
	})
}

func (n *Notifier) claimAndResume(ctx context.Context, wait domain.WaitInstance, responses map[string]domain.ResponseData, asyncError bool) error {
	claimed, err := n.waits.Claim(ctx, wait.ID)
	if err != nil {
		return fmt.Errorf("claim wait %s: %w", wait.ID, err)
	}
	if !claimed {
		n.logger.Debug("wait already claimed", "wait_id", wait.ID, "node_execution_id", wait.NodeExecutionID)
		return nil
	}
	if err := n.resumer.ResumeNodeExecution(ctx, wait.NodeExecutionID, responses, asyncError); err != nil {
		return fmt.Errorf("resume %s: %w", wait.NodeExecutionID, err)
	}
	return nil
}

func decodeResponses(wait domain.WaitInstance) (map[string]domain.ResponseData, error) {
	out := make(map[string]domain.ResponseData, len(wait.Responses))
	for id, raw := range wait.Responses {
		data, err := domain.UnmarshalResponseData(raw)
		if err != nil {
			return nil, fmt.Errorf("wait %s response %s: %w", wait.ID, id, err)
		}
		out[id] = data
	}
	return out, nil
}

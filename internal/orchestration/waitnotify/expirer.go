package waitnotify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

// Expirer fails wait instances whose deadline passed. The failure travels the
// normal resume path as an EXPIRED error response.
type Expirer struct {
	notifier *Notifier
	interval time.Duration
	batch    int
}

func NewExpirer(notifier *Notifier, interval time.Duration, batch int) *Expirer {
	if notifier == nil {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Expirer{notifier: notifier, interval: interval, batch: batch}
}

// Run sweeps until ctx is cancelled.
func (e *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.notifier.logger.Error("expire waits", "error", err)
			}
		}
	}
}

// Sweep expires every due wait instance once. All due instances are
// attempted; errors are joined.
func (e *Expirer) Sweep(ctx context.Context) error {
	n := e.notifier
	if n.resumer == nil {
		return errors.New("notifier has no resumer bound")
	}
	due, err := n.waits.ListExpired(ctx, n.now().UTC(), e.batch)
	if err != nil {
		return fmt.Errorf("list expired waits: %w", err)
	}
	var errs []error
	for _, wait := range due {
		data := domain.ErrorNotifyResponseData{
			FailureTypes: []domain.FailureType{domain.FailureExpired},
			ErrorMessage: fmt.Sprintf("timed out waiting for %d response(s)", len(wait.CorrelationIDs)-len(wait.Responses)),
		}
		key := wait.ID
		if len(wait.CorrelationIDs) > 0 {
			key = wait.CorrelationIDs[0]
		}
		responses := map[string]domain.ResponseData{key: data}
		if err := n.claimAndResume(ctx, wait, responses, true); err != nil {
			errs = append(errs, err)
			continue
		}
		n.logger.Info("wait expired", "wait_id", wait.ID, "node_execution_id", wait.NodeExecutionID)
	}
	return errors.Join(errs...)
}

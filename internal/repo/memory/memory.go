// Package memory provides in-process repositories. They copy records on the
// way in and out so callers get the same isolation a database gives them.
// They back tests and single-process development runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
)

type NodeExecutionStore struct {
	mu    sync.Mutex
	items map[string]domain.NodeExecution
	seq   []string
}

func NewNodeExecutionStore() *NodeExecutionStore {
	return &NodeExecutionStore{items: map[string]domain.NodeExecution{}}
}

func (s *NodeExecutionStore) Create(_ context.Context, ne domain.NodeExecution) error {
	id := strings.TrimSpace(ne.UUID)
	if id == "" {
		return fmt.Errorf("node execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; exists {
		return fmt.Errorf("%w: node execution %s", repo.ErrConflict, id)
	}
	ne.Version = 1
	s.items[id] = cloneNodeExecution(ne)
	s.seq = append(s.seq, id)
	return nil
}

func (s *NodeExecutionStore) Get(_ context.Context, id string) (domain.NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ne, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.NodeExecution{}, repo.ErrNotFound
	}
	return cloneNodeExecution(ne), nil
}

func (s *NodeExecutionStore) List(_ context.Context, filter repo.NodeExecutionFilter) ([]domain.NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NodeExecution, 0)
	for _, id := range s.seq {
		ne := s.items[id]
		if filter.PlanExecutionID != "" && ne.Ambiance.PlanExecutionID != filter.PlanExecutionID {
			continue
		}
		if filter.ParentID != "" && ne.ParentID != filter.ParentID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ne.Status) {
			continue
		}
		out = append(out, cloneNodeExecution(ne))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *NodeExecutionStore) Update(_ context.Context, id string, update repo.NodeExecutionUpdate) (domain.NodeExecution, error) {
	if update == nil {
		return domain.NodeExecution{}, fmt.Errorf("update is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.NodeExecution{}, repo.ErrNotFound
	}
	next := cloneNodeExecution(current)
	if err := update(&next); err != nil {
		return domain.NodeExecution{}, err
	}
	next.UUID = current.UUID
	next.Version = current.Version + 1
	s.items[current.UUID] = cloneNodeExecution(next)
	return next, nil
}

type PlanExecutionStore struct {
	mu    sync.Mutex
	items map[string]domain.PlanExecution
}

func NewPlanExecutionStore() *PlanExecutionStore {
	return &PlanExecutionStore{items: map[string]domain.PlanExecution{}}
}

func (s *PlanExecutionStore) Create(_ context.Context, pe domain.PlanExecution) error {
	id := strings.TrimSpace(pe.UUID)
	if id == "" {
		return fmt.Errorf("plan execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; exists {
		return fmt.Errorf("%w: plan execution %s", repo.ErrConflict, id)
	}
	s.items[id] = clonePlanExecution(pe)
	return nil
}

func (s *PlanExecutionStore) Get(_ context.Context, id string) (domain.PlanExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pe, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.PlanExecution{}, repo.ErrNotFound
	}
	return clonePlanExecution(pe), nil
}

func (s *PlanExecutionStore) Update(_ context.Context, id string, update repo.PlanExecutionUpdate) (domain.PlanExecution, error) {
	if update == nil {
		return domain.PlanExecution{}, fmt.Errorf("update is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.PlanExecution{}, repo.ErrNotFound
	}
	next := clonePlanExecution(current)
	if err := update(&next); err != nil {
		return domain.PlanExecution{}, err
	}
	next.UUID = current.UUID
	s.items[current.UUID] = clonePlanExecution(next)
	return next, nil
}

type WaitInstanceStore struct {
	mu    sync.Mutex
	items map[string]domain.WaitInstance
	seq   []string
}

func NewWaitInstanceStore() *WaitInstanceStore {
	return &WaitInstanceStore{items: map[string]domain.WaitInstance{}}
}

func (s *WaitInstanceStore) Create(_ context.Context, wait domain.WaitInstance) error {
	id := strings.TrimSpace(wait.ID)
	if id == "" {
		return fmt.Errorf("wait instance id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; exists {
		return fmt.Errorf("%w: wait instance %s", repo.ErrConflict, id)
	}
	if wait.Status == "" {
		wait.Status = domain.WaitStatusWaiting
	}
	s.items[id] = cloneWait(wait)
	s.seq = append(s.seq, id)
	return nil
}

func (s *WaitInstanceStore) Get(_ context.Context, id string) (domain.WaitInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.WaitInstance{}, repo.ErrNotFound
	}
	return cloneWait(wait), nil
}

func (s *WaitInstanceStore) AddResponse(_ context.Context, correlationID string, data json.RawMessage) ([]domain.WaitInstance, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WaitInstance
	for _, id := range s.seq {
		wait := s.items[id]
		if wait.Status != domain.WaitStatusWaiting || !containsString(wait.CorrelationIDs, correlationID) {
			continue
		}
		if wait.Responses == nil {
			wait.Responses = map[string]json.RawMessage{}
		}
		if _, seen := wait.Responses[correlationID]; !seen {
			wait.Responses[correlationID] = append(json.RawMessage(nil), data...)
		}
		s.items[id] = wait
		out = append(out, cloneWait(wait))
	}
	return out, nil
}

func (s *WaitInstanceStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return false, repo.ErrNotFound
	}
	if wait.Status != domain.WaitStatusWaiting {
		return false, nil
	}
	wait.Status = domain.WaitStatusDone
	s.items[wait.ID] = wait
	return true, nil
}

func (s *WaitInstanceStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.WaitInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WaitInstance
	for _, id := range s.seq {
		wait := s.items[id]
		if wait.Status != domain.WaitStatusWaiting || wait.ExpiresAt.IsZero() || wait.ExpiresAt.After(now) {
			continue
		}
		out = append(out, cloneWait(wait))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneNodeExecution(in domain.NodeExecution) domain.NodeExecution {
	out := in
	out.Ambiance = in.Ambiance.Clone()
	out.ExecutableResponses = append([]domain.ExecutableResponse(nil), in.ExecutableResponses...)
	out.RetryIDs = append([]string(nil), in.RetryIDs...)
	out.ResolvedStepParameters = append(json.RawMessage(nil), in.ResolvedStepParameters...)
	if in.FailureInfo != nil {
		info := *in.FailureInfo
		info.FailureTypes = append([]domain.FailureType(nil), in.FailureInfo.FailureTypes...)
		out.FailureInfo = &info
	}
	return out
}

func clonePlanExecution(in domain.PlanExecution) domain.PlanExecution {
	out := in
	out.Plan.Nodes = append([]domain.NodePlan(nil), in.Plan.Nodes...)
	if in.SetupAbstractions != nil {
		out.SetupAbstractions = make(map[string]string, len(in.SetupAbstractions))
		for k, v := range in.SetupAbstractions {
			out.SetupAbstractions[k] = v
		}
	}
	return out
}

func cloneWait(in domain.WaitInstance) domain.WaitInstance {
	out := in
	out.CorrelationIDs = append([]string(nil), in.CorrelationIDs...)
	if in.Responses != nil {
		out.Responses = make(map[string]json.RawMessage, len(in.Responses))
		for k, v := range in.Responses {
			out.Responses[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

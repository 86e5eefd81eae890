// Package outcome stores the named outputs nodes publish. Each outcome is one
// JSON object keyed planExecutionID/nodeExecutionID/name.json, so the
// outcomes of a node are listed with a prefix scan.
package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

var ErrObjectNotFound = errors.New("object not found")

// Objects is the blob storage an outcome store writes through.
type Objects interface {
	PutObject(ctx context.Context, key string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

type Store struct {
	objects Objects
}

func NewStore(objects Objects) *Store {
	if objects == nil {
		return nil
	}
	return &Store{objects: objects}
}

func (s *Store) Put(ctx context.Context, planExecutionID, nodeExecutionID string, outcome domain.StepOutcome) error {
	if s == nil || s.objects == nil {
		return errors.New("outcome store not initialized")
	}
	if strings.TrimSpace(outcome.Name) == "" {
		return errors.New("outcome name is required")
	}
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome %s: %w", outcome.Name, err)
	}
	return s.objects.PutObject(ctx, Key(planExecutionID, nodeExecutionID, outcome.Name), body)
}

// List returns the node's outcomes ordered by name.
func (s *Store) List(ctx context.Context, planExecutionID, nodeExecutionID string) ([]domain.StepOutcome, error) {
	if s == nil || s.objects == nil {
		return nil, errors.New("outcome store not initialized")
	}
	keys, err := s.objects.ListKeys(ctx, prefix(planExecutionID, nodeExecutionID))
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	sort.Strings(keys)

	out := make([]domain.StepOutcome, 0, len(keys))
	for _, key := range keys {
		body, err := s.objects.GetObject(ctx, key)
		if errors.Is(err, ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get outcome %s: %w", key, err)
		}
		var o domain.StepOutcome
		if err := json.Unmarshal(body, &o); err != nil {
			return nil, fmt.Errorf("decode outcome %s: %w", key, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func Key(planExecutionID, nodeExecutionID, name string) string {
	return prefix(planExecutionID, nodeExecutionID) + url.PathEscape(name) + ".json"
}

func prefix(planExecutionID, nodeExecutionID string) string {
	return url.PathEscape(planExecutionID) + "/" + url.PathEscape(nodeExecutionID) + "/"
}

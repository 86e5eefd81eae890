// Package auditlog appends tamper-evident rows to the audit_events table.
// Each row carries a SHA-256 over its canonical JSON form.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Resource types written by the orchestrator.
const (
	ResourceHTTP          = "http"
	ResourcePlanExecution = "plan_execution"
	ResourceNodeExecution = "node_execution"
)

const columnsPerEvent = 10

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

func (e Event) Validate() error {
	switch {
	case e.OccurredAt.IsZero():
		return errors.New("OccurredAt is required")
	case strings.TrimSpace(e.Actor) == "":
		return errors.New("Actor is required")
	case strings.TrimSpace(e.Action) == "":
		return errors.New("Action is required")
	case strings.TrimSpace(e.ResourceType) == "":
		return errors.New("ResourceType is required")
	case strings.TrimSpace(e.ResourceID) == "":
		return errors.New("ResourceID is required")
	}
	return nil
}

// canonical is the trimmed form that is both stored and hashed.
type canonical struct {
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func canonicalize(event Event, payloadJSON []byte) canonical {
	c := canonical{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	}
	if len(event.IP) > 0 {
		c.IP = event.IP.String()
	}
	return c
}

func (c canonical) digest() (string, error) {
	blob, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeIntegritySHA256 returns the digest stored next to event.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	return canonicalize(event, payloadJSON).digest()
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Writer inserts events on behalf of one service.
type Writer struct {
	q       Querier
	service string
	now     func() time.Time
}

// NewWriter returns nil if q is nil.
func NewWriter(q Querier, service string) *Writer {
	if q == nil {
		return nil
	}
	return &Writer{q: q, service: strings.TrimSpace(service), now: time.Now}
}

const insertEventsPrefix = `INSERT INTO audit_events (
	occurred_at, actor, action, resource_type, resource_id,
	request_id, ip, user_agent, payload, integrity_sha256
) VALUES `

// Write inserts a single event and returns its id.
func (w *Writer) Write(ctx context.Context, event Event) (int64, error) {
	ids, err := w.WriteBatch(ctx, []Event{event})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// WriteBatch inserts events with one statement. Either every event is
// stored or none is. Ids come back in insertion order.
func (w *Writer) WriteBatch(ctx context.Context, events []Event) ([]int64, error) {
	if w == nil || w.q == nil {
		return nil, errors.New("audit writer is not configured")
	}
	if len(events) == 0 {
		return nil, nil
	}

	var (
		query strings.Builder
		args  = make([]any, 0, len(events)*columnsPerEvent)
	)
	query.WriteString(insertEventsPrefix)
	for i, event := range events {
		row, err := w.row(event)
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", i, event.Action, err)
		}
		if i > 0 {
			query.WriteString(",")
		}
		query.WriteString(rowPlaceholders(i * columnsPerEvent))
		args = append(args, row...)
	}
	query.WriteString(" RETURNING event_id")

	rows, err := w.q.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("insert audit events: %w", err)
	}
	defer rows.Close()
	ids := make([]int64, 0, len(events))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan audit event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert audit events: %w", err)
	}
	return ids, nil
}

// row validates event and renders its column values. The writer's service
// name is added to map payloads that do not carry one.
func (w *Writer) row(event Event) ([]any, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = w.now().UTC()
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if m, ok := payload.(map[string]any); ok && w.service != "" {
		if _, set := m["service"]; !set {
			m["service"] = w.service
		}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	c := canonicalize(event, payloadJSON)
	integrity, err := c.digest()
	if err != nil {
		return nil, err
	}
	return []any{
		c.OccurredAt,
		c.Actor,
		c.Action,
		c.ResourceType,
		c.ResourceID,
		nullString(c.RequestID),
		nullString(c.IP),
		nullString(c.UserAgent),
		[]byte(c.Payload),
		integrity,
	}, nil
}

func rowPlaceholders(offset int) string {
	parts := make([]string, columnsPerEvent)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", offset+i+1)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

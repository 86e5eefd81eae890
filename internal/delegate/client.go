// Package delegate hands task-mode work to an external runner over HTTP.
// The runner answers later by posting to the orchestrator's callback
// endpoint with the callback id it was given.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("task runner error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("task runner error (status=%d): %s", e.StatusCode, body)
}

type Client struct {
	baseURL     string
	callbackURL string
	http        *http.Client
}

// New builds a client. ctx scopes token fetches of the client credentials
// flow and should live as long as the client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("task runner url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout}))
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		callbackURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		http:        httpClient,
	}, nil
}

type submitRequest struct {
	CallbackID      string          `json:"callbackId"`
	CallbackURL     string          `json:"callbackUrl"`
	PlanExecutionID string          `json:"planExecutionId"`
	NodeExecutionID string          `json:"nodeExecutionId"`
	StepType        string          `json:"stepType"`
	Mode            string          `json:"mode"`
	TaskType        string          `json:"taskType"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Timeout         string          `json:"timeout,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"taskId"`
}

// Submit implements engine.TaskDelegate. Failures carry failure types so
// advisers can tell auth problems from an unreachable runner.
func (c *Client) Submit(ctx context.Context, task engine.TaskSubmission) (string, error) {
	body, err := json.Marshal(submitRequest{
		CallbackID:      task.CallbackID,
		CallbackURL:     c.callbackURL + "/callbacks/" + url.PathEscape(task.CallbackID),
		PlanExecutionID: task.PlanExecutionID,
		NodeExecutionID: task.NodeExecutionID,
		StepType:        task.StepType,
		Mode:            string(task.Mode),
		TaskType:        task.Request.TaskType,
		Payload:         task.Request.Payload,
		Timeout:         task.Request.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", task.CallbackID)
	// Runners echo traceparent on the callback, which joins the resume to
	// this trace.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", engine.Fail(fmt.Errorf("task runner token: %w", err), domain.FailureAuthentication)
		}
		return "", engine.Fail(fmt.Errorf("task runner: %w", err), domain.FailureConnectivity)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", engine.Fail(fmt.Errorf("read task runner response: %w", err), domain.FailureConnectivity)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		var out submitResponse
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return "", fmt.Errorf("decode task runner response: %w", err)
			}
		}
		return out.TaskID, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return "", engine.Fail(&APIError{StatusCode: resp.StatusCode, Body: string(raw)}, domain.FailureAuthentication)
	case resp.StatusCode == http.StatusForbidden:
		return "", engine.Fail(&APIError{StatusCode: resp.StatusCode, Body: string(raw)}, domain.FailureAuthorization)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return "", engine.Fail(&APIError{StatusCode: resp.StatusCode, Body: string(raw)}, domain.FailureTimeout)
	case resp.StatusCode >= 500:
		return "", engine.Fail(&APIError{StatusCode: resp.StatusCode, Body: string(raw)}, domain.FailureDelegateProvisioning, domain.FailureConnectivity)
	default:
		return "", engine.Fail(&APIError{StatusCode: resp.StatusCode, Body: string(raw)}, domain.FailureDelegateProvisioning)
	}
}

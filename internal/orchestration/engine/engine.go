package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/executor"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"

var (
	ErrResumeNotHandled = errors.New("resume not handled for execution mode")
	ErrUnsupportedMode  = errors.New("step does not support execution mode")
	ErrNoFacilitation   = errors.New("no facilitator answered for node")
	ErrInvalidResponse  = errors.New("invalid step response")
	ErrNodeNotInPlan    = errors.New("node not found in plan")
)

// Notifier registers waits for suspended nodes and delivers completions to
// the nodes waiting on them.
type Notifier interface {
	WaitOn(ctx context.Context, nodeExecutionID string, timeout time.Duration, correlationIDs ...string) (string, error)
	Notify(ctx context.Context, correlationID string, data domain.ResponseData) error
}

// Scheduler runs units of work. Units that share a key never overlap.
type Scheduler interface {
	Submit(key string, unit executor.Unit) error
	SubmitAfter(delay time.Duration, key string, unit executor.Unit) error
}

// TaskSubmission is work handed to a task delegate. The delegate reports
// the result by notifying CallbackID.
type TaskSubmission struct {
	CallbackID      string
	PlanExecutionID string
	NodeExecutionID string
	StepType        string
	Mode            domain.ExecutionMode
	Request         step.TaskRequest
}

// TaskDelegate hands tasks to external runners and returns the runner's
// task id.
type TaskDelegate interface {
	Submit(ctx context.Context, task TaskSubmission) (string, error)
}

// OutcomeStore persists the outcomes a node publishes, and serves them as
// inputs to the nodes that follow.
type OutcomeStore interface {
	Put(ctx context.Context, planExecutionID, nodeExecutionID string, outcome domain.StepOutcome) error
	List(ctx context.Context, planExecutionID, nodeExecutionID string) ([]domain.StepOutcome, error)
}

type Config struct {
	Logger         *slog.Logger
	Registries     registry.Registries
	NodeExecutions repo.NodeExecutionRepository
	PlanExecutions repo.PlanExecutionRepository
	Notifier       Notifier
	Scheduler      Scheduler
	// Delegate is required only by plans that use task modes.
	Delegate TaskDelegate
	Outcomes OutcomeStore
	Observer Observer
	Tracer   trace.Tracer
}

// Engine is the single entry and exit point for node execution. It is safe
// for concurrent use.
type Engine struct {
	logger    *slog.Logger
	regs      registry.Registries
	nodes     repo.NodeExecutionRepository
	plans     repo.PlanExecutionRepository
	notifier  Notifier
	scheduler Scheduler
	delegate  TaskDelegate
	outcomes  OutcomeStore
	observer  Observer
	tracer    trace.Tracer
	resumer   *ResumeExecutor
	now       func() time.Time
	newID     func() string
}

func New(cfg Config) (*Engine, error) {
	if cfg.Registries.Steps == nil || cfg.Registries.Facilitators == nil || cfg.Registries.Advisers == nil {
		return nil, errors.New("registries are required")
	}
	if cfg.NodeExecutions == nil {
		return nil, errors.New("node execution repository is required")
	}
	if cfg.PlanExecutions == nil {
		return nil, errors.New("plan execution repository is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	e := &Engine{
		logger:    logger,
		regs:      cfg.Registries,
		nodes:     cfg.NodeExecutions,
		plans:     cfg.PlanExecutions,
		notifier:  cfg.Notifier,
		scheduler: cfg.Scheduler,
		delegate:  cfg.Delegate,
		outcomes:  cfg.Outcomes,
		observer:  observer,
		tracer:    tracer,
		now:       time.Now,
		newID:     newUUID,
	}
	e.resumer = NewResumeExecutor(logger, e, cfg.Registries.Steps, cfg.NodeExecutions, tracer, observer)
	return e, nil
}

// FailureError attaches failure types to an error reported by a step or a
// collaborator. HandleError copies them into the node's failure info.
type FailureError struct {
	Types []domain.FailureType
	Err   error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return "step failure"
	}
	return e.Err.Error()
}

func (e *FailureError) Unwrap() error { return e.Err }

// Fail wraps err with failure types.
func Fail(err error, types ...domain.FailureType) error {
	if err == nil {
		return nil
	}
	return &FailureError{Types: types, Err: err}
}

func failureTypesOf(err error) []domain.FailureType {
	var fe *FailureError
	if errors.As(err, &fe) && len(fe.Types) > 0 {
		return fe.Types
	}
	return []domain.FailureType{domain.FailureApplication}
}

// isConfigurationError reports errors that no retry can fix.
func isConfigurationError(err error) bool {
	return errors.Is(err, registry.ErrUnregisteredStepType) ||
		errors.Is(err, registry.ErrUnregisteredFacilitatorType) ||
		errors.Is(err, registry.ErrUnregisteredAdviserType) ||
		errors.Is(err, ErrResumeNotHandled) ||
		errors.Is(err, ErrUnsupportedMode) ||
		errors.Is(err, ErrNoFacilitation) ||
		errors.Is(err, ErrNodeNotInPlan) ||
		errors.Is(err, domain.ErrModeAlreadySet)
}

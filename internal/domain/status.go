package domain

import "strings"

// Status is the lifecycle state of a node or plan execution.
type Status string

const (
	StatusQueued          Status = "QUEUED"
	StatusRunning         Status = "RUNNING"
	StatusWaiting         Status = "WAITING"
	StatusAsyncWaiting    Status = "ASYNC_WAITING"
	StatusTaskWaiting     Status = "TASK_WAITING"
	StatusChildrenWaiting Status = "CHILDREN_WAITING"
	// StatusSuspended is a child chain waiting on the child of its current link.
	StatusSuspended    Status = "SUSPENDED"
	StatusSucceeded    Status = "SUCCEEDED"
	StatusSkipped      Status = "SKIPPED"
	StatusIgnoreFailed Status = "IGNORE_FAILED"
	StatusFailed       Status = "FAILED"
	StatusErrored      Status = "ERRORED"
	StatusAborted      Status = "ABORTED"
	StatusExpired      Status = "EXPIRED"
)

// NormalizeStatus maps free-form values to canonical statuses.
func NormalizeStatus(value string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(value)))
	switch s {
	case StatusQueued, StatusRunning, StatusWaiting, StatusAsyncWaiting, StatusTaskWaiting,
		StatusChildrenWaiting, StatusSuspended, StatusSucceeded,
		StatusSkipped, StatusIgnoreFailed, StatusFailed, StatusErrored, StatusAborted, StatusExpired:
		return s
	case "SUCCESS":
		return StatusSucceeded
	case "FAILURE":
		return StatusFailed
	case "ERROR":
		return StatusErrored
	default:
		return ""
	}
}

// BrokenStatuses short-circuit chain continuation.
func BrokenStatuses() []Status {
	return []Status{StatusFailed, StatusErrored, StatusAborted, StatusExpired}
}

// ResumableStatuses are the statuses from which a resume may proceed.
func ResumableStatuses() []Status {
	return []Status{
		StatusRunning,
		StatusWaiting,
		StatusAsyncWaiting,
		StatusTaskWaiting,
		StatusChildrenWaiting,
		StatusSuspended,
	}
}

// WaitingStatuses are the statuses of a node suspended on external work.
func WaitingStatuses() []Status {
	return []Status{
		StatusWaiting,
		StatusAsyncWaiting,
		StatusTaskWaiting,
		StatusChildrenWaiting,
		StatusSuspended,
	}
}

func (s Status) IsBroken() bool {
	return containsStatus(BrokenStatuses(), s)
}

func (s Status) IsPositive() bool {
	switch s {
	case StatusSucceeded, StatusSkipped, StatusIgnoreFailed:
		return true
	default:
		return false
	}
}

// IsFinal reports whether no further work will happen for the execution.
func (s Status) IsFinal() bool {
	return s.IsBroken() || s.IsPositive()
}

func (s Status) IsResumable() bool {
	return containsStatus(ResumableStatuses(), s)
}

func (s Status) IsWaiting() bool {
	return containsStatus(WaitingStatuses(), s)
}

// CanTransitionStatus enforces the node lifecycle:
// QUEUED -> RUNNING -> waiting | final, waiting -> RUNNING | final.
// Final statuses are sticky, except a broken result that an ignore advise
// converts to IGNORE_FAILED.
func CanTransitionStatus(current, next Status) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	if current.IsFinal() {
		return next == StatusIgnoreFailed && (current == StatusFailed || current == StatusErrored)
	}
	if next == StatusAborted || next == StatusExpired {
		return true
	}
	switch current {
	case StatusQueued:
		return next == StatusRunning || next == StatusWaiting || next.IsBroken()
	case StatusRunning:
		return next != StatusQueued
	default:
		if current.IsWaiting() {
			return next == StatusRunning || next.IsFinal()
		}
		return false
	}
}

func containsStatus(list []Status, s Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

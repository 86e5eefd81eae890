package domain

import "strings"

// ExecutionMode is how a node runs. It is chosen by a facilitator at first
// dispatch and never changes afterwards.
type ExecutionMode string

const (
	ModeSync        ExecutionMode = "SYNC"
	ModeAsync       ExecutionMode = "ASYNC"
	ModeTask        ExecutionMode = "TASK"
	ModeTaskV2      ExecutionMode = "TASK_V2"
	ModeChild       ExecutionMode = "CHILD"
	ModeChildren    ExecutionMode = "CHILDREN"
	ModeTaskChain   ExecutionMode = "TASK_CHAIN"
	ModeTaskChainV2 ExecutionMode = "TASK_CHAIN_V2"
	ModeChildChain  ExecutionMode = "CHILD_CHAIN"
	ModeUnknown     ExecutionMode = "UNKNOWN"
)

// Modes lists every mode the engine can dispatch.
func Modes() []ExecutionMode {
	return []ExecutionMode{
		ModeSync,
		ModeAsync,
		ModeTask,
		ModeTaskV2,
		ModeChild,
		ModeChildren,
		ModeTaskChain,
		ModeTaskChainV2,
		ModeChildChain,
	}
}

// NormalizeMode maps free-form values to a known mode, or ModeUnknown.
func NormalizeMode(value string) ExecutionMode {
	m := ExecutionMode(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range Modes() {
		if known == m {
			return m
		}
	}
	return ModeUnknown
}

func (m ExecutionMode) IsTask() bool {
	return m == ModeTask || m == ModeTaskV2
}

func (m ExecutionMode) IsTaskChain() bool {
	return m == ModeTaskChain || m == ModeTaskChainV2
}

func (m ExecutionMode) IsChain() bool {
	return m.IsTaskChain() || m == ModeChildChain
}

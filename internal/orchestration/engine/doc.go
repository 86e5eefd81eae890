// Package engine advances node executions of a running plan.
//
// Node states:
//   - QUEUED -> RUNNING -> SUCCEEDED | FAILED | ERRORED | ABORTED | EXPIRED
//   - QUEUED -> WAITING (facilitator initial wait) -> RUNNING
//   - RUNNING -> ASYNC_WAITING | TASK_WAITING | CHILDREN_WAITING -> RUNNING
//   - RUNNING -> SUSPENDED (child chain between links) -> RUNNING
//
// Trigger path: TriggerExecution persists a QUEUED node and queues
// StartNodeExecution, which asks the node's facilitators for a mode, records
// the mode once, and calls the step's start method for that mode. Modes that
// wait on external work persist their ExecutableResponse, register a wait
// instance and return without holding a goroutine.
//
// Resume path: the notifier calls ResumeNodeExecution once every awaited
// response arrived (or an error arrived). The status guard drops resumes for
// nodes that are no longer resumable, and the ResumeExecutor then branches on
// the node's mode to produce a StepResponse or trigger the next chain link.
//
// Conclusion: HandleStepResponse commits the final status with a guarded
// update before any adviser runs; a second conclusion for the same node is
// rejected by the store and dropped. The first adviser that can advise
// decides the next transition. Without advice the node ends its scope: it
// notifies the parent waiting on it, or finishes the plan execution.
//
// Errors raised anywhere on either path end in HandleError, which concludes
// the node. Configuration errors (unregistered types, unsupported modes) are
// concluded ERRORED without advisement so they are never retried. An error
// raised after the node concluded (advisers, the next sibling, the parent
// notification) cannot change the node any more and fails the plan instead.
package engine

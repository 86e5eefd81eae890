package domain

import "time"

// AdviseType is the transition an adviser asks for.
type AdviseType string

const (
	AdviseNextStep   AdviseType = "NEXT_STEP"
	AdviseRetry      AdviseType = "RETRY"
	AdviseMarkFailed AdviseType = "MARK_FAILED"
	AdviseIgnore     AdviseType = "IGNORE"
	AdviseEndPlan    AdviseType = "END_PLAN"
)

type Advise struct {
	Type            AdviseType
	NextNodeID      string
	WaitInterval    time.Duration
	RetryIdentifier string
	ToStatus        Status
}

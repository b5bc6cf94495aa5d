package gk

import (
	"fmt"
	"time"
)

// TaskID identifies one of the orchestrator's timers.
// Each task has at most one pending deadline.
type TaskID uint8

const (
	// RetryTask advances the connection list by one entry.
	RetryTask TaskID = iota

	// CampaignTask broadcasts one LinkUpdate of the running link campaign.
	CampaignTask

	numTasks
)

func (id TaskID) String() string {
	switch id {
	case RetryTask:
		return "retry"
	case CampaignTask:
		return "campaign"
	default:
		return fmt.Sprintf("TaskID(%d)", uint8(id))
	}
}

// Scheduler arms and cancels the orchestrator's timers.
//
// Arm replaces any pending deadline for the task.
// After Cancel, or after a later Arm,
// a deadline that already elapsed must not be delivered.
type Scheduler interface {
	Arm(id TaskID, after time.Duration)
	Cancel(id TaskID)
}

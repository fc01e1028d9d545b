package workitem

import (
	"fmt"
	"time"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/spec"
)

// Status is the work-item lifecycle state.
type Status string

const (
	StatusEnabled         Status = "Enabled"
	StatusFired           Status = "Fired"
	StatusExecuting       Status = "Executing"
	StatusSuspended       Status = "Suspended"
	StatusComplete        Status = "Complete"
	StatusForcedComplete  Status = "ForcedComplete"
	StatusFailed          Status = "Failed"
	StatusWithdrawn       Status = "Withdrawn"
	StatusDeleted         Status = "Deleted"
	StatusCancelledByCase Status = "CancelledByCase"
	StatusDeadlocked      Status = "Deadlocked"
	StatusDiscarded       Status = "Discarded"
	StatusIsParent        Status = "IsParent"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusForcedComplete, StatusFailed, StatusWithdrawn,
		StatusDeleted, StatusCancelledByCase, StatusDiscarded:
		return true
	}
	return false
}

// Live reports whether the item still represents a runnable task instance.
func (s Status) Live() bool {
	switch s {
	case StatusEnabled, StatusFired, StatusExecuting, StatusSuspended, StatusIsParent:
		return true
	}
	return false
}

var legalTransitions = map[Status][]Status{
	StatusEnabled: {
		StatusFired, StatusWithdrawn, StatusCancelledByCase, StatusDeleted,
		StatusDiscarded, StatusFailed, StatusIsParent,
	},
	StatusFired: {
		StatusExecuting, StatusCancelledByCase, StatusWithdrawn, StatusFailed,
	},
	StatusExecuting: {
		StatusComplete, StatusForcedComplete, StatusFailed, StatusSuspended,
		StatusCancelledByCase, StatusDeleted,
	},
	StatusSuspended: {
		StatusExecuting, StatusCancelledByCase, StatusFailed, StatusDeleted,
	},
	StatusIsParent: {
		StatusComplete, StatusCancelledByCase, StatusDeleted,
	},
	StatusDeadlocked: {
		StatusDeleted,
	},
}

// MakeID builds the canonical work-item id from an identifier path and a
// task id: "K1:A" for single-instance, "K1.2:A" for the second child.
func MakeID(identifierPath, taskID string) string {
	return identifierPath + ":" + taskID
}

// Item is the external-facing handle for one live task instance.
type Item struct {
	ID             string                 `json:"id"`
	CaseID         string                 `json:"case_id"`
	TaskID         string                 `json:"task_id"`
	IdentifierPath string                 `json:"identifier_path"`
	ParentID       string                 `json:"parent_id,omitempty"`
	Status         Status                 `json:"status"`
	Input          core.Document          `json:"input,omitempty"`
	Output         core.Document          `json:"output,omitempty"`
	HandlerRef     string                 `json:"handler_ref,omitempty"`
	Profile        *spec.ExecutionProfile `json:"profile,omitempty"`
	EnabledAt      time.Time              `json:"enabled_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	TimerExpiry    *time.Time             `json:"timer_expiry,omitempty"`
}

// New creates an Enabled work item for a task instance.
func New(identifierPath, caseID, taskID string, input core.Document, profile *spec.ExecutionProfile) *Item {
	return &Item{
		ID:             MakeID(identifierPath, taskID),
		CaseID:         caseID,
		TaskID:         taskID,
		IdentifierPath: identifierPath,
		Status:         StatusEnabled,
		Input:          input,
		Profile:        profile,
		EnabledAt:      time.Now().UTC(),
	}
}

// Transition moves the item to the target status, rejecting edges outside
// the lifecycle state machine.
func (i *Item) Transition(to Status) error {
	for _, allowed := range legalTransitions[i.Status] {
		if allowed == to {
			i.applyTimestamps(to)
			i.Status = to
			return nil
		}
	}
	return &core.IllegalTransition{
		Subject: fmt.Sprintf("work item %s", i.ID),
		From:    string(i.Status),
		Op:      fmt.Sprintf("transition to %s", to),
	}
}

func (i *Item) applyTimestamps(to Status) {
	now := time.Now().UTC()
	switch to {
	case StatusExecuting:
		if i.StartedAt == nil {
			i.StartedAt = &now
		}
	case StatusComplete, StatusForcedComplete, StatusFailed, StatusCancelledByCase, StatusWithdrawn:
		if i.CompletedAt == nil {
			i.CompletedAt = &now
		}
	}
}

// Clone returns an independent copy safe for concurrent readers.
func (i *Item) Clone() *Item {
	cloned := *i
	cloned.Input = i.Input.Clone()
	cloned.Output = i.Output.Clone()
	if i.Profile != nil {
		profile := *i.Profile
		cloned.Profile = &profile
	}
	return &cloned
}

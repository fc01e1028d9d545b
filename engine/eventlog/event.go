package eventlog

import (
	"context"
	"time"

	"github.com/caseflow/caseflow/engine/core"
)

// Kind classifies event-log entries.
type Kind string

const (
	KindSpecLoaded        Kind = "SpecLoaded"
	KindSpecUnloaded      Kind = "SpecUnloaded"
	KindCaseStarted       Kind = "CaseStarted"
	KindCaseCompleted     Kind = "CaseCompleted"
	KindCaseCancelled     Kind = "CaseCancelled"
	KindCaseSuspended     Kind = "CaseSuspended"
	KindCaseResumed       Kind = "CaseResumed"
	KindCaseDeadlocked    Kind = "CaseDeadlocked"
	KindCaseQuarantined   Kind = "CaseQuarantined"
	KindWorkItemEnabled   Kind = "WorkItemEnabled"
	KindWorkItemStarted   Kind = "WorkItemStarted"
	KindWorkItemCompleted Kind = "WorkItemCompleted"
	KindWorkItemFailed    Kind = "WorkItemFailed"
	KindWorkItemWithdrawn Kind = "WorkItemWithdrawn"
	KindWorkItemCancelled Kind = "WorkItemCancelled"
	KindWorkItemTimedOut  Kind = "WorkItemTimedOut"
	KindTaskExited        Kind = "TaskExited"
	KindPredicateError    Kind = "PredicateError"
	KindAnnounceFailed    Kind = "AnnounceFailed"
	KindMarkingEdited     Kind = "MarkingEdited"
)

// Event is one append-only log entry. The log is authoritative for audit;
// within a case entries form a total order consistent with the runner's
// serial execution.
type Event struct {
	ID         core.ID       `json:"id"`
	CaseID     string        `json:"case_id,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
	WorkItemID string        `json:"work_item_id,omitempty"`
	Kind       Kind          `json:"kind"`
	Timestamp  time.Time     `json:"timestamp"`
	Actor      string        `json:"actor,omitempty"`
	Payload    core.Document `json:"payload,omitempty"`
}

// New stamps a fresh event with id and timestamp.
func New(kind Kind, caseID string) *Event {
	return &Event{
		ID:        core.MustNewID(),
		CaseID:    caseID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Event) WithTask(taskID string) *Event {
	e.TaskID = taskID
	return e
}

func (e *Event) WithWorkItem(workItemID string) *Event {
	e.WorkItemID = workItemID
	return e
}

func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

func (e *Event) WithPayload(payload core.Document) *Event {
	e.Payload = payload
	return e
}

// Log is an append-only event sink with per-case query access.
type Log interface {
	Append(ctx context.Context, event *Event) error
	ListByCase(ctx context.Context, caseID string) ([]*Event, error)
	List(ctx context.Context, limit int) ([]*Event, error)
}

package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned to callers across the engine surface.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("already exists")
	ErrAlreadyStarted = errors.New("already started")
	ErrCaseNotRunning = errors.New("case is not accepting work")
	ErrInvalidCaseID  = errors.New("invalid case id")
)

// StructuralError reports a specification verification failure at load time.
// A specification that fails verification never reaches runtime.
type StructuralError struct {
	SpecID string
	Issues []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("specification %s failed verification: %v", e.SpecID, e.Issues)
}

// DataValidationError reports a work-item output document that does not
// satisfy the task's declared output schema.
type DataValidationError struct {
	WorkItemID string
	Reason     string
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("work item %s output rejected: %s", e.WorkItemID, e.Reason)
}

// PredicateEvaluationError reports a flow predicate that failed to evaluate.
// The predicate is treated as false; the error is logged and journalled.
type PredicateEvaluationError struct {
	TaskID    string
	Predicate string
	Err       error
}

func (e *PredicateEvaluationError) Error() string {
	return fmt.Sprintf("predicate %q on task %s failed: %v", e.Predicate, e.TaskID, e.Err)
}

func (e *PredicateEvaluationError) Unwrap() error { return e.Err }

// HandlerUnavailable reports an announcement that could not be delivered.
// The work item stays Enabled and is re-announced on handler registration.
type HandlerUnavailable struct {
	HandlerRef string
	Err        error
}

func (e *HandlerUnavailable) Error() string {
	return fmt.Sprintf("handler %s unavailable: %v", e.HandlerRef, e.Err)
}

func (e *HandlerUnavailable) Unwrap() error { return e.Err }

// IllegalTransition reports a caller operation that is invalid for the
// current work-item or case state.
type IllegalTransition struct {
	Subject string
	From    string
	Op      string
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("cannot %s %s in state %s", e.Op, e.Subject, e.From)
}

// InternalConsistencyError reports an invariant violation found at classify
// time. The affected case is quarantined for administrator action.
type InternalConsistencyError struct {
	CaseID string
	Detail string
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("case %s internal consistency violation: %s", e.CaseID, e.Detail)
}

package runner

// Status is the case runner lifecycle state.
type Status string

const (
	// StatusCreated is the state before Start seeds the input condition.
	StatusCreated Status = "Created"
	// StatusNormal accepts work-item operations and runs kicks.
	StatusNormal Status = "Normal"
	// StatusSuspending drains in-flight completions before suspension.
	StatusSuspending Status = "Suspending"
	// StatusSuspended rejects starts and completes; the marking is frozen.
	StatusSuspended Status = "Suspended"
	// StatusResuming transitions back towards Normal.
	StatusResuming Status = "Resuming"
	// StatusCancelling is held while live work is being torn down.
	StatusCancelling Status = "Cancelling"
	// StatusCancelled is terminal: the case was cancelled by request.
	StatusCancelled Status = "Cancelled"
	// StatusCompleted is terminal: the root net reached its output condition.
	StatusCompleted Status = "Completed"
	// StatusQuarantined is terminal pending administrator action after an
	// internal consistency violation.
	StatusQuarantined Status = "Quarantined"
)

// Terminal reports whether the case accepts no further operations.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusQuarantined:
		return true
	}
	return false
}

package runner

import (
	"context"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/workitem"
)

// CodeletResult is a synchronous completion produced by an in-process
// codelet. The runner starts and completes the work item with the returned
// output before releasing the case lock.
type CodeletResult struct {
	Output core.Document
}

// Announcer routes work-item lifecycle notifications to handlers. Remote
// deliveries must not block: implementations dispatch asynchronously and
// report delivery failures through their own retry machinery. Only codelet
// routes return a synchronous result.
type Announcer interface {
	AnnounceEnabled(ctx context.Context, item *workitem.Item) (*CodeletResult, error)
	AnnounceCancelled(ctx context.Context, item *workitem.Item)
	AnnounceDeadlocked(ctx context.Context, item *workitem.Item)
	AnnounceCaseCompleted(ctx context.Context, caseID string, data core.Document)
}

// NopAnnouncer drops every announcement. Used by tests and detached runs.
type NopAnnouncer struct{}

func (NopAnnouncer) AnnounceEnabled(context.Context, *workitem.Item) (*CodeletResult, error) {
	return nil, nil
}
func (NopAnnouncer) AnnounceCancelled(context.Context, *workitem.Item)       {}
func (NopAnnouncer) AnnounceDeadlocked(context.Context, *workitem.Item)      {}
func (NopAnnouncer) AnnounceCaseCompleted(context.Context, string, core.Document) {}

// SubrunState records one live composite sub-net instance for persistence.
type SubrunState struct {
	ScopePath  string `json:"scope_path"`
	NetID      string `json:"net_id"`
	ParentTask string `json:"parent_task"`
	ParentItem string `json:"parent_item"`
}

// Snapshot is the persistable image of a case: everything needed to rebuild
// the runner after a restart, minus work items and events which are stored
// separately.
type Snapshot struct {
	CaseID  string              `json:"case_id"`
	SpecID  string              `json:"spec_id"`
	Status  Status              `json:"status"`
	Marking map[string][]string `json:"marking"`
	Data    core.Document       `json:"data"`
	Subruns []SubrunState       `json:"subruns,omitempty"`
}

// Journal receives the case image after every mutating operation, before
// any announcement leaves the engine. Items includes terminal work items so
// history survives restarts.
type Journal interface {
	SaveCase(ctx context.Context, snap *Snapshot, items []*workitem.Item) error
}

// NopJournal discards snapshots. Used by tests and ephemeral runs.
type NopJournal struct{}

func (NopJournal) SaveCase(context.Context, *Snapshot, []*workitem.Item) error { return nil }

package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/runner"
	"github.com/caseflow/caseflow/engine/workitem"
	"github.com/caseflow/caseflow/pkg/logger"
)

// CaseState is the external view of a case.
type CaseState struct {
	CaseID  string         `json:"case_id"`
	SpecID  string         `json:"spec_id"`
	Status  runner.Status  `json:"status"`
	Marking map[string]int `json:"marking"`
	Data    core.Document  `json:"data"`
}

// LaunchCase creates and starts a case of a loaded specification. An
// empty caseID gets a generated one. Caller-supplied ids may not contain
// '.' or ':', which delimit identifier paths and work-item ids.
func (e *Engine) LaunchCase(ctx context.Context, specID, caseID string, data core.Document) (*CaseState, error) {
	s, analyzer, ok := e.specByID(specID)
	if !ok {
		return nil, fmt.Errorf("specification %s: %w", specID, core.ErrNotFound)
	}
	if caseID == "" {
		caseID = uuid.NewString()
	} else if strings.ContainsAny(caseID, ".:") {
		return nil, fmt.Errorf("case id %q may not contain '.' or ':': %w", caseID, core.ErrInvalidCaseID)
	}
	c, err := runner.New(runner.Params{
		CaseID:    caseID,
		Spec:      s,
		Data:      data,
		Items:     e.items,
		Log:       e.events,
		Journal:   e.caseRepo,
		Announcer: e.announcer,
		Evaluator: e.eval,
		OrJoin:    analyzer,
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if _, exists := e.cases[caseID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("case %s: %w", caseID, core.ErrConflict)
	}
	e.cases[caseID] = c
	e.mu.Unlock()
	if err := c.Start(ctx); err != nil {
		e.retire(caseID)
		return nil, err
	}
	logger.FromContext(ctx).Info("case launched", "case", caseID, "spec", specID)
	e.retireIfTerminal(caseID, c)
	return e.stateOf(c), nil
}

// CancelCase tears a live case down.
func (e *Engine) CancelCase(ctx context.Context, caseID string) error {
	c, ok := e.liveCase(caseID)
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	if err := c.Cancel(ctx); err != nil {
		return err
	}
	e.retireIfTerminal(caseID, c)
	return nil
}

// SuspendCase freezes a running case.
func (e *Engine) SuspendCase(ctx context.Context, caseID string) error {
	c, ok := e.liveCase(caseID)
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	return c.Suspend(ctx)
}

// ResumeCase returns a suspended case to normal execution.
func (e *Engine) ResumeCase(ctx context.Context, caseID string) error {
	c, ok := e.liveCase(caseID)
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	if err := c.Resume(ctx); err != nil {
		return err
	}
	e.retireIfTerminal(caseID, c)
	return nil
}

// GetCaseState returns the state of a live or historical case.
func (e *Engine) GetCaseState(ctx context.Context, caseID string) (*CaseState, error) {
	if c, ok := e.liveCase(caseID); ok {
		return e.stateOf(c), nil
	}
	snap, _, err := e.caseRepo.LoadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	marking := make(map[string]int, len(snap.Marking))
	for element, identifiers := range snap.Marking {
		marking[element] = len(identifiers)
	}
	return &CaseState{
		CaseID:  snap.CaseID,
		SpecID:  snap.SpecID,
		Status:  snap.Status,
		Marking: marking,
		Data:    snap.Data,
	}, nil
}

// GetCaseData returns the case data document.
func (e *Engine) GetCaseData(ctx context.Context, caseID string) (core.Document, error) {
	state, err := e.GetCaseState(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return state.Data, nil
}

// ListCases returns case states filtered by status. No statuses means
// every case.
func (e *Engine) ListCases(ctx context.Context, statuses ...runner.Status) ([]*CaseState, error) {
	snaps, err := e.caseRepo.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := make([]*CaseState, 0, len(snaps))
	for _, snap := range snaps {
		state, err := e.GetCaseState(ctx, snap.CaseID)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// LiveWorkItems returns the live work items of one case.
func (e *Engine) LiveWorkItems(caseID string) ([]*workitem.Item, error) {
	c, ok := e.liveCase(caseID)
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	return c.LiveItems(), nil
}

// ListWorkItems returns work items across cases matching the filter.
func (e *Engine) ListWorkItems(filter *workitem.Filter) []*workitem.Item {
	return e.items.List(filter)
}

// StartWorkItem checks a work item out. The owning case is derived from
// the item id.
func (e *Engine) StartWorkItem(ctx context.Context, itemID, handlerRef string) (*workitem.Item, error) {
	c, err := e.caseForItem(itemID)
	if err != nil {
		return nil, err
	}
	return c.StartWorkItem(ctx, itemID, handlerRef)
}

// CompleteWorkItem checks a work item in with its output document.
func (e *Engine) CompleteWorkItem(ctx context.Context, itemID string, output core.Document, force bool) (*workitem.Item, error) {
	c, err := e.caseForItem(itemID)
	if err != nil {
		return nil, err
	}
	item, err := c.CompleteWorkItem(ctx, itemID, output, force)
	if err != nil {
		return nil, err
	}
	e.retireIfTerminal(c.ID(), c)
	return item, nil
}

// SuspendWorkItem pauses an executing work item.
func (e *Engine) SuspendWorkItem(ctx context.Context, itemID string) (*workitem.Item, error) {
	c, err := e.caseForItem(itemID)
	if err != nil {
		return nil, err
	}
	return c.SuspendWorkItem(ctx, itemID)
}

// ResumeWorkItem returns a suspended work item to executing.
func (e *Engine) ResumeWorkItem(ctx context.Context, itemID string) (*workitem.Item, error) {
	c, err := e.caseForItem(itemID)
	if err != nil {
		return nil, err
	}
	return c.ResumeWorkItem(ctx, itemID)
}

// AddInstance spawns one more child of a dynamic multi-instance task.
func (e *Engine) AddInstance(ctx context.Context, parentItemID string) (*workitem.Item, error) {
	c, err := e.caseForItem(parentItemID)
	if err != nil {
		return nil, err
	}
	return c.AddInstance(ctx, parentItemID)
}

// AdminAddToken places a case token into a root-net condition.
func (e *Engine) AdminAddToken(ctx context.Context, caseID, conditionID string) error {
	c, ok := e.liveCase(caseID)
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	if err := c.AdminAddToken(ctx, conditionID); err != nil {
		return err
	}
	e.retireIfTerminal(caseID, c)
	return nil
}

// AdminRemoveToken removes the case token from a root-net condition.
func (e *Engine) AdminRemoveToken(ctx context.Context, caseID, conditionID string) error {
	c, ok := e.liveCase(caseID)
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	return c.AdminRemoveToken(ctx, conditionID)
}

func (e *Engine) stateOf(c *runner.Case) *CaseState {
	snap := c.Snapshot()
	return &CaseState{
		CaseID:  snap.CaseID,
		SpecID:  snap.SpecID,
		Status:  snap.Status,
		Marking: c.MarkingSnapshot(),
		Data:    snap.Data,
	}
}

func (e *Engine) caseForItem(itemID string) (*runner.Case, error) {
	caseID := caseIDOfItem(itemID)
	if caseID == "" {
		return nil, fmt.Errorf("work item id %q is malformed: %w", itemID, core.ErrNotFound)
	}
	c, ok := e.liveCase(caseID)
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, core.ErrNotFound)
	}
	return c, nil
}

// caseIDOfItem extracts the case id from a work-item id: "K1.2:A" -> "K1".
func caseIDOfItem(itemID string) string {
	path, _, ok := strings.Cut(itemID, ":")
	if !ok {
		return ""
	}
	root, _, _ := strings.Cut(path, ".")
	return root
}

func (e *Engine) retireIfTerminal(caseID string, c *runner.Case) {
	if c.Status().Terminal() {
		e.retire(caseID)
	}
}

package runtime

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/caseflow/caseflow/engine/runner"
	"github.com/caseflow/caseflow/pkg/logger"
)

// recover restores every non-terminal case from the journal and re-kicks
// it. Restores run concurrently; each case serialises on its own lock so
// recovery order does not matter.
func (e *Engine) recover(ctx context.Context) error {
	snaps, err := e.caseRepo.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, snap := range snaps {
		group.Go(func() error {
			return e.recoverCase(groupCtx, snap)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("recovered cases", "count", len(snaps))
	return nil
}

func (e *Engine) recoverCase(ctx context.Context, snap *runner.Snapshot) error {
	s, analyzer, ok := e.specByID(snap.SpecID)
	if !ok {
		return fmt.Errorf("recovering case %s: specification %s is not loaded", snap.CaseID, snap.SpecID)
	}
	_, items, err := e.caseRepo.LoadCase(ctx, snap.CaseID)
	if err != nil {
		return err
	}
	for _, item := range items {
		e.items.Put(item)
	}
	c, err := runner.Restore(runner.Params{
		CaseID:    snap.CaseID,
		Spec:      s,
		Items:     e.items,
		Log:       e.events,
		Journal:   e.caseRepo,
		Announcer: e.announcer,
		Evaluator: e.eval,
		OrJoin:    analyzer,
	}, snap)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cases[snap.CaseID] = c
	e.mu.Unlock()
	if err := c.Rekick(ctx); err != nil {
		return err
	}
	e.retireIfTerminal(snap.CaseID, c)
	logger.FromContext(ctx).Info("case recovered", "case", snap.CaseID, "status", c.Status())
	return nil
}

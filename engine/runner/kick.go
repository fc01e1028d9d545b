package runner

import (
	"context"
	"fmt"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/eventlog"
	"github.com/caseflow/caseflow/engine/ident"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
	"github.com/caseflow/caseflow/pkg/logger"
)

// A kick that needs more passes than this is cycling, not converging.
const maxKickPasses = 10_000

// kick re-classifies every task of every net instance until the marking is
// stable: finished sub-nets complete their composite task, newly enabled
// tasks are fired or announced, and no-longer-enabled announcements are
// withdrawn. Runs with the case lock held.
func (c *Case) kick(ctx context.Context) {
	if c.status != StatusNormal {
		return
	}
	progressed := false
	for pass := 0; ; pass++ {
		if c.status != StatusNormal {
			return
		}
		if pass == maxKickPasses {
			c.quarantine(ctx, "kick did not stabilise")
			return
		}
		changed := false
		for _, path := range c.sortedSubrunPaths() {
			sub, ok := c.subruns[path]
			if !ok {
				continue
			}
			if sub.outputReached(c.marking) {
				c.completeComposite(ctx, sub)
				changed = true
			}
		}
		for _, run := range c.allRuns() {
			for _, taskID := range run.taskIDs() {
				if c.status != StatusNormal {
					return
				}
				if c.classifyTask(ctx, run, run.net.Tasks[taskID]) {
					changed = true
				}
			}
		}
		if !changed {
			break
		}
		progressed = true
	}
	if progressed {
		c.clearDeadlockMarkers(ctx)
	}
	if c.rootRun.outputReached(c.marking) {
		c.completeCase(ctx)
		return
	}
	c.detectDeadlock(ctx)
}

// classifyTask compares the task's enablement against its announced and
// busy state and reconciles the difference. Returns true when the marking
// or the work-item set changed.
func (c *Case) classifyTask(ctx context.Context, run *netRun, task *spec.Task) bool {
	busy := run.busy(c.marking, task.ID)
	if busy && !c.hasLiveFamily(run, task.ID) {
		c.quarantine(ctx, fmt.Sprintf("task %s is busy in scope %s without live work items",
			task.ID, run.scopePath()))
		return false
	}
	if busy {
		return false
	}
	pre := c.preFireItem(run, task.ID)
	if run.enabled(c.marking, c.orjoin, task) {
		if pre != nil {
			return false
		}
		switch {
		case task.IsComposite():
			c.fireComposite(ctx, run, task)
		case task.IsMultiInstance():
			c.fireMultiInstance(ctx, run, task)
		case task.Profile == nil:
			// A task with no execution profile is a silent routing step.
			c.fireSilent(ctx, run, task)
		default:
			c.enableTask(ctx, run, task)
		}
		return true
	}
	if pre != nil {
		c.withdraw(ctx, pre)
		return true
	}
	return false
}

// preFireItem returns the task's announced-but-unfired work item for the
// run's scope, or nil.
func (c *Case) preFireItem(run *netRun, taskID string) *workitem.Item {
	item, err := c.items.Get(workitem.MakeID(run.scopePath(), taskID))
	if err != nil {
		return nil
	}
	if item.Status == workitem.StatusEnabled && item.ParentID == "" {
		return item
	}
	return nil
}

func (c *Case) hasLiveFamily(run *netRun, taskID string) bool {
	for _, item := range c.items.List(&workitem.Filter{CaseID: &c.id, TaskID: &taskID}) {
		if item.Status.Live() && c.scopePathOf(item) == run.scopePath() {
			return true
		}
	}
	return false
}

// enableTask announces a single-instance atomic task without consuming the
// preset. Consumption is deferred to the start of the work item, so
// competing announcements over a shared condition form a deferred choice.
func (c *Case) enableTask(ctx context.Context, run *netRun, task *spec.Task) {
	item := workitem.New(run.scopePath(), c.id, task.ID, c.data.Clone(), task.Profile)
	c.scheduleTimer(ctx, item, task.Timer, spec.TimerOnEnabled)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemEnabled, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	c.enqueue(announceEnabled, item)
}

// startLocked fires the task instance behind an Enabled work item and moves
// the item to Executing.
func (c *Case) startLocked(ctx context.Context, itemID, handlerRef string) (*workitem.Item, error) {
	item, err := c.items.Get(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != workitem.StatusEnabled {
		if item.Status.Live() {
			return nil, fmt.Errorf("work item %s is %s: %w", itemID, item.Status, core.ErrAlreadyStarted)
		}
		return nil, &core.IllegalTransition{
			Subject: "work item " + itemID,
			From:    string(item.Status),
			Op:      "start",
		}
	}
	run := c.runByScope(c.scopePathOf(item))
	if run == nil {
		c.quarantine(ctx, "no run owns work item "+itemID)
		return nil, &core.InternalConsistencyError{CaseID: c.id, Detail: "no run owns work item " + itemID}
	}
	task, ok := run.net.Tasks[item.TaskID]
	if !ok {
		c.quarantine(ctx, "work item "+itemID+" references unknown task")
		return nil, &core.InternalConsistencyError{CaseID: c.id, Detail: "unknown task " + item.TaskID}
	}
	if item.ParentID != "" {
		// Multi-instance child: the task fired when the parent did.
		child := c.root.Find(item.IdentifierPath)
		if child == nil {
			c.quarantine(ctx, "missing identifier "+item.IdentifierPath)
			return nil, &core.InternalConsistencyError{CaseID: c.id, Detail: "missing identifier " + item.IdentifierPath}
		}
		c.marking.Remove(placeEntered(run.net.ID, task.ID), child)
		c.marking.Add(placeExecuting(run.net.ID, task.ID), child)
	} else {
		if !run.enabled(c.marking, c.orjoin, task) {
			return nil, &core.IllegalTransition{
				Subject: "work item " + itemID,
				From:    string(item.Status),
				Op:      "start no-longer-enabled",
			}
		}
		run.consume(c.marking, task)
		child := run.scope.NewChild()
		c.marking.Add(placeActive(run.net.ID, task.ID), child)
		c.marking.Add(placeExecuting(run.net.ID, task.ID), child)
		item.IdentifierPath = child.String()
	}
	item.Transition(workitem.StatusFired)
	item.Transition(workitem.StatusExecuting)
	item.HandlerRef = handlerRef
	c.scheduleTimer(ctx, item, task.Timer, spec.TimerOnStarted)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemStarted, c.id).
		WithTask(task.ID).WithWorkItem(item.ID).WithActor(handlerRef))
	return item, nil
}

// fireSilent runs a profile-less routing task to completion in place.
func (c *Case) fireSilent(ctx context.Context, run *netRun, task *spec.Task) {
	run.consume(c.marking, task)
	child := run.scope.NewChild()
	c.marking.Add(placeActive(run.net.ID, task.ID), child)
	c.marking.Add(placeExecuting(run.net.ID, task.ID), child)
	item := workitem.New(run.scopePath(), c.id, task.ID, c.data.Clone(), nil)
	item.IdentifierPath = child.String()
	item.Transition(workitem.StatusFired)
	item.Transition(workitem.StatusExecuting)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemEnabled, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemStarted, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	if _, err := c.completeLocked(ctx, item.ID, core.Document{}, false); err != nil {
		logger.FromContext(ctx).Error("completing silent task",
			"case", c.id, "task", task.ID, "error", err)
	}
}

// fireMultiInstance consumes the preset and spawns the initial child set.
// The parent item tracks the family; children are announced individually.
func (c *Case) fireMultiInstance(ctx context.Context, run *netRun, task *spec.Task) {
	run.consume(c.marking, task)
	parent := workitem.New(run.scopePath(), c.id, task.ID, c.data.Clone(), task.Profile)
	parent.Transition(workitem.StatusIsParent)
	c.items.Put(parent)
	minInstances, _, _ := task.InstanceBounds()
	for k := 0; k < minInstances; k++ {
		c.spawnInstance(ctx, run, task, parent.ID)
	}
}

func (c *Case) spawnInstance(ctx context.Context, run *netRun, task *spec.Task, parentID string) *workitem.Item {
	child := run.scope.NewChild()
	c.marking.Add(placeEntered(run.net.ID, task.ID), child)
	c.marking.Add(placeActive(run.net.ID, task.ID), child)
	item := workitem.New(child.String(), c.id, task.ID, c.data.Clone(), task.Profile)
	item.ParentID = parentID
	c.scheduleTimer(ctx, item, task.Timer, spec.TimerOnEnabled)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemEnabled, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	c.enqueue(announceEnabled, item)
	return item
}

// fireComposite consumes the preset and opens a sub-net run per instance.
// Composite work items execute from the moment they fire and complete when
// their sub-net reaches its output condition.
func (c *Case) fireComposite(ctx context.Context, run *netRun, task *spec.Task) {
	run.consume(c.marking, task)
	if !task.IsMultiInstance() {
		child := run.scope.NewChild()
		c.marking.Add(placeActive(run.net.ID, task.ID), child)
		c.marking.Add(placeExecuting(run.net.ID, task.ID), child)
		item := workitem.New(run.scopePath(), c.id, task.ID, c.data.Clone(), task.Profile)
		item.IdentifierPath = child.String()
		item.Transition(workitem.StatusFired)
		item.Transition(workitem.StatusExecuting)
		c.items.Put(item)
		c.emit(ctx, eventlog.New(eventlog.KindWorkItemEnabled, c.id).
			WithTask(task.ID).WithWorkItem(item.ID))
		c.emit(ctx, eventlog.New(eventlog.KindWorkItemStarted, c.id).
			WithTask(task.ID).WithWorkItem(item.ID))
		c.openSubrun(run, task, child, item.ID)
		return
	}
	parent := workitem.New(run.scopePath(), c.id, task.ID, c.data.Clone(), task.Profile)
	parent.Transition(workitem.StatusIsParent)
	c.items.Put(parent)
	minInstances, _, _ := task.InstanceBounds()
	for k := 0; k < minInstances; k++ {
		c.spawnCompositeInstance(ctx, run, task, parent.ID)
	}
}

func (c *Case) spawnCompositeInstance(ctx context.Context, run *netRun, task *spec.Task, parentID string) *workitem.Item {
	child := run.scope.NewChild()
	c.marking.Add(placeActive(run.net.ID, task.ID), child)
	c.marking.Add(placeExecuting(run.net.ID, task.ID), child)
	item := workitem.New(child.String(), c.id, task.ID, c.data.Clone(), task.Profile)
	item.ParentID = parentID
	item.Transition(workitem.StatusFired)
	item.Transition(workitem.StatusExecuting)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemEnabled, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemStarted, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	c.openSubrun(run, task, child, item.ID)
	return item
}

func (c *Case) openSubrun(run *netRun, task *spec.Task, scope *ident.Identifier, itemID string) {
	net := c.spec.Nets[task.Decomposition]
	sub := newNetRun(net, scope)
	sub.parent = run
	sub.parentTask = task.ID
	sub.parentItem = itemID
	c.subruns[scope.String()] = sub
	c.marking.Add(condKey(net.ID, net.InputCondition), scope)
}

// withdraw retires an announced work item whose task lost enablement, the
// losing side of a deferred choice.
func (c *Case) withdraw(ctx context.Context, item *workitem.Item) {
	if err := item.Transition(workitem.StatusWithdrawn); err != nil {
		logger.FromContext(ctx).Error("withdrawing work item", "case", c.id, "item", item.ID, "error", err)
		return
	}
	c.stopTimer(item.ID)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemWithdrawn, c.id).
		WithTask(item.TaskID).WithWorkItem(item.ID))
	c.enqueue(announceCancelled, item)
}

func (c *Case) completeCase(ctx context.Context) {
	c.status = StatusCompleted
	c.stopAllTimers()
	c.emit(ctx, eventlog.New(eventlog.KindCaseCompleted, c.id))
	c.enqueue(announceCaseDone, nil)
}

// detectDeadlock fires when nothing is enabled, nothing is busy and the
// output was not reached: the case can never progress on its own. The case
// stays Normal so an administrator can repair the marking; a synthetic
// Deadlocked work item is published per stuck task.
func (c *Case) detectDeadlock(ctx context.Context) {
	if c.deadlockNotified {
		return
	}
	for _, run := range c.allRuns() {
		for _, taskID := range run.taskIDs() {
			if run.busy(c.marking, taskID) {
				return
			}
			if run.enabled(c.marking, c.orjoin, run.net.Tasks[taskID]) {
				return
			}
		}
	}
	c.deadlockNotified = true
	stuck := make([]string, 0)
	for _, run := range c.allRuns() {
		for _, taskID := range run.stuckTasks(c.marking) {
			stuck = append(stuck, taskID)
			item := workitem.New(run.scopePath(), c.id, taskID, c.data.Clone(), nil)
			item.Status = workitem.StatusDeadlocked
			c.items.Put(item)
			c.enqueue(announceDeadlocked, item)
		}
	}
	c.emit(ctx, eventlog.New(eventlog.KindCaseDeadlocked, c.id).
		WithPayload(core.Document{"stuck_tasks": stuck}))
	logger.FromContext(ctx).Warn("case deadlocked", "case", c.id, "stuck_tasks", stuck)
}

// clearDeadlockMarkers retires synthetic Deadlocked items once the case
// moves again, typically after an administrator marking edit.
func (c *Case) clearDeadlockMarkers(ctx context.Context) {
	if !c.deadlockNotified {
		return
	}
	c.deadlockNotified = false
	status := workitem.StatusDeadlocked
	for _, item := range c.items.List(&workitem.Filter{CaseID: &c.id, Status: &status}) {
		item.Transition(workitem.StatusDeleted)
		c.items.Put(item)
	}
}

func (c *Case) quarantine(ctx context.Context, detail string) {
	c.status = StatusQuarantined
	c.stopAllTimers()
	c.emit(ctx, eventlog.New(eventlog.KindCaseQuarantined, c.id).
		WithPayload(core.Document{"detail": detail}))
	logger.FromContext(ctx).Error("case quarantined", "case", c.id, "detail", detail)
}

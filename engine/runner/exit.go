package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/eventlog"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
	"github.com/caseflow/caseflow/pkg/logger"
)

// completeLocked validates and applies a work-item completion and, when the
// instance threshold is reached, exits the task. Callers run the follow-up
// kick themselves.
func (c *Case) completeLocked(ctx context.Context, itemID string, output core.Document, force bool) (*workitem.Item, error) {
	item, err := c.items.Get(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != workitem.StatusExecuting {
		return nil, &core.IllegalTransition{
			Subject: "work item " + itemID,
			From:    string(item.Status),
			Op:      "complete",
		}
	}
	run := c.runByScope(c.scopePathOf(item))
	if run == nil {
		c.quarantine(ctx, "no run owns work item "+itemID)
		return nil, &core.InternalConsistencyError{CaseID: c.id, Detail: "no run owns work item " + itemID}
	}
	task := run.net.Tasks[item.TaskID]
	if !force {
		if err := validateOutput(task, itemID, output); err != nil {
			c.failItem(ctx, run, task, item, err)
			return nil, err
		}
	}
	c.applyMappings(ctx, task, output)
	child := c.root.Find(item.IdentifierPath)
	if child == nil {
		c.quarantine(ctx, "missing identifier "+item.IdentifierPath)
		return nil, &core.InternalConsistencyError{CaseID: c.id, Detail: "missing identifier " + item.IdentifierPath}
	}
	c.marking.Remove(placeExecuting(run.net.ID, task.ID), child)
	c.marking.Add(placeComplete(run.net.ID, task.ID), child)
	target := workitem.StatusComplete
	if force {
		target = workitem.StatusForcedComplete
	}
	item.Output = output.Clone()
	item.Transition(target)
	c.stopTimer(itemID)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemCompleted, c.id).
		WithTask(task.ID).WithWorkItem(itemID))
	_, _, threshold := task.InstanceBounds()
	if run.completedCount(c.marking, task.ID) >= threshold {
		c.exitTask(ctx, run, task)
	}
	return item, nil
}

// failItem retires a work item whose completion was rejected. The instance
// tokens leave the task's internal places so the task is no longer busy and
// sibling branches keep running; the failed branch delivers nothing
// downstream.
func (c *Case) failItem(ctx context.Context, run *netRun, task *spec.Task, item *workitem.Item, cause error) {
	c.stopTimer(item.ID)
	item.Transition(workitem.StatusFailed)
	c.items.Put(item)
	if child := c.root.Find(item.IdentifierPath); child != nil {
		c.marking.Remove(placeEntered(run.net.ID, task.ID), child)
		c.marking.Remove(placeActive(run.net.ID, task.ID), child)
		c.marking.Remove(placeExecuting(run.net.ID, task.ID), child)
	}
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemFailed, c.id).
		WithTask(task.ID).WithWorkItem(item.ID).
		WithPayload(core.Document{"reason": cause.Error()}))
}

// completeComposite finishes a composite task instance whose sub-net
// reached its output condition.
func (c *Case) completeComposite(ctx context.Context, sub *netRun) {
	run := sub.parent
	task := run.net.Tasks[sub.parentTask]
	for id := range sub.net.Conditions {
		c.marking.RemoveAllUnder(condKey(sub.net.ID, id), sub.scopePath())
	}
	delete(c.subruns, sub.scopePath())
	// Sub-nets share the case data document, so the composite's output
	// mappings read from the data the child net produced.
	c.applyMappings(ctx, task, c.data.Clone())
	child := sub.scope
	c.marking.Remove(placeExecuting(run.net.ID, task.ID), child)
	c.marking.Add(placeComplete(run.net.ID, task.ID), child)
	item, err := c.items.Get(sub.parentItem)
	if err != nil {
		c.quarantine(ctx, "composite item "+sub.parentItem+" missing")
		return
	}
	item.Transition(workitem.StatusComplete)
	c.items.Put(item)
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemCompleted, c.id).
		WithTask(task.ID).WithWorkItem(item.ID))
	_, _, threshold := task.InstanceBounds()
	if run.completedCount(c.marking, task.ID) >= threshold {
		c.exitTask(ctx, run, task)
	}
}

// exitTask runs the task's exit semantics: purge the cancellation region,
// produce postset tokens per the split code, then tear the instance family
// down.
func (c *Case) exitTask(ctx context.Context, run *netRun, task *spec.Task) {
	for _, element := range task.RemoveSet {
		if run.net.IsTask(element) {
			c.cancelTaskInstances(ctx, run, element)
		} else {
			c.marking.RemoveAllUnder(condKey(run.net.ID, element), run.scopePath())
		}
	}
	c.produce(ctx, run, task)
	c.finalizeFamily(ctx, run, task)
	run.purgeInternal(c.marking, task.ID)
	c.emit(ctx, eventlog.New(eventlog.KindTaskExited, c.id).WithTask(task.ID))
}

// finalizeFamily settles the remaining work items of an exiting task: the
// parent completes, unstarted children are discarded and in-flight children
// are cancelled.
func (c *Case) finalizeFamily(ctx context.Context, run *netRun, task *spec.Task) {
	for _, item := range c.items.List(&workitem.Filter{CaseID: &c.id, TaskID: &task.ID}) {
		if !item.Status.Live() || c.scopePathOf(item) != run.scopePath() {
			continue
		}
		c.stopTimer(item.ID)
		switch item.Status {
		case workitem.StatusIsParent:
			item.Transition(workitem.StatusComplete)
			c.items.Put(item)
			c.emit(ctx, eventlog.New(eventlog.KindWorkItemCompleted, c.id).
				WithTask(task.ID).WithWorkItem(item.ID))
		case workitem.StatusEnabled:
			item.Transition(workitem.StatusDiscarded)
			c.items.Put(item)
			c.enqueue(announceCancelled, item)
		default:
			if err := item.Transition(workitem.StatusCancelledByCase); err != nil {
				logger.FromContext(ctx).Error("cancelling family item",
					"case", c.id, "item", item.ID, "error", err)
				continue
			}
			c.items.Put(item)
			c.emit(ctx, eventlog.New(eventlog.KindWorkItemCancelled, c.id).
				WithTask(task.ID).WithWorkItem(item.ID))
			c.enqueue(announceCancelled, item)
		}
	}
}

// cancelTaskInstances empties a cancellation-region task: live work items
// are cancelled, internal places are purged and composite sub-runs are torn
// down recursively.
func (c *Case) cancelTaskInstances(ctx context.Context, run *netRun, taskID string) {
	for _, item := range c.items.List(&workitem.Filter{CaseID: &c.id, TaskID: &taskID}) {
		if !item.Status.Live() || c.scopePathOf(item) != run.scopePath() {
			continue
		}
		if err := item.Transition(workitem.StatusCancelledByCase); err != nil {
			logger.FromContext(ctx).Error("cancelling region item",
				"case", c.id, "item", item.ID, "error", err)
			continue
		}
		c.stopTimer(item.ID)
		c.items.Put(item)
		c.emit(ctx, eventlog.New(eventlog.KindWorkItemCancelled, c.id).
			WithTask(taskID).WithWorkItem(item.ID))
		c.enqueue(announceCancelled, item)
	}
	run.purgeInternal(c.marking, taskID)
	doomed := make([]*netRun, 0)
	for _, path := range c.sortedSubrunPaths() {
		sub := c.subruns[path]
		if sub.parent == run && sub.parentTask == taskID {
			doomed = append(doomed, sub)
		}
	}
	for _, sub := range doomed {
		c.cancelSubrun(ctx, sub)
	}
}

func (c *Case) cancelSubrun(ctx context.Context, sub *netRun) {
	delete(c.subruns, sub.scopePath())
	for _, taskID := range sub.taskIDs() {
		c.cancelTaskInstances(ctx, sub, taskID)
	}
	for id := range sub.net.Conditions {
		c.marking.RemoveAllUnder(condKey(sub.net.ID, id), sub.scopePath())
	}
}

// produce adds postset tokens per the task's split code. Split targets are
// always conditions because direct task-to-task flows were rewritten
// through implicit conditions at load time.
func (c *Case) produce(ctx context.Context, run *netRun, task *spec.Task) {
	for _, target := range c.splitTargets(ctx, run, task) {
		c.marking.Add(condKey(run.net.ID, target), run.scope)
	}
}

func (c *Case) splitTargets(ctx context.Context, run *netRun, task *spec.Task) []string {
	switch task.Split {
	case spec.SplitAnd:
		targets := make([]string, 0, len(task.Flows))
		for _, flow := range task.Flows {
			targets = append(targets, flow.Target)
		}
		return targets
	case spec.SplitXor:
		for _, flow := range orderedFlows(task.Flows) {
			if flow.IsDefault {
				continue
			}
			if c.evalPredicate(ctx, task, flow.Predicate) {
				return []string{flow.Target}
			}
		}
		if def := defaultFlow(task.Flows); def != nil {
			return []string{def.Target}
		}
		return nil
	case spec.SplitOr:
		targets := make([]string, 0)
		for _, flow := range orderedFlows(task.Flows) {
			if flow.IsDefault {
				continue
			}
			if c.evalPredicate(ctx, task, flow.Predicate) {
				targets = append(targets, flow.Target)
			}
		}
		if len(targets) == 0 {
			if def := defaultFlow(task.Flows); def != nil {
				targets = append(targets, def.Target)
			}
		}
		return targets
	}
	return nil
}

// evalPredicate applies the false-on-error policy: a predicate that fails
// to compile or evaluate routes nothing and the failure is journalled.
func (c *Case) evalPredicate(ctx context.Context, task *spec.Task, predicate string) bool {
	if predicate == "" {
		return false
	}
	result, err := c.eval.Evaluate(ctx, predicate, c.data)
	if err != nil {
		perr := &core.PredicateEvaluationError{TaskID: task.ID, Predicate: predicate, Err: err}
		logger.FromContext(ctx).Warn("predicate evaluation failed",
			"case", c.id, "task", task.ID, "predicate", predicate, "error", err)
		c.emit(ctx, eventlog.New(eventlog.KindPredicateError, c.id).
			WithTask(task.ID).
			WithPayload(core.Document{"predicate": predicate, "error": perr.Error()}))
		return false
	}
	return result
}

// orderedFlows sorts by ascending priority, stable over document order.
func orderedFlows(flows []spec.Flow) []spec.Flow {
	out := make([]spec.Flow, len(flows))
	copy(out, flows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func defaultFlow(flows []spec.Flow) *spec.Flow {
	for i := range flows {
		if flows[i].IsDefault {
			return &flows[i]
		}
	}
	return nil
}

// applyMappings copies values from the completion output into the case
// data document. A missing source path skips the mapping.
func (c *Case) applyMappings(ctx context.Context, task *spec.Task, output core.Document) {
	for _, mapping := range task.OutputMaps {
		value, ok := output.Get(mapping.From)
		if !ok {
			logger.FromContext(ctx).Debug("output mapping source missing",
				"case", c.id, "task", task.ID, "from", mapping.From)
			continue
		}
		c.data.Set(mapping.To, value)
	}
}

// validateOutput checks the completion output against the task's declared
// schema: every declared key must be present with the declared scalar kind.
func validateOutput(task *spec.Task, itemID string, output core.Document) error {
	keys := make([]string, 0, len(task.OutputSchema))
	for key := range task.OutputSchema {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		kind := task.OutputSchema[key]
		value, ok := output[key]
		if !ok {
			return &core.DataValidationError{
				WorkItemID: itemID,
				Reason:     fmt.Sprintf("missing required key %q", key),
			}
		}
		if !kindMatches(kind, value) {
			return &core.DataValidationError{
				WorkItemID: itemID,
				Reason:     fmt.Sprintf("key %q is not a %s", key, kind),
			}
		}
	}
	return nil
}

func kindMatches(kind string, value any) bool {
	switch kind {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		switch value.(type) {
		case map[string]any, core.Document:
			return true
		}
		return false
	case "list":
		_, ok := value.([]any)
		return ok
	default:
		// Unknown kinds, "any" included, accept every value.
		return true
	}
}

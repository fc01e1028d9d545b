package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/eventlog"
	"github.com/caseflow/caseflow/engine/expr"
	"github.com/caseflow/caseflow/engine/ident"
	"github.com/caseflow/caseflow/engine/orjoin"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
	"github.com/caseflow/caseflow/pkg/logger"
)

// Params configures a case runner. Items, Log, Journal, Announcer,
// Evaluator and OrJoin default to in-process implementations when nil so
// tests can construct runners with minimal wiring.
type Params struct {
	CaseID    string
	Spec      *spec.Specification
	Data      core.Document
	Items     *workitem.Repository
	Log       eventlog.Log
	Journal   Journal
	Announcer Announcer
	Evaluator *expr.Evaluator
	OrJoin    *orjoin.Analyzer
}

// Case executes one case of a specification. All operations serialise on
// the case mutex, including sub-net instances of composite tasks: the
// runner is single-threaded per case by construction.
type Case struct {
	mu sync.Mutex

	id      string
	spec    *spec.Specification
	root    *ident.Identifier
	marking *ident.Marking
	data    core.Document
	status  Status

	rootRun *netRun
	subruns map[string]*netRun

	items     *workitem.Repository
	log       eventlog.Log
	journal   Journal
	announcer Announcer
	eval      *expr.Evaluator
	orjoin    *orjoin.Analyzer

	pending []announcement
	timers  map[string]*time.Timer

	deadlockNotified bool
}

type announceKind int

const (
	announceEnabled announceKind = iota
	announceCancelled
	announceDeadlocked
	announceCaseDone
)

type announcement struct {
	kind announceKind
	item *workitem.Item
}

// New creates a runner for a fresh case. The case does not execute until
// Start seeds the input condition.
func New(params Params) (*Case, error) {
	c, err := build(params)
	if err != nil {
		return nil, err
	}
	c.marking = ident.NewMarking()
	c.status = StatusCreated
	return c, nil
}

// Restore rebuilds a runner from a persisted snapshot. Work items must be
// loaded into the shared repository before Rekick is called.
func Restore(params Params, snap *Snapshot) (*Case, error) {
	c, err := build(params)
	if err != nil {
		return nil, err
	}
	marking, err := ident.Import(c.root, snap.Marking)
	if err != nil {
		return nil, fmt.Errorf("restoring case %s marking: %w", c.id, err)
	}
	c.marking = marking
	c.status = snap.Status
	if c.data == nil {
		c.data = core.Document{}
	}
	if snap.Data != nil {
		c.data = snap.Data.Clone()
	}
	for _, state := range snap.Subruns {
		net, ok := c.spec.Nets[state.NetID]
		if !ok {
			return nil, fmt.Errorf("restoring case %s: unknown net %s", c.id, state.NetID)
		}
		scope, err := c.root.EnsurePath(state.ScopePath)
		if err != nil {
			return nil, fmt.Errorf("restoring case %s sub-net scope: %w", c.id, err)
		}
		sub := newNetRun(net, scope)
		sub.parentTask = state.ParentTask
		sub.parentItem = state.ParentItem
		c.subruns[state.ScopePath] = sub
	}
	for _, sub := range c.subruns {
		sub.parent = c.runByScope(parentPath(sub.scopePath()))
	}
	return c, nil
}

func build(params Params) (*Case, error) {
	if params.CaseID == "" {
		return nil, errors.New("case id is required")
	}
	if params.Spec == nil || params.Spec.RootNetOrNil() == nil {
		return nil, errors.New("specification with a root net is required")
	}
	c := &Case{
		id:        params.CaseID,
		spec:      params.Spec,
		root:      ident.NewRoot(params.CaseID),
		data:      params.Data.Clone(),
		subruns:   make(map[string]*netRun),
		items:     params.Items,
		log:       params.Log,
		journal:   params.Journal,
		announcer: params.Announcer,
		eval:      params.Evaluator,
		orjoin:    params.OrJoin,
		timers:    make(map[string]*time.Timer),
	}
	if c.data == nil {
		c.data = core.Document{}
	}
	if c.items == nil {
		c.items = workitem.NewRepository()
	}
	if c.log == nil {
		c.log = eventlog.NewMemoryLog()
	}
	if c.journal == nil {
		c.journal = NopJournal{}
	}
	if c.announcer == nil {
		c.announcer = NopAnnouncer{}
	}
	if c.eval == nil {
		eval, err := expr.NewEvaluator()
		if err != nil {
			return nil, err
		}
		c.eval = eval
	}
	if c.orjoin == nil {
		analyzer, err := orjoin.NewAnalyzer(0)
		if err != nil {
			return nil, err
		}
		c.orjoin = analyzer
	}
	c.rootRun = newNetRun(params.Spec.RootNetOrNil(), c.root)
	return c, nil
}

func (c *Case) ID() string { return c.id }

// Start seeds the root input condition and runs the first kick.
func (c *Case) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusCreated {
		return core.ErrAlreadyStarted
	}
	c.status = StatusNormal
	c.marking.Add(condKey(c.rootRun.net.ID, c.rootRun.net.InputCondition), c.root)
	c.emit(ctx, eventlog.New(eventlog.KindCaseStarted, c.id))
	c.kick(ctx)
	c.persistAndFlush(ctx)
	return nil
}

// Rekick re-enters execution after recovery: live timers are rescheduled,
// Enabled work items are re-announced and the marking is re-classified.
// Already-announced items keep their identity, so recovery is idempotent.
func (c *Case) Rekick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusNormal {
		return nil
	}
	for _, item := range c.items.ListByCase(c.id) {
		if item.Status == workitem.StatusDeadlocked {
			c.deadlockNotified = true
		}
		if !item.Status.Live() {
			continue
		}
		if item.TimerExpiry != nil {
			c.rescheduleTimer(item)
		}
		if item.Status == workitem.StatusEnabled {
			c.enqueue(announceEnabled, item)
		}
	}
	c.kick(ctx)
	c.persistAndFlush(ctx)
	return nil
}

// StartWorkItem moves an Enabled work item into Executing. For a
// single-instance task this is the firing point: the preset is consumed
// here, which is what resolves deferred choices.
func (c *Case) StartWorkItem(ctx context.Context, itemID, handlerRef string) (*workitem.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAccepting(); err != nil {
		return nil, err
	}
	item, err := c.startLocked(ctx, itemID, handlerRef)
	if err != nil {
		return nil, err
	}
	c.kick(ctx)
	c.persistAndFlush(ctx)
	return item, nil
}

// CompleteWorkItem completes an Executing work item. With force the output
// schema is not checked and the item ends as ForcedComplete.
func (c *Case) CompleteWorkItem(ctx context.Context, itemID string, output core.Document, force bool) (*workitem.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAccepting(); err != nil {
		return nil, err
	}
	item, err := c.completeLocked(ctx, itemID, output, force)
	if err != nil {
		// A rejected completion may have failed the item and released its
		// tokens; reclassify before persisting.
		c.kick(ctx)
		c.persistAndFlush(ctx)
		return nil, err
	}
	c.kick(ctx)
	c.persistAndFlush(ctx)
	return item, nil
}

// SuspendWorkItem pauses an Executing work item. The marking is untouched;
// the task stays busy.
func (c *Case) SuspendWorkItem(ctx context.Context, itemID string) (*workitem.Item, error) {
	return c.transitionItem(ctx, itemID, workitem.StatusSuspended)
}

// ResumeWorkItem returns a Suspended work item to Executing.
func (c *Case) ResumeWorkItem(ctx context.Context, itemID string) (*workitem.Item, error) {
	return c.transitionItem(ctx, itemID, workitem.StatusExecuting)
}

func (c *Case) transitionItem(ctx context.Context, itemID string, to workitem.Status) (*workitem.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAccepting(); err != nil {
		return nil, err
	}
	item, err := c.items.Get(itemID)
	if err != nil {
		return nil, err
	}
	if err := item.Transition(to); err != nil {
		return nil, err
	}
	c.items.Put(item)
	c.persistAndFlush(ctx)
	return item, nil
}

// AddInstance spawns one more child of a dynamic multi-instance task while
// its parent work item is live and the instance cap is not reached.
func (c *Case) AddInstance(ctx context.Context, parentItemID string) (*workitem.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAccepting(); err != nil {
		return nil, err
	}
	parent, err := c.items.Get(parentItemID)
	if err != nil {
		return nil, err
	}
	if parent.Status != workitem.StatusIsParent {
		return nil, &core.IllegalTransition{
			Subject: "work item " + parentItemID,
			From:    string(parent.Status),
			Op:      "add instance to",
		}
	}
	run := c.runByScope(parent.IdentifierPath)
	if run == nil {
		return nil, &core.InternalConsistencyError{CaseID: c.id, Detail: "no run owns item " + parentItemID}
	}
	task := run.net.Tasks[parent.TaskID]
	if task.MultiInstance == nil || task.MultiInstance.Creation != spec.CreationDynamic {
		return nil, &core.IllegalTransition{
			Subject: "task " + parent.TaskID,
			From:    "static instance creation",
			Op:      "add instance to",
		}
	}
	_, maxInstances, _ := task.InstanceBounds()
	if run.instanceCount(c.marking, task.ID) >= maxInstances {
		return nil, &core.IllegalTransition{
			Subject: "task " + parent.TaskID,
			From:    fmt.Sprintf("%d instances", run.instanceCount(c.marking, task.ID)),
			Op:      "add instance to",
		}
	}
	var item *workitem.Item
	if task.IsComposite() {
		item = c.spawnCompositeInstance(ctx, run, task, parent.ID)
	} else {
		item = c.spawnInstance(ctx, run, task, parent.ID)
	}
	c.kick(ctx)
	c.persistAndFlush(ctx)
	return item, nil
}

// Suspend freezes the case: no kicks run and work-item operations are
// rejected until Resume. In-flight completions finish first because they
// hold the case lock.
func (c *Case) Suspend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusNormal {
		return &core.IllegalTransition{Subject: "case " + c.id, From: string(c.status), Op: "suspend"}
	}
	c.status = StatusSuspending
	c.status = StatusSuspended
	c.emit(ctx, eventlog.New(eventlog.KindCaseSuspended, c.id))
	c.persistAndFlush(ctx)
	return nil
}

// Resume returns a suspended case to Normal, re-arms work-item timers and
// re-runs classification.
func (c *Case) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusSuspended {
		return &core.IllegalTransition{Subject: "case " + c.id, From: string(c.status), Op: "resume"}
	}
	c.status = StatusResuming
	c.status = StatusNormal
	c.emit(ctx, eventlog.New(eventlog.KindCaseResumed, c.id))
	c.rescheduleTimers()
	c.kick(ctx)
	c.persistAndFlush(ctx)
	return nil
}

// Cancel tears the case down: live work items move to CancelledByCase,
// every token of the case is removed and the case ends in Cancelled.
func (c *Case) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return &core.IllegalTransition{Subject: "case " + c.id, From: string(c.status), Op: "cancel"}
	}
	c.status = StatusCancelling
	for _, item := range c.items.ListByCase(c.id) {
		if !item.Status.Live() {
			continue
		}
		if err := item.Transition(workitem.StatusCancelledByCase); err != nil {
			logger.FromContext(ctx).Error("cancelling work item", "case", c.id, "item", item.ID, "error", err)
			continue
		}
		c.stopTimer(item.ID)
		c.items.Put(item)
		c.emit(ctx, eventlog.New(eventlog.KindWorkItemCancelled, c.id).WithTask(item.TaskID).WithWorkItem(item.ID))
		c.enqueue(announceCancelled, item)
	}
	for _, element := range c.marking.Elements() {
		c.marking.RemoveAllUnder(element, c.root.String())
	}
	c.subruns = make(map[string]*netRun)
	c.stopAllTimers()
	c.status = StatusCancelled
	c.emit(ctx, eventlog.New(eventlog.KindCaseCancelled, c.id))
	c.persistAndFlush(ctx)
	return nil
}

// ReannounceEnabled re-sends announcements for every Enabled work item of
// the case. Called when a handler (re)registers.
func (c *Case) ReannounceEnabled(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusNormal {
		return
	}
	for _, item := range c.items.ListByCase(c.id) {
		if item.Status == workitem.StatusEnabled {
			c.enqueue(announceEnabled, item)
		}
	}
	c.persistAndFlush(ctx)
}

// AdminAddToken places a case token into a root-net condition. An
// administrator escape hatch for deadlocked cases; the edit is journalled.
func (c *Case) AdminAddToken(ctx context.Context, conditionID string) error {
	return c.adminEdit(ctx, conditionID, true)
}

// AdminRemoveToken removes the case token from a root-net condition.
func (c *Case) AdminRemoveToken(ctx context.Context, conditionID string) error {
	return c.adminEdit(ctx, conditionID, false)
}

func (c *Case) adminEdit(ctx context.Context, conditionID string, add bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return &core.IllegalTransition{Subject: "case " + c.id, From: string(c.status), Op: "edit marking of"}
	}
	if _, ok := c.rootRun.net.Conditions[conditionID]; !ok {
		return fmt.Errorf("condition %s: %w", conditionID, core.ErrNotFound)
	}
	op := "remove"
	if add {
		op = "add"
		c.marking.Add(condKey(c.rootRun.net.ID, conditionID), c.root)
	} else {
		c.marking.Remove(condKey(c.rootRun.net.ID, conditionID), c.root)
	}
	c.emit(ctx, eventlog.New(eventlog.KindMarkingEdited, c.id).
		WithPayload(core.Document{"condition": conditionID, "op": op}))
	c.clearDeadlockMarkers(ctx)
	if c.status == StatusNormal {
		c.kick(ctx)
	}
	c.persistAndFlush(ctx)
	return nil
}

// Status returns the runner lifecycle state.
func (c *Case) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Data returns a copy of the case data document.
func (c *Case) Data() core.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Clone()
}

// MarkingSnapshot returns {element -> token count} for the case.
func (c *Case) MarkingSnapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marking.Snapshot(c.id)
}

// LiveItems returns the case's live work items ordered by id.
func (c *Case) LiveItems() []*workitem.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*workitem.Item, 0)
	for _, item := range c.items.ListByCase(c.id) {
		if item.Status.Live() {
			out = append(out, item)
		}
	}
	return out
}

// Snapshot returns the persistable image of the case.
func (c *Case) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Case) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		CaseID:  c.id,
		SpecID:  c.spec.ID,
		Status:  c.status,
		Marking: c.marking.Export(),
		Data:    c.data.Clone(),
	}
	for _, path := range c.sortedSubrunPaths() {
		sub := c.subruns[path]
		snap.Subruns = append(snap.Subruns, SubrunState{
			ScopePath:  path,
			NetID:      sub.net.ID,
			ParentTask: sub.parentTask,
			ParentItem: sub.parentItem,
		})
	}
	return snap
}

func (c *Case) ensureAccepting() error {
	if c.status != StatusNormal {
		return fmt.Errorf("case %s is %s: %w", c.id, c.status, core.ErrCaseNotRunning)
	}
	return nil
}

func (c *Case) runByScope(path string) *netRun {
	if path == c.root.String() {
		return c.rootRun
	}
	return c.subruns[path]
}

// scopePathOf resolves the run scope owning a work item. Items not yet
// fired carry the scope path itself; fired items carry the instance child
// path one level below it.
func (c *Case) scopePathOf(item *workitem.Item) string {
	switch item.Status {
	case workitem.StatusEnabled:
		if item.ParentID == "" {
			return item.IdentifierPath
		}
	case workitem.StatusIsParent, workitem.StatusDeadlocked:
		return item.IdentifierPath
	}
	return parentPath(item.IdentifierPath)
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return path
	}
	return path[:idx]
}

func (c *Case) allRuns() []*netRun {
	runs := []*netRun{c.rootRun}
	for _, path := range c.sortedSubrunPaths() {
		runs = append(runs, c.subruns[path])
	}
	return runs
}

func (c *Case) sortedSubrunPaths() []string {
	paths := make([]string, 0, len(c.subruns))
	for path := range c.subruns {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (c *Case) emit(ctx context.Context, event *eventlog.Event) {
	if err := c.log.Append(ctx, event); err != nil {
		logger.FromContext(ctx).Error("appending event", "case", c.id, "kind", event.Kind, "error", err)
	}
}

func (c *Case) enqueue(kind announceKind, item *workitem.Item) {
	var clone *workitem.Item
	if item != nil {
		clone = item.Clone()
	}
	c.pending = append(c.pending, announcement{kind: kind, item: clone})
}

// persistAndFlush journals the case image and then drains the announcement
// queue. Persistence always precedes delivery so a crash never loses state
// an external handler has seen. Codelet announcements complete work items
// inline, which may enqueue further announcements; the loop runs until the
// queue stays empty.
func (c *Case) persistAndFlush(ctx context.Context) {
	for {
		if err := c.journal.SaveCase(ctx, c.snapshotLocked(), c.items.ListByCase(c.id)); err != nil {
			logger.FromContext(ctx).Error("persisting case", "case", c.id, "error", err)
		}
		if len(c.pending) == 0 {
			return
		}
		pending := c.pending
		c.pending = nil
		for _, a := range pending {
			switch a.kind {
			case announceEnabled:
				result, err := c.announcer.AnnounceEnabled(ctx, a.item)
				if err != nil {
					logger.FromContext(ctx).Warn("announcement failed",
						"case", c.id, "item", a.item.ID, "error", err)
					c.emit(ctx, eventlog.New(eventlog.KindAnnounceFailed, c.id).
						WithWorkItem(a.item.ID).
						WithPayload(core.Document{"error": err.Error()}))
					continue
				}
				if result != nil {
					c.applyCodelet(ctx, a.item.ID, result)
				}
			case announceCancelled:
				c.announcer.AnnounceCancelled(ctx, a.item)
			case announceDeadlocked:
				c.announcer.AnnounceDeadlocked(ctx, a.item)
			case announceCaseDone:
				c.announcer.AnnounceCaseCompleted(ctx, c.id, c.data.Clone())
			}
		}
	}
}

// applyCodelet starts and completes a work item with a codelet's output.
// The item may have been withdrawn by a competing firing since it was
// announced; that is not an error.
func (c *Case) applyCodelet(ctx context.Context, itemID string, result *CodeletResult) {
	current, err := c.items.Get(itemID)
	if err != nil || current.Status != workitem.StatusEnabled {
		logger.FromContext(ctx).Debug("codelet result dropped", "case", c.id, "item", itemID)
		return
	}
	handlerRef := "codelet"
	if current.Profile != nil && current.Profile.Codelet != "" {
		handlerRef = "codelet:" + current.Profile.Codelet
	}
	if _, err := c.startLocked(ctx, itemID, handlerRef); err != nil {
		logger.FromContext(ctx).Error("starting codelet item", "case", c.id, "item", itemID, "error", err)
		return
	}
	if _, err := c.completeLocked(ctx, itemID, result.Output, false); err != nil {
		logger.FromContext(ctx).Error("completing codelet item", "case", c.id, "item", itemID, "error", err)
	}
	c.kick(ctx)
}

func (c *Case) scheduleTimer(ctx context.Context, item *workitem.Item, timer *spec.Timer, trigger spec.TimerTrigger) {
	if timer == nil || timer.Trigger != trigger {
		return
	}
	expiry := time.Now().UTC().Add(timer.Duration)
	item.TimerExpiry = &expiry
	itemID := item.ID
	c.timers[itemID] = time.AfterFunc(timer.Duration, func() {
		c.expireWorkItem(context.WithoutCancel(ctx), itemID)
	})
}

// rescheduleTimers re-arms every live item carrying an expiry but no
// running timer. Timers that fire while the case is suspended, or that were
// lost over a restart of a suspended case, come back through here on
// resume; an expiry already in the past fires immediately.
func (c *Case) rescheduleTimers() {
	for _, item := range c.items.ListByCase(c.id) {
		if !item.Status.Live() || item.TimerExpiry == nil {
			continue
		}
		if _, armed := c.timers[item.ID]; armed {
			continue
		}
		c.rescheduleTimer(item)
	}
}

func (c *Case) rescheduleTimer(item *workitem.Item) {
	delay := time.Until(*item.TimerExpiry)
	if delay < 0 {
		delay = 0
	}
	itemID := item.ID
	c.timers[itemID] = time.AfterFunc(delay, func() {
		c.expireWorkItem(context.Background(), itemID)
	})
}

// expireWorkItem is the timer callback: expiry force-completes the work
// item so the case progresses without the handler.
func (c *Case) expireWorkItem(ctx context.Context, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, itemID)
	if c.status != StatusNormal {
		return
	}
	item, err := c.items.Get(itemID)
	if err != nil || !item.Status.Live() {
		return
	}
	c.emit(ctx, eventlog.New(eventlog.KindWorkItemTimedOut, c.id).
		WithTask(item.TaskID).WithWorkItem(itemID))
	switch item.Status {
	case workitem.StatusEnabled:
		if _, err := c.startLocked(ctx, itemID, "timer"); err != nil {
			logger.FromContext(ctx).Error("starting expired item", "case", c.id, "item", itemID, "error", err)
			return
		}
	case workitem.StatusSuspended:
		item.Transition(workitem.StatusExecuting)
		c.items.Put(item)
	case workitem.StatusFired:
		item.Transition(workitem.StatusExecuting)
		c.items.Put(item)
	case workitem.StatusExecuting:
	default:
		return
	}
	if _, err := c.completeLocked(ctx, itemID, core.Document{}, true); err != nil {
		logger.FromContext(ctx).Error("force-completing expired item", "case", c.id, "item", itemID, "error", err)
	}
	c.kick(ctx)
	c.persistAndFlush(ctx)
}

func (c *Case) stopTimer(itemID string) {
	if t, ok := c.timers[itemID]; ok {
		t.Stop()
		delete(c.timers, itemID)
	}
}

func (c *Case) stopAllTimers() {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

package runner

import (
	"sort"

	"github.com/caseflow/caseflow/engine/ident"
	"github.com/caseflow/caseflow/engine/orjoin"
	"github.com/caseflow/caseflow/engine/spec"
)

// Marking keys are qualified by net id so element ids never collide across
// the nets of a specification. Each task owns four internal places tracking
// its instances from firing to exit.
func condKey(netID, conditionID string) string {
	return netID + ":" + conditionID
}

func placeEntered(netID, taskID string) string   { return netID + ":" + taskID + ".entered" }
func placeActive(netID, taskID string) string    { return netID + ":" + taskID + ".active" }
func placeExecuting(netID, taskID string) string { return netID + ":" + taskID + ".executing" }
func placeComplete(netID, taskID string) string  { return netID + ":" + taskID + ".complete" }

// netRun scopes execution of one net instance: the root net runs under the
// case root identifier, each composite task instance runs its decomposition
// under the spawned child identifier. All runs of a case share the case
// marking and the case lock; tokens are attributed to a run by identifier
// subtree.
type netRun struct {
	net        *spec.Net
	scope      *ident.Identifier
	parent     *netRun
	parentTask string
	parentItem string
}

func newNetRun(net *spec.Net, scope *ident.Identifier) *netRun {
	return &netRun{net: net, scope: scope}
}

func (r *netRun) scopePath() string { return r.scope.String() }

// taskIDs returns the run's task ids in stable order so kicks are
// deterministic.
func (r *netRun) taskIDs() []string {
	out := make([]string, 0, len(r.net.Tasks))
	for id := range r.net.Tasks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// busy reports whether the task holds any instance between firing and exit.
func (r *netRun) busy(m *ident.Marking, taskID string) bool {
	return m.CountUnder(placeActive(r.net.ID, taskID), r.scopePath()) > 0
}

// instanceCount returns the number of instances spawned by the current
// firing of the task, completed ones included.
func (r *netRun) instanceCount(m *ident.Marking, taskID string) int {
	return m.CountUnder(placeActive(r.net.ID, taskID), r.scopePath())
}

func (r *netRun) completedCount(m *ident.Marking, taskID string) int {
	return m.CountUnder(placeComplete(r.net.ID, taskID), r.scopePath())
}

// enabled evaluates the task's join against the run's token view. OR-joins
// delegate to the reachability analyzer: they fire only when waiting for
// more preset tokens is futile.
func (r *netRun) enabled(m *ident.Marking, analyzer *orjoin.Analyzer, task *spec.Task) bool {
	preset := r.net.Preset(task.ID)
	if len(preset) == 0 {
		return false
	}
	switch task.Join {
	case spec.JoinAnd:
		for _, cond := range preset {
			if !m.ContainsUnder(condKey(r.net.ID, cond), r.scopePath()) {
				return false
			}
		}
		return true
	case spec.JoinOr:
		return analyzer.ShouldFire(r.net, r.tokenView(m), task.ID)
	default:
		for _, cond := range preset {
			if m.ContainsUnder(condKey(r.net.ID, cond), r.scopePath()) {
				return true
			}
		}
		return false
	}
}

// tokenView projects the shared case marking onto this run's net-local
// condition ids and busy set, the shape the OR-join analyzer reasons over.
func (r *netRun) tokenView(m *ident.Marking) orjoin.Marking {
	view := orjoin.Marking{
		Tokens: make(map[string]int, len(r.net.Conditions)),
		Busy:   make(map[string]bool),
	}
	for id := range r.net.Conditions {
		if n := m.CountUnder(condKey(r.net.ID, id), r.scopePath()); n > 0 {
			view.Tokens[id] = n
		}
	}
	for id := range r.net.Tasks {
		if r.busy(m, id) {
			view.Busy[id] = true
		}
	}
	return view
}

// consume removes the firing tokens from the task's preset. AND-joins drain
// every preset condition; XOR and OR joins drain exactly the conditions
// currently holding the scope token.
func (r *netRun) consume(m *ident.Marking, task *spec.Task) {
	for _, cond := range r.net.Preset(task.ID) {
		key := condKey(r.net.ID, cond)
		if task.Join == spec.JoinAnd || m.ContainsUnder(key, r.scopePath()) {
			m.Remove(key, r.scope)
		}
	}
}

// hasTokens reports whether any condition of the run still holds a token of
// this scope.
func (r *netRun) hasTokens(m *ident.Marking) bool {
	for id := range r.net.Conditions {
		if m.ContainsUnder(condKey(r.net.ID, id), r.scopePath()) {
			return true
		}
	}
	return false
}

// outputReached reports whether the run's output condition holds the scope
// token, i.e. the net instance finished.
func (r *netRun) outputReached(m *ident.Marking) bool {
	return m.ContainsUnder(condKey(r.net.ID, r.net.OutputCondition), r.scopePath())
}

// purgeInternal clears every internal place of the task for this scope.
func (r *netRun) purgeInternal(m *ident.Marking, taskID string) {
	for _, place := range []string{
		placeEntered(r.net.ID, taskID),
		placeActive(r.net.ID, taskID),
		placeExecuting(r.net.ID, taskID),
		placeComplete(r.net.ID, taskID),
	} {
		m.RemoveAllUnder(place, r.scopePath())
	}
}

// stuckTasks returns, for a marking with no enabled and no busy tasks, the
// tasks downstream of marked conditions: the ones a deadlocked case is
// waiting on. Sorted for deterministic reporting.
func (r *netRun) stuckTasks(m *ident.Marking) []string {
	seen := make(map[string]bool)
	for id := range r.net.Conditions {
		if id == r.net.OutputCondition {
			continue
		}
		if !m.ContainsUnder(condKey(r.net.ID, id), r.scopePath()) {
			continue
		}
		for _, succ := range r.net.Postset(id) {
			if r.net.IsTask(succ) {
				seen[succ] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

package orjoin

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/caseflow/caseflow/engine/spec"
)

const defaultCacheSize = 1024

// Marking is the per-case token view the analyzer reasons over: condition
// token counts plus the set of busy tasks (tasks holding identifiers in
// their internal places, which will eventually produce into their postset).
type Marking struct {
	Tokens map[string]int
	Busy   map[string]bool
}

// Analyzer decides whether an OR-join task should fire now: it fires iff
// no continuation of the current marking can put a token into a currently
// empty preset condition of the task, i.e. waiting is futile.
//
// Results are memoised by (task, marking fingerprint) because the runner
// re-evaluates joins on every kick.
type Analyzer struct {
	cache *lru.Cache[string, bool]
}

func NewAnalyzer(cacheSize int) (*Analyzer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating or-join cache: %w", err)
	}
	return &Analyzer{cache: cache}, nil
}

// ShouldFire evaluates the OR-join of the given task under the marking.
func (a *Analyzer) ShouldFire(net *spec.Net, m Marking, taskID string) bool {
	if _, ok := net.Tasks[taskID]; !ok {
		return false
	}
	preset := net.Preset(taskID)
	var empty []string
	filled := 0
	for _, cond := range preset {
		if m.Tokens[cond] > 0 {
			filled++
		} else {
			empty = append(empty, cond)
		}
	}
	// An OR-join with zero preset tokens never fires.
	if filled == 0 {
		return false
	}
	if len(empty) == 0 {
		return true
	}
	key := fingerprint(net.ID, taskID, m)
	if cached, ok := a.cache.Get(key); ok {
		return cached
	}
	result := !canGrowPreset(net, m, taskID, empty)
	a.cache.Add(key, result)
	return result
}

// canGrowPreset answers the coverability question: treating every
// enabled-or-busy task other than the join as optimistically firing (any
// split branch may produce), can a currently empty preset condition of the
// join gain a token? Cancellation is the pessimistic half: a reachable
// task carrying a remove set may fire and purge those elements, so tokens
// whose arrival depends on a purgeable element do not count as growth.
func canGrowPreset(net *spec.Net, m Marking, joinTaskID string, empty []string) bool {
	coverable, fired := cover(net, m, joinTaskID, nil)
	removable := make(map[string]bool)
	for taskID := range fired {
		for _, element := range net.Tasks[taskID].RemoveSet {
			removable[element] = true
		}
	}
	if len(removable) > 0 {
		coverable, _ = cover(net, m, joinTaskID, removable)
	}
	for _, cond := range empty {
		if coverable[cond] {
			return true
		}
	}
	return false
}

// cover runs the coverability fixpoint and returns the coverable conditions
// together with the tasks that fired. Purged elements model cancellation: a
// purged condition contributes no tokens and a purged task neither fires
// nor produces, its busy instances included.
func cover(net *spec.Net, m Marking, joinTaskID string, purged map[string]bool) (map[string]bool, map[string]bool) {
	coverable := make(map[string]bool)
	for cond, count := range m.Tokens {
		if count > 0 && !purged[cond] {
			coverable[cond] = true
		}
	}
	fired := make(map[string]bool)
	// Busy tasks have consumed their preset already; their postset is
	// coverable regardless of join state.
	for taskID, busy := range m.Busy {
		if !busy || taskID == joinTaskID || purged[taskID] {
			continue
		}
		fired[taskID] = true
		for _, succ := range net.Postset(taskID) {
			coverable[succ] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for taskID := range net.Tasks {
			if taskID == joinTaskID || fired[taskID] || purged[taskID] {
				continue
			}
			if !joinCoverable(net, taskID, coverable) {
				continue
			}
			fired[taskID] = true
			changed = true
			for _, succ := range net.Postset(taskID) {
				if !coverable[succ] {
					coverable[succ] = true
				}
			}
		}
	}
	return coverable, fired
}

func joinCoverable(net *spec.Net, taskID string, coverable map[string]bool) bool {
	task := net.Tasks[taskID]
	preset := net.Preset(taskID)
	if len(preset) == 0 {
		return false
	}
	switch task.Join {
	case spec.JoinAnd:
		for _, cond := range preset {
			if !coverable[cond] {
				return false
			}
		}
		return true
	default:
		// XOR and nested OR joins are treated optimistically: a single
		// coverable preset condition suffices.
		for _, cond := range preset {
			if coverable[cond] {
				return true
			}
		}
		return false
	}
}

func fingerprint(netID, taskID string, m Marking) string {
	parts := make([]string, 0, len(m.Tokens)+len(m.Busy))
	for cond, count := range m.Tokens {
		if count > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", cond, count))
		}
	}
	for task, busy := range m.Busy {
		if busy {
			parts = append(parts, "busy:"+task)
		}
	}
	sort.Strings(parts)
	return netID + "|" + taskID + "|" + strings.Join(parts, ",")
}

package workitem

import (
	"sort"
	"sync"

	"github.com/caseflow/caseflow/engine/core"
)

// Filter selects work items from the repository. Nil fields match all.
type Filter struct {
	CaseID *string
	TaskID *string
	Status *Status
}

// Repository is the in-memory owner of live work items, indexed by case,
// task and status. Mutations are journalled by the caller through the
// persistence layer; readers may observe a slightly stale view.
type Repository struct {
	mu       sync.RWMutex
	items    map[string]*Item
	byCase   map[string]map[string]struct{}
	byTask   map[string]map[string]struct{}
	byStatus map[Status]map[string]struct{}
}

func NewRepository() *Repository {
	return &Repository{
		items:    make(map[string]*Item),
		byCase:   make(map[string]map[string]struct{}),
		byTask:   make(map[string]map[string]struct{}),
		byStatus: make(map[Status]map[string]struct{}),
	}
}

// Put inserts or replaces a work item and refreshes the indexes.
func (r *Repository) Put(item *Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[item.ID]; ok {
		r.unindex(existing)
	}
	stored := item.Clone()
	r.items[stored.ID] = stored
	index(r.byCase, stored.CaseID, stored.ID)
	index(r.byTask, stored.TaskID, stored.ID)
	index(r.byStatus, stored.Status, stored.ID)
}

// Get returns a copy of the work item, or core.ErrNotFound.
func (r *Repository) Get(id string) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return item.Clone(), nil
}

// Remove deletes the work item. Missing ids are ignored.
func (r *Repository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.items[id]; ok {
		r.unindex(item)
		delete(r.items, id)
	}
}

// RemoveForCase deletes every work item of the case and returns their ids.
func (r *Repository) RemoveForCase(caseID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := sortedIDs(r.byCase[caseID])
	for _, id := range ids {
		r.unindex(r.items[id])
		delete(r.items, id)
	}
	return ids
}

// ListByCase returns the case's work items ordered by id.
func (r *Repository) ListByCase(caseID string) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byCase[caseID])
}

// ListByTask returns the task's work items across cases, ordered by id.
func (r *Repository) ListByTask(taskID string) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byTask[taskID])
}

// ListByStatus returns work items in the given status, ordered by id.
func (r *Repository) ListByStatus(status Status) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byStatus[status])
}

// List returns work items matching the filter, ordered by id.
func (r *Repository) List(filter *Filter) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Item, 0)
	for _, id := range sortedIDs(allIDs(r.items)) {
		item := r.items[id]
		if filter != nil {
			if filter.CaseID != nil && item.CaseID != *filter.CaseID {
				continue
			}
			if filter.TaskID != nil && item.TaskID != *filter.TaskID {
				continue
			}
			if filter.Status != nil && item.Status != *filter.Status {
				continue
			}
		}
		out = append(out, item.Clone())
	}
	return out
}

func (r *Repository) collect(ids map[string]struct{}) []*Item {
	out := make([]*Item, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		out = append(out, r.items[id].Clone())
	}
	return out
}

func (r *Repository) unindex(item *Item) {
	unindex(r.byCase, item.CaseID, item.ID)
	unindex(r.byTask, item.TaskID, item.ID)
	unindex(r.byStatus, item.Status, item.ID)
}

func index[K comparable](m map[K]map[string]struct{}, key K, id string) {
	bucket, ok := m[key]
	if !ok {
		bucket = make(map[string]struct{})
		m[key] = bucket
	}
	bucket[id] = struct{}{}
}

func unindex[K comparable](m map[K]map[string]struct{}, key K, id string) {
	if bucket, ok := m[key]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(m, key)
		}
	}
}

func allIDs(items map[string]*Item) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for id := range items {
		out[id] = struct{}{}
	}
	return out
}

func sortedIDs(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

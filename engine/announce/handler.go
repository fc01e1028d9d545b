package announce

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/caseflow/caseflow/engine/core"
)

// HandlerKind classifies how announcements reach a handler.
type HandlerKind string

const (
	// KindWorklist is the default destination for manual work items.
	KindWorklist HandlerKind = "default-worklist"
	// KindService is a custom service addressed by task service_ref.
	KindService HandlerKind = "custom-service"
)

// Handler is a registered announcement target.
type Handler struct {
	Ref      string      `json:"ref"`
	Name     string      `json:"name"`
	Kind     HandlerKind `json:"kind"`
	Endpoint string      `json:"endpoint"`
	Token    string      `json:"token,omitempty"`
}

func (h *Handler) validate() error {
	if h.Ref == "" {
		return fmt.Errorf("handler ref is required")
	}
	switch h.Kind {
	case KindWorklist, KindService:
	default:
		return fmt.Errorf("handler %s has unknown kind %q", h.Ref, h.Kind)
	}
	if !strings.HasPrefix(h.Endpoint, "http://") && !strings.HasPrefix(h.Endpoint, "https://") {
		return fmt.Errorf("handler %s endpoint %q is not an http(s) URL", h.Ref, h.Endpoint)
	}
	return nil
}

// Registry is the in-memory handler directory. The persistent copy lives
// in the store; the facade reloads the registry from it at boot.
type Registry struct {
	mu    sync.RWMutex
	byRef map[string]*Handler
}

func NewRegistry() *Registry {
	return &Registry{byRef: make(map[string]*Handler)}
}

// Register adds or replaces a handler.
func (r *Registry) Register(h *Handler) error {
	if err := h.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *h
	r.byRef[h.Ref] = &stored
	return nil
}

// Unregister removes a handler by ref.
func (r *Registry) Unregister(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[ref]; !ok {
		return fmt.Errorf("handler %s: %w", ref, core.ErrNotFound)
	}
	delete(r.byRef, ref)
	return nil
}

// Get resolves a handler by ref.
func (r *Registry) Get(ref string) (*Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("handler %s: %w", ref, core.ErrNotFound)
	}
	copied := *h
	return &copied, nil
}

// Worklist returns the default worklist handler, or nil when none is
// registered.
func (r *Registry) Worklist() *Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ref := range r.sortedRefs() {
		if h := r.byRef[ref]; h.Kind == KindWorklist {
			copied := *h
			return &copied
		}
	}
	return nil
}

// List returns registered handlers ordered by ref.
func (r *Registry) List() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handler, 0, len(r.byRef))
	for _, ref := range r.sortedRefs() {
		copied := *r.byRef[ref]
		out = append(out, &copied)
	}
	return out
}

func (r *Registry) sortedRefs() []string {
	refs := make([]string, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

package runtime

import (
	"context"

	"github.com/caseflow/caseflow/engine/announce"
	"github.com/caseflow/caseflow/pkg/logger"
)

// RegisterHandler stores a handler and re-announces every Enabled work
// item of every live case, so items that had no route when they enabled
// reach the new handler.
func (e *Engine) RegisterHandler(ctx context.Context, h *announce.Handler) error {
	if err := e.registry.Register(h); err != nil {
		return err
	}
	if err := e.handlers.Save(ctx, h); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("handler registered", "ref", h.Ref, "kind", h.Kind)
	for _, caseID := range e.liveCaseIDs() {
		if c, ok := e.liveCase(caseID); ok {
			c.ReannounceEnabled(ctx)
		}
	}
	return nil
}

// UnregisterHandler removes a handler from the registry and the store.
// Enabled items it was serving stay Enabled until another handler
// registers.
func (e *Engine) UnregisterHandler(ctx context.Context, ref string) error {
	if err := e.registry.Unregister(ref); err != nil {
		return err
	}
	return e.handlers.Delete(ctx, ref)
}

// ListHandlers returns the registered handlers ordered by ref.
func (e *Engine) ListHandlers() []*announce.Handler {
	return e.registry.List()
}

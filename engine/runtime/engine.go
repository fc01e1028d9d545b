// Package runtime is the engine facade: it owns the store, the live case
// runners, the specification cache and the announcement machinery, and
// exposes the operations the HTTP API and the CLI call.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/caseflow/caseflow/engine/announce"
	"github.com/caseflow/caseflow/engine/expr"
	"github.com/caseflow/caseflow/engine/infra/sqlite"
	"github.com/caseflow/caseflow/engine/orjoin"
	"github.com/caseflow/caseflow/engine/runner"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
	"github.com/caseflow/caseflow/pkg/config"
	"github.com/caseflow/caseflow/pkg/logger"
)

// Engine wires the persistence layer, the announcer and the per-case
// runners together. All maps are guarded by mu; case-level operations
// serialise on each runner's own lock.
type Engine struct {
	cfg *config.Config

	store    *sqlite.Store
	specRepo *sqlite.SpecRepo
	caseRepo *sqlite.CaseRepo
	handlers *sqlite.HandlerRepo
	events   *sqlite.EventRepo

	registry  *announce.Registry
	announcer *announce.Announcer
	eval      *expr.Evaluator
	items     *workitem.Repository

	mu        sync.RWMutex
	specs     map[string]*spec.Specification
	analyzers map[string]*orjoin.Analyzer
	cases     map[string]*runner.Case
}

// New opens the store, replays persisted handlers into the registry,
// reloads the specification cache and recovers every non-terminal case.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	store, err := sqlite.NewStore(ctx, sqlite.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	eval, err := expr.NewEvaluator(expr.WithCostLimit(cfg.Engine.PredicateCostLimit))
	if err != nil {
		store.Close()
		return nil, err
	}
	registry := announce.NewRegistry()
	e := &Engine{
		cfg:      cfg,
		store:    store,
		specRepo: sqlite.NewSpecRepo(store),
		caseRepo: sqlite.NewCaseRepo(store),
		handlers: sqlite.NewHandlerRepo(store),
		events:   sqlite.NewEventRepo(store),
		registry: registry,
		announcer: announce.New(registry, announce.Config{
			Retries: cfg.Engine.AnnounceRetries,
			Backoff: cfg.Engine.AnnounceBackoff,
			Timeout: cfg.Engine.AnnounceTimeout,
		}),
		eval:      eval,
		items:     workitem.NewRepository(),
		specs:     make(map[string]*spec.Specification),
		analyzers: make(map[string]*orjoin.Analyzer),
		cases:     make(map[string]*runner.Case),
	}
	if err := e.reloadHandlers(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := e.reloadSpecs(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := e.recover(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) reloadHandlers(ctx context.Context) error {
	stored, err := e.handlers.List(ctx)
	if err != nil {
		return err
	}
	for _, h := range stored {
		if err := e.registry.Register(h); err != nil {
			return fmt.Errorf("restoring handler %s: %w", h.Ref, err)
		}
	}
	return nil
}

func (e *Engine) reloadSpecs(ctx context.Context) error {
	records, err := e.specRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		decoded, err := spec.Decode(rec.Document)
		if err != nil {
			return fmt.Errorf("restoring specification %s: %w", rec.ID, err)
		}
		if _, err := spec.Verify(decoded); err != nil {
			return fmt.Errorf("restoring specification %s: %w", rec.ID, err)
		}
		if err := e.cacheSpec(decoded); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) cacheSpec(s *spec.Specification) error {
	analyzer, err := orjoin.NewAnalyzer(e.cfg.Engine.OrJoinCacheSize)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs[s.ID] = s
	e.analyzers[s.ID] = analyzer
	return nil
}

// Announcer exposes the routing layer for codelet registration.
func (e *Engine) Announcer() *announce.Announcer { return e.announcer }

// RegisterCodelet installs an in-process automated task body.
func (e *Engine) RegisterCodelet(name string, fn announce.CodeletFunc) {
	e.announcer.RegisterCodelet(name, fn)
}

// EventLog exposes the durable event log for query endpoints.
func (e *Engine) EventLog() *sqlite.EventRepo { return e.events }

// WorkItems exposes the live work-item repository.
func (e *Engine) WorkItems() *workitem.Repository { return e.items }

// Shutdown drains in-flight announcements and closes the store. Live
// cases need no teardown: their state is journalled after every
// operation.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.announcer.Wait()
	logger.FromContext(ctx).Info("engine stopped")
	return e.store.Close()
}

func (e *Engine) liveCase(caseID string) (*runner.Case, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.cases[caseID]
	return c, ok
}

func (e *Engine) specByID(specID string) (*spec.Specification, *orjoin.Analyzer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.specs[specID]
	if !ok {
		return nil, nil, false
	}
	return s, e.analyzers[specID], true
}

// retire drops a terminal case from the live map and the in-memory
// work-item repository. Its journalled state stays queryable through
// the store.
func (e *Engine) retire(caseID string) {
	e.mu.Lock()
	delete(e.cases, caseID)
	e.mu.Unlock()
	e.items.RemoveForCase(caseID)
}

func (e *Engine) liveCaseIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.cases))
	for id := range e.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

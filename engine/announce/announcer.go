package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/runner"
	"github.com/caseflow/caseflow/engine/workitem"
	"github.com/caseflow/caseflow/pkg/logger"
)

// CodeletFunc is an in-process automated task body. It runs on the case
// runner's thread while the case lock is held, so it must be fast and must
// not call back into the engine.
type CodeletFunc func(ctx context.Context, input core.Document) (core.Document, error)

// Config tunes remote announcement delivery.
type Config struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// payload is the announcement wire format. Receivers dedupe on the
// work-item id: redeliveries after recovery or handler re-registration
// carry the same id.
type payload struct {
	Event    string         `json:"event"`
	CaseID   string         `json:"case_id"`
	WorkItem *workitem.Item `json:"work_item,omitempty"`
	Data     core.Document  `json:"data,omitempty"`
}

// Announcer routes work-item announcements per the task execution
// profile: service_ref to its registered service, codelet inline, manual
// items to the default worklist. Remote deliveries run asynchronously
// with retry so the case lock is never held across the network.
type Announcer struct {
	registry *Registry
	config   Config
	client   *resty.Client

	mu       sync.RWMutex
	codelets map[string]CodeletFunc

	inflight sync.WaitGroup
}

func New(registry *Registry, config Config) *Announcer {
	config = config.withDefaults()
	return &Announcer{
		registry: registry,
		config:   config,
		client:   resty.New().SetTimeout(config.Timeout),
		codelets: make(map[string]CodeletFunc),
	}
}

// RegisterCodelet installs a named codelet.
func (a *Announcer) RegisterCodelet(name string, fn CodeletFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codelets[name] = fn
}

func (a *Announcer) codelet(name string) CodeletFunc {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.codelets[name]
}

// AnnounceEnabled routes a newly enabled work item. The routing order is
// service_ref, then codelet, then the default worklist; automated items
// with no route stay Enabled and the misconfiguration is logged.
func (a *Announcer) AnnounceEnabled(ctx context.Context, item *workitem.Item) (*runner.CodeletResult, error) {
	profile := item.Profile
	if profile != nil && profile.ServiceRef != "" {
		handler, err := a.registry.Get(profile.ServiceRef)
		if err != nil {
			return nil, &core.HandlerUnavailable{HandlerRef: profile.ServiceRef, Err: err}
		}
		a.deliver(ctx, handler, payload{Event: "workitem.enabled", CaseID: item.CaseID, WorkItem: item})
		return nil, nil
	}
	if profile != nil && profile.Codelet != "" {
		fn := a.codelet(profile.Codelet)
		if fn == nil {
			return nil, &core.HandlerUnavailable{
				HandlerRef: "codelet:" + profile.Codelet,
				Err:        fmt.Errorf("codelet %q is not registered", profile.Codelet),
			}
		}
		output, err := fn(ctx, item.Input)
		if err != nil {
			return nil, fmt.Errorf("codelet %q: %w", profile.Codelet, err)
		}
		return &runner.CodeletResult{Output: output}, nil
	}
	worklist := a.registry.Worklist()
	if worklist == nil {
		logger.FromContext(ctx).Warn("no route for enabled work item",
			"item", item.ID, "task", item.TaskID)
		return nil, nil
	}
	a.deliver(ctx, worklist, payload{Event: "workitem.enabled", CaseID: item.CaseID, WorkItem: item})
	return nil, nil
}

// AnnounceCancelled notifies the item's route that the item is gone.
func (a *Announcer) AnnounceCancelled(ctx context.Context, item *workitem.Item) {
	a.notify(ctx, item, "workitem.cancelled")
}

// AnnounceDeadlocked publishes a synthetic deadlock marker item.
func (a *Announcer) AnnounceDeadlocked(ctx context.Context, item *workitem.Item) {
	a.notify(ctx, item, "workitem.deadlocked")
}

// AnnounceCaseCompleted broadcasts completion with the final case data to
// every registered handler.
func (a *Announcer) AnnounceCaseCompleted(ctx context.Context, caseID string, data core.Document) {
	for _, handler := range a.registry.List() {
		a.deliver(ctx, handler, payload{Event: "case.completed", CaseID: caseID, Data: data})
	}
}

func (a *Announcer) notify(ctx context.Context, item *workitem.Item, event string) {
	handler := a.routeFor(item)
	if handler == nil {
		return
	}
	a.deliver(ctx, handler, payload{Event: event, CaseID: item.CaseID, WorkItem: item})
}

func (a *Announcer) routeFor(item *workitem.Item) *Handler {
	if item.Profile != nil && item.Profile.ServiceRef != "" {
		handler, err := a.registry.Get(item.Profile.ServiceRef)
		if err != nil {
			return nil
		}
		return handler
	}
	if item.Profile != nil && item.Profile.Codelet != "" {
		return nil
	}
	return a.registry.Worklist()
}

// deliver posts the payload asynchronously with exponential backoff. The
// caller holds the case lock; nothing here may block on the network.
func (a *Announcer) deliver(ctx context.Context, handler *Handler, body payload) {
	log := logger.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		backoff := retry.WithMaxRetries(uint64(a.config.Retries), retry.NewExponential(a.config.Backoff))
		err := retry.Do(ctx, backoff, func(retryCtx context.Context) error {
			request := a.client.R().SetContext(retryCtx).SetBody(body)
			if handler.Token != "" {
				request.SetAuthToken(handler.Token)
			}
			resp, err := request.Post(handler.Endpoint)
			if err != nil {
				return retry.RetryableError(err)
			}
			if resp.IsError() {
				return retry.RetryableError(fmt.Errorf("handler %s returned %s", handler.Ref, resp.Status()))
			}
			return nil
		})
		if err != nil {
			log.Error("announcement delivery failed",
				"handler", handler.Ref, "event", body.Event, "case", body.CaseID, "error", err)
		}
	}()
}

// Wait blocks until every in-flight delivery finished. Used on shutdown
// and by tests.
func (a *Announcer) Wait() {
	a.inflight.Wait()
}

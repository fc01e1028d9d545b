package announce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
)

type capture struct {
	mu       sync.Mutex
	payloads []payload
	failures int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.failures > 0 {
			c.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body payload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.payloads = append(c.payloads, body)
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) received() []payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func manualItem(caseID, taskID string) *workitem.Item {
	return workitem.New(caseID, caseID, taskID, core.Document{"k": "v"},
		&spec.ExecutionProfile{Interaction: spec.InteractionManual})
}

func serviceItem(caseID, taskID, ref string) *workitem.Item {
	return workitem.New(caseID, caseID, taskID, core.Document{},
		&spec.ExecutionProfile{Interaction: spec.InteractionAutomated, ServiceRef: ref})
}

func codeletItem(caseID, taskID, name string) *workitem.Item {
	return workitem.New(caseID, caseID, taskID, core.Document{"n": 2},
		&spec.ExecutionProfile{Interaction: spec.InteractionAutomated, Codelet: name})
}

func TestRegistry(t *testing.T) {
	t.Run("Should register, resolve and unregister handlers", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(&Handler{
			Ref: "billing", Kind: KindService, Endpoint: "http://billing.local/hook",
		}))
		h, err := r.Get("billing")
		require.NoError(t, err)
		assert.Equal(t, KindService, h.Kind)
		require.NoError(t, r.Unregister("billing"))
		_, err = r.Get("billing")
		require.ErrorIs(t, err, core.ErrNotFound)
	})
	t.Run("Should reject invalid handlers", func(t *testing.T) {
		r := NewRegistry()
		require.Error(t, r.Register(&Handler{Kind: KindService, Endpoint: "http://x"}))
		require.Error(t, r.Register(&Handler{Ref: "x", Kind: "weird", Endpoint: "http://x"}))
		require.Error(t, r.Register(&Handler{Ref: "x", Kind: KindService, Endpoint: "ftp://x"}))
	})
	t.Run("Should expose the default worklist", func(t *testing.T) {
		r := NewRegistry()
		assert.Nil(t, r.Worklist())
		require.NoError(t, r.Register(&Handler{
			Ref: "worklist", Kind: KindWorklist, Endpoint: "http://worklist.local",
		}))
		h := r.Worklist()
		require.NotNil(t, h)
		assert.Equal(t, "worklist", h.Ref)
		assert.Len(t, r.List(), 1)
	})
}

func TestAnnouncer_Routing(t *testing.T) {
	ctx := context.Background()
	t.Run("Should deliver service_ref items to the registered service", func(t *testing.T) {
		sink := &capture{}
		server := httptest.NewServer(sink.handler())
		defer server.Close()
		r := NewRegistry()
		require.NoError(t, r.Register(&Handler{Ref: "svc", Kind: KindService, Endpoint: server.URL}))
		a := New(r, Config{})

		result, err := a.AnnounceEnabled(ctx, serviceItem("K1", "A", "svc"))
		require.NoError(t, err)
		assert.Nil(t, result)
		a.Wait()
		received := sink.received()
		require.Len(t, received, 1)
		assert.Equal(t, "workitem.enabled", received[0].Event)
		assert.Equal(t, "K1:A", received[0].WorkItem.ID)
	})
	t.Run("Should report unavailable when the service is not registered", func(t *testing.T) {
		a := New(NewRegistry(), Config{})
		_, err := a.AnnounceEnabled(ctx, serviceItem("K1", "A", "ghost"))
		var unavailable *core.HandlerUnavailable
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "ghost", unavailable.HandlerRef)
	})
	t.Run("Should run codelets inline and return their output", func(t *testing.T) {
		a := New(NewRegistry(), Config{})
		a.RegisterCodelet("double", func(_ context.Context, input core.Document) (core.Document, error) {
			n, _ := input.Get("n")
			return core.Document{"n": n.(float64) * 2}, nil
		})
		result, err := a.AnnounceEnabled(ctx, codeletItem("K1", "A", "double"))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.EqualValues(t, 4, result.Output["n"])
	})
	t.Run("Should report unregistered codelets", func(t *testing.T) {
		a := New(NewRegistry(), Config{})
		_, err := a.AnnounceEnabled(ctx, codeletItem("K1", "A", "ghost"))
		var unavailable *core.HandlerUnavailable
		require.ErrorAs(t, err, &unavailable)
	})
	t.Run("Should send manual items to the worklist", func(t *testing.T) {
		sink := &capture{}
		server := httptest.NewServer(sink.handler())
		defer server.Close()
		r := NewRegistry()
		require.NoError(t, r.Register(&Handler{Ref: "wl", Kind: KindWorklist, Endpoint: server.URL}))
		a := New(r, Config{})

		result, err := a.AnnounceEnabled(ctx, manualItem("K2", "B"))
		require.NoError(t, err)
		assert.Nil(t, result)
		a.Wait()
		require.Len(t, sink.received(), 1)
	})
	t.Run("Should keep the item enabled when no route exists", func(t *testing.T) {
		a := New(NewRegistry(), Config{})
		result, err := a.AnnounceEnabled(ctx, manualItem("K3", "C"))
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}

func TestAnnouncer_Delivery(t *testing.T) {
	ctx := context.Background()
	t.Run("Should retry transient handler failures", func(t *testing.T) {
		sink := &capture{failures: 2}
		server := httptest.NewServer(sink.handler())
		defer server.Close()
		r := NewRegistry()
		require.NoError(t, r.Register(&Handler{Ref: "svc", Kind: KindService, Endpoint: server.URL}))
		a := New(r, Config{Retries: 4, Backoff: 5 * time.Millisecond})

		_, err := a.AnnounceEnabled(ctx, serviceItem("K4", "A", "svc"))
		require.NoError(t, err)
		a.Wait()
		require.Len(t, sink.received(), 1)
	})
	t.Run("Should notify cancellations on the item route", func(t *testing.T) {
		sink := &capture{}
		server := httptest.NewServer(sink.handler())
		defer server.Close()
		r := NewRegistry()
		require.NoError(t, r.Register(&Handler{Ref: "wl", Kind: KindWorklist, Endpoint: server.URL}))
		a := New(r, Config{})

		a.AnnounceCancelled(ctx, manualItem("K5", "A"))
		a.Wait()
		received := sink.received()
		require.Len(t, received, 1)
		assert.Equal(t, "workitem.cancelled", received[0].Event)
	})
	t.Run("Should broadcast case completion to every handler", func(t *testing.T) {
		first := &capture{}
		second := &capture{}
		serverA := httptest.NewServer(first.handler())
		defer serverA.Close()
		serverB := httptest.NewServer(second.handler())
		defer serverB.Close()
		r := NewRegistry()
		require.NoError(t, r.Register(&Handler{Ref: "wl", Kind: KindWorklist, Endpoint: serverA.URL}))
		require.NoError(t, r.Register(&Handler{Ref: "svc", Kind: KindService, Endpoint: serverB.URL}))
		a := New(r, Config{})

		a.AnnounceCaseCompleted(ctx, "K6", core.Document{"result": "ok"})
		a.Wait()
		require.Len(t, first.received(), 1)
		require.Len(t, second.received(), 1)
		assert.Equal(t, "case.completed", first.received()[0].Event)
	})
}

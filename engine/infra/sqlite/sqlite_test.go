package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/caseflow/engine/announce"
	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/eventlog"
	"github.com/caseflow/caseflow/engine/runner"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSpecRepo(t *testing.T) {
	ctx := context.Background()
	t.Run("Should round-trip specifications", func(t *testing.T) {
		repo := NewSpecRepo(newTestStore(t))
		require.NoError(t, repo.Save(ctx, &SpecRecord{
			ID: "orders-1", Name: "orders", Version: "1", Document: []byte("id: orders-1"),
		}))
		rec, err := repo.Get(ctx, "orders-1")
		require.NoError(t, err)
		assert.Equal(t, "orders", rec.Name)
		assert.Equal(t, []byte("id: orders-1"), rec.Document)
		assert.False(t, rec.CreatedAt.IsZero())
	})
	t.Run("Should reject duplicate ids", func(t *testing.T) {
		repo := NewSpecRepo(newTestStore(t))
		rec := &SpecRecord{ID: "dup", Name: "dup", Version: "1", Document: []byte("x")}
		require.NoError(t, repo.Save(ctx, rec))
		err := repo.Save(ctx, rec)
		require.ErrorIs(t, err, core.ErrConflict)
	})
	t.Run("Should list and delete", func(t *testing.T) {
		repo := NewSpecRepo(newTestStore(t))
		require.NoError(t, repo.Save(ctx, &SpecRecord{ID: "a", Name: "a", Version: "1", Document: []byte("a")}))
		require.NoError(t, repo.Save(ctx, &SpecRecord{ID: "b", Name: "b", Version: "1", Document: []byte("b")}))
		recs, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)

		require.NoError(t, repo.Delete(ctx, "a"))
		_, err = repo.Get(ctx, "a")
		require.ErrorIs(t, err, core.ErrNotFound)
		require.ErrorIs(t, repo.Delete(ctx, "a"), core.ErrNotFound)
	})
}

func sampleSnapshot(caseID string) *runner.Snapshot {
	return &runner.Snapshot{
		CaseID:  caseID,
		SpecID:  "orders-1",
		Status:  runner.StatusNormal,
		Marking: map[string][]string{"main:c1": {caseID}},
		Data:    core.Document{"amount": float64(120)},
		Subruns: []runner.SubrunState{
			{ScopePath: caseID + ".1", NetID: "sub", ParentTask: "P", ParentItem: caseID + ".1:P"},
		},
	}
}

func sampleItems(caseID string) []*workitem.Item {
	started := time.Now().UTC().Add(-time.Minute)
	expiry := time.Now().UTC().Add(time.Hour)
	first := workitem.New(caseID, caseID, "A", core.Document{"amount": float64(120)},
		&spec.ExecutionProfile{Interaction: spec.InteractionManual})
	first.Status = workitem.StatusExecuting
	first.StartedAt = &started
	first.HandlerRef = "worklist"
	first.TimerExpiry = &expiry
	second := workitem.New(caseID+".1", caseID, "B", nil, nil)
	second.ParentID = caseID + ":B"
	return []*workitem.Item{first, second}
}

func TestCaseRepo(t *testing.T) {
	ctx := context.Background()
	saveSpec := func(t *testing.T, store *Store) {
		t.Helper()
		require.NoError(t, NewSpecRepo(store).Save(ctx, &SpecRecord{
			ID: "orders-1", Name: "orders", Version: "1", Document: []byte("x"),
		}))
	}
	t.Run("Should round-trip a case with its work items", func(t *testing.T) {
		store := newTestStore(t)
		saveSpec(t, store)
		repo := NewCaseRepo(store)
		snap := sampleSnapshot("K1")
		items := sampleItems("K1")
		require.NoError(t, repo.SaveCase(ctx, snap, items))

		loaded, loadedItems, err := repo.LoadCase(ctx, "K1")
		require.NoError(t, err)
		assert.Equal(t, snap.Status, loaded.Status)
		assert.Equal(t, snap.Marking, loaded.Marking)
		assert.Equal(t, snap.Data, loaded.Data)
		assert.Equal(t, snap.Subruns, loaded.Subruns)
		require.Len(t, loadedItems, 2)
		byID := map[string]*workitem.Item{}
		for _, item := range loadedItems {
			byID[item.ID] = item
		}
		first := byID["K1:A"]
		require.NotNil(t, first)
		assert.Equal(t, workitem.StatusExecuting, first.Status)
		assert.Equal(t, "worklist", first.HandlerRef)
		assert.Equal(t, spec.InteractionManual, first.Profile.Interaction)
		require.NotNil(t, first.StartedAt)
		require.NotNil(t, first.TimerExpiry)
		second := byID["K1.1:B"]
		require.NotNil(t, second)
		assert.Equal(t, "K1:B", second.ParentID)
		assert.Nil(t, second.Profile)
	})
	t.Run("Should replace work items on every save", func(t *testing.T) {
		store := newTestStore(t)
		saveSpec(t, store)
		repo := NewCaseRepo(store)
		snap := sampleSnapshot("K2")
		require.NoError(t, repo.SaveCase(ctx, snap, sampleItems("K2")))
		require.NoError(t, repo.SaveCase(ctx, snap, sampleItems("K2")[:1]))

		_, items, err := repo.LoadCase(ctx, "K2")
		require.NoError(t, err)
		require.Len(t, items, 1)
	})
	t.Run("Should report missing cases", func(t *testing.T) {
		repo := NewCaseRepo(newTestStore(t))
		_, _, err := repo.LoadCase(ctx, "ghost")
		require.ErrorIs(t, err, core.ErrNotFound)
	})
	t.Run("Should list active cases only", func(t *testing.T) {
		store := newTestStore(t)
		saveSpec(t, store)
		repo := NewCaseRepo(store)
		running := sampleSnapshot("K3")
		done := sampleSnapshot("K4")
		done.Status = runner.StatusCompleted
		require.NoError(t, repo.SaveCase(ctx, running, nil))
		require.NoError(t, repo.SaveCase(ctx, done, nil))

		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "K3", active[0].CaseID)

		count, err := repo.CountActiveBySpec(ctx, "orders-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		completed, err := repo.ListByStatus(ctx, runner.StatusCompleted)
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, "K4", completed[0].CaseID)
	})
}

func TestHandlerRepo(t *testing.T) {
	ctx := context.Background()
	t.Run("Should round-trip handler registrations", func(t *testing.T) {
		repo := NewHandlerRepo(newTestStore(t))
		require.NoError(t, repo.Save(ctx, &announce.Handler{
			Ref: "wl", Name: "Worklist", Kind: announce.KindWorklist,
			Endpoint: "http://worklist.local", Token: "secret",
		}))
		require.NoError(t, repo.Save(ctx, &announce.Handler{
			Ref: "wl", Name: "Worklist v2", Kind: announce.KindWorklist,
			Endpoint: "http://worklist.local/v2",
		}))
		handlers, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, handlers, 1)
		assert.Equal(t, "Worklist v2", handlers[0].Name)
		assert.Empty(t, handlers[0].Token)

		require.NoError(t, repo.Delete(ctx, "wl"))
		handlers, err = repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, handlers)
	})
}

func TestEventRepo(t *testing.T) {
	ctx := context.Background()
	t.Run("Should keep append order per case", func(t *testing.T) {
		repo := NewEventRepo(newTestStore(t))
		require.NoError(t, repo.Append(ctx, eventlog.New(eventlog.KindCaseStarted, "K1")))
		require.NoError(t, repo.Append(ctx, eventlog.New(eventlog.KindWorkItemEnabled, "K1").
			WithTask("A").WithWorkItem("K1:A").WithPayload(core.Document{"n": float64(1)})))
		require.NoError(t, repo.Append(ctx, eventlog.New(eventlog.KindCaseStarted, "K2")))

		events, err := repo.ListByCase(ctx, "K1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, eventlog.KindCaseStarted, events[0].Kind)
		assert.Equal(t, eventlog.KindWorkItemEnabled, events[1].Kind)
		assert.Equal(t, "K1:A", events[1].WorkItemID)
		assert.Equal(t, core.Document{"n": float64(1)}, events[1].Payload)
	})
	t.Run("Should limit the global listing to the newest entries", func(t *testing.T) {
		repo := NewEventRepo(newTestStore(t))
		for range 5 {
			require.NoError(t, repo.Append(ctx, eventlog.New(eventlog.KindWorkItemEnabled, "K1")))
		}
		require.NoError(t, repo.Append(ctx, eventlog.New(eventlog.KindCaseCompleted, "K1")))

		events, err := repo.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, eventlog.KindCaseCompleted, events[1].Kind)
	})
}

const recoverySpec = `
id: recovery-1
name: recovery
version: "1"
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i: {flows: [{target: A}]}
      o: {}
    tasks:
      A:
        flows: [{target: o}]
        profile: {interaction: manual}
`

func TestStore_Recovery(t *testing.T) {
	ctx := context.Background()
	t.Run("Should resume a journalled case from a reopened database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.db")
		decoded, err := spec.Decode([]byte(recoverySpec))
		require.NoError(t, err)
		_, err = spec.Verify(decoded)
		require.NoError(t, err)

		store, err := NewStore(ctx, Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, NewSpecRepo(store).Save(ctx, &SpecRecord{
			ID: decoded.ID, Name: decoded.Name, Version: decoded.Version, Document: []byte(recoverySpec),
		}))
		repo := NewCaseRepo(store)
		c, err := runner.New(runner.Params{CaseID: "K9", Spec: decoded, Journal: repo})
		require.NoError(t, err)
		require.NoError(t, c.Start(ctx))
		require.NoError(t, store.Close())

		reopened, err := NewStore(ctx, Config{Path: path})
		require.NoError(t, err)
		defer reopened.Close()
		reopenedRepo := NewCaseRepo(reopened)
		snap, items, err := reopenedRepo.LoadCase(ctx, "K9")
		require.NoError(t, err)
		assert.Equal(t, runner.StatusNormal, snap.Status)

		restoredItems := workitem.NewRepository()
		for _, item := range items {
			restoredItems.Put(item)
		}
		restored, err := runner.Restore(runner.Params{
			CaseID: "K9", Spec: decoded, Items: restoredItems, Journal: reopenedRepo,
		}, snap)
		require.NoError(t, err)
		require.NoError(t, restored.Rekick(ctx))

		live := restored.LiveItems()
		require.Len(t, live, 1)
		assert.Equal(t, "K9:A", live[0].ID)

		_, err = restored.StartWorkItem(ctx, "K9:A", "worklist")
		require.NoError(t, err)
		_, err = restored.CompleteWorkItem(ctx, "K9:A", core.Document{}, false)
		require.NoError(t, err)
		assert.Equal(t, runner.StatusCompleted, restored.Status())

		final, _, err := reopenedRepo.LoadCase(ctx, "K9")
		require.NoError(t, err)
		assert.Equal(t, runner.StatusCompleted, final.Status)
	})
}

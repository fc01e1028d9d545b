package workitem

import (
	"testing"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeID(t *testing.T) {
	t.Run("Should format single-instance ids", func(t *testing.T) {
		assert.Equal(t, "K1:A", MakeID("K1", "A"))
	})
	t.Run("Should format multi-instance child ids", func(t *testing.T) {
		assert.Equal(t, "K3.2:M", MakeID("K3.2", "M"))
	})
}

func TestItem_Transition(t *testing.T) {
	t.Run("Should walk the normal lifecycle", func(t *testing.T) {
		item := New("K1", "K1", "A", core.Document{}, nil)
		require.NoError(t, item.Transition(StatusFired))
		require.NoError(t, item.Transition(StatusExecuting))
		require.NotNil(t, item.StartedAt)
		require.NoError(t, item.Transition(StatusComplete))
		assert.NotNil(t, item.CompletedAt)
		assert.True(t, item.Status.Terminal())
	})
	t.Run("Should reject completing an item that never started", func(t *testing.T) {
		item := New("K1", "K1", "A", core.Document{}, nil)
		err := item.Transition(StatusComplete)
		var illegal *core.IllegalTransition
		assert.ErrorAs(t, err, &illegal)
	})
	t.Run("Should allow withdraw only before execution", func(t *testing.T) {
		item := New("K1", "K1", "A", core.Document{}, nil)
		require.NoError(t, item.Transition(StatusWithdrawn))

		executing := New("K1", "K1", "B", core.Document{}, nil)
		require.NoError(t, executing.Transition(StatusFired))
		require.NoError(t, executing.Transition(StatusExecuting))
		assert.Error(t, executing.Transition(StatusWithdrawn))
	})
	t.Run("Should suspend and resume an executing item", func(t *testing.T) {
		item := New("K1", "K1", "A", core.Document{}, nil)
		require.NoError(t, item.Transition(StatusFired))
		require.NoError(t, item.Transition(StatusExecuting))
		require.NoError(t, item.Transition(StatusSuspended))
		require.NoError(t, item.Transition(StatusExecuting))
	})
	t.Run("Should not leave terminal states", func(t *testing.T) {
		item := New("K1", "K1", "A", core.Document{}, nil)
		require.NoError(t, item.Transition(StatusWithdrawn))
		assert.Error(t, item.Transition(StatusEnabled))
	})
}

func TestRepository(t *testing.T) {
	newItem := func(path, caseID, taskID string) *Item {
		return New(path, caseID, taskID, core.Document{}, nil)
	}

	t.Run("Should store and fetch by id", func(t *testing.T) {
		repo := NewRepository()
		repo.Put(newItem("K1", "K1", "A"))
		item, err := repo.Get("K1:A")
		require.NoError(t, err)
		assert.Equal(t, "A", item.TaskID)
	})
	t.Run("Should return NotFound for unknown ids", func(t *testing.T) {
		repo := NewRepository()
		_, err := repo.Get("K9:Z")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
	t.Run("Should isolate stored items from caller mutation", func(t *testing.T) {
		repo := NewRepository()
		item := newItem("K1", "K1", "A")
		repo.Put(item)
		item.Status = StatusFailed
		stored, err := repo.Get("K1:A")
		require.NoError(t, err)
		assert.Equal(t, StatusEnabled, stored.Status)
	})
	t.Run("Should index by case, task and status", func(t *testing.T) {
		repo := NewRepository()
		repo.Put(newItem("K1", "K1", "A"))
		repo.Put(newItem("K1.1", "K1", "M"))
		repo.Put(newItem("K2", "K2", "A"))

		assert.Len(t, repo.ListByCase("K1"), 2)
		assert.Len(t, repo.ListByTask("A"), 2)
		assert.Len(t, repo.ListByStatus(StatusEnabled), 3)
	})
	t.Run("Should refresh status index on update", func(t *testing.T) {
		repo := NewRepository()
		item := newItem("K1", "K1", "A")
		repo.Put(item)
		require.NoError(t, item.Transition(StatusFired))
		repo.Put(item)
		assert.Empty(t, repo.ListByStatus(StatusEnabled))
		assert.Len(t, repo.ListByStatus(StatusFired), 1)
	})
	t.Run("Should remove all items for a case", func(t *testing.T) {
		repo := NewRepository()
		repo.Put(newItem("K1", "K1", "A"))
		repo.Put(newItem("K1.1", "K1", "M"))
		repo.Put(newItem("K2", "K2", "A"))
		removed := repo.RemoveForCase("K1")
		assert.ElementsMatch(t, []string{"K1:A", "K1.1:M"}, removed)
		assert.Empty(t, repo.ListByCase("K1"))
		assert.Len(t, repo.ListByCase("K2"), 1)
	})
	t.Run("Should filter combined predicates", func(t *testing.T) {
		repo := NewRepository()
		repo.Put(newItem("K1", "K1", "A"))
		repo.Put(newItem("K2", "K2", "A"))
		caseID := "K2"
		taskID := "A"
		items := repo.List(&Filter{CaseID: &caseID, TaskID: &taskID})
		require.Len(t, items, 1)
		assert.Equal(t, "K2:A", items[0].ID)
	})
}

package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	t.Run("Should encode creation order in child paths", func(t *testing.T) {
		root := NewRoot("K1")
		first := root.NewChild()
		second := root.NewChild()
		assert.Equal(t, "K1.1", first.String())
		assert.Equal(t, "K1.2", second.String())
		assert.Equal(t, []*Identifier{first, second}, root.Children())
	})
	t.Run("Should resolve case id from any depth", func(t *testing.T) {
		root := NewRoot("K1")
		grandchild := root.NewChild().NewChild()
		assert.Equal(t, "K1", grandchild.CaseID())
		assert.Equal(t, "K1.1.1", grandchild.String())
	})
	t.Run("Should find descendants by path", func(t *testing.T) {
		root := NewRoot("K1")
		root.NewChild()
		target := root.NewChild().NewChild()
		assert.Same(t, target, root.Find("K1.2.1"))
		assert.Nil(t, root.Find("K1.3"))
	})
	t.Run("Should rebuild sparse paths with aligned ordinals", func(t *testing.T) {
		root := NewRoot("K1")
		id, err := root.EnsurePath("K1.3")
		require.NoError(t, err)
		assert.Equal(t, "K1.3", id.String())
		assert.Len(t, root.Children(), 3)
	})
	t.Run("Should reject paths outside the root", func(t *testing.T) {
		root := NewRoot("K1")
		_, err := root.EnsurePath("K2.1")
		assert.Error(t, err)
	})
}

func TestMarking(t *testing.T) {
	t.Run("Should keep location set and multiset in sync", func(t *testing.T) {
		m := NewMarking()
		root := NewRoot("K1")
		m.Add("c1", root)
		assert.True(t, root.HasLocation("c1"))
		assert.True(t, m.Contains("c1", "K1"))
		m.Remove("c1", root)
		assert.False(t, root.HasLocation("c1"))
		assert.False(t, m.Contains("c1", "K1"))
	})
	t.Run("Should hold at most one slot per element per token", func(t *testing.T) {
		m := NewMarking()
		root := NewRoot("K1")
		m.Add("c1", root)
		m.Add("c1", root)
		assert.Equal(t, 1, m.Count("c1", "K1"))
	})
	t.Run("Should count child tokens under the same case", func(t *testing.T) {
		m := NewMarking()
		root := NewRoot("K1")
		m.Add("T.active", root.NewChild())
		m.Add("T.active", root.NewChild())
		assert.Equal(t, 2, m.Count("T.active", "K1"))
	})
	t.Run("Should purge all case tokens from an element", func(t *testing.T) {
		m := NewMarking()
		k1 := NewRoot("K1")
		k2 := NewRoot("K2")
		m.Add("c1", k1.NewChild())
		m.Add("c1", k1.NewChild())
		m.Add("c1", k2)
		m.RemoveAll("c1", "K1")
		assert.False(t, m.Contains("c1", "K1"))
		assert.True(t, m.Contains("c1", "K2"))
	})
	t.Run("Should snapshot per-case counts", func(t *testing.T) {
		m := NewMarking()
		root := NewRoot("K1")
		m.Add("c1", root)
		m.Add("T.active", root.NewChild())
		snap := m.Snapshot("K1")
		assert.Equal(t, map[string]int{"c1": 1, "T.active": 1}, snap)
	})
	t.Run("Should round-trip through export and import", func(t *testing.T) {
		m := NewMarking()
		root := NewRoot("K1")
		m.Add("c1", root)
		m.Add("T.active", root.NewChild())
		m.Add("T.active", root.NewChild())

		exported := m.Export()
		restoredRoot := NewRoot("K1")
		restored, err := Import(restoredRoot, exported)
		require.NoError(t, err)
		assert.Equal(t, m.Snapshot("K1"), restored.Snapshot("K1"))
		assert.Len(t, restoredRoot.Children(), 2)
	})
}

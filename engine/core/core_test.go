package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	t.Run("Should generate unique sortable ids", func(t *testing.T) {
		a, err := NewID()
		require.NoError(t, err)
		b, err := NewID()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		assert.False(t, a.IsZero())
	})
	t.Run("Should report zero value", func(t *testing.T) {
		var id ID
		assert.True(t, id.IsZero())
	})
}

func TestDocument(t *testing.T) {
	t.Run("Should clone deeply", func(t *testing.T) {
		doc := Document{"order": map[string]any{"total": 42.0}}
		cloned := doc.Clone()
		cloned["order"].(map[string]any)["total"] = 1.0
		assert.Equal(t, 42.0, doc["order"].(map[string]any)["total"])
	})
	t.Run("Should resolve dotted paths", func(t *testing.T) {
		doc := Document{"order": map[string]any{"status": "approved"}}
		val, ok := doc.Get("order.status")
		require.True(t, ok)
		assert.Equal(t, "approved", val)
	})
	t.Run("Should report missing paths", func(t *testing.T) {
		doc := Document{"a": 1}
		_, ok := doc.Get("a.b.c")
		assert.False(t, ok)
	})
	t.Run("Should merge with replacement", func(t *testing.T) {
		doc := Document{"a": 1, "b": 2}
		doc.Merge(Document{"b": 3, "c": 4})
		assert.Equal(t, 3, doc["b"])
		assert.Equal(t, 4, doc["c"])
	})
	t.Run("Should round-trip through JSON", func(t *testing.T) {
		doc := Document{"k": "v"}
		raw, err := doc.JSON()
		require.NoError(t, err)
		back, err := DocumentFromJSON(raw)
		require.NoError(t, err)
		assert.Equal(t, "v", back["k"])
	})
	t.Run("Should decode empty payload to empty document", func(t *testing.T) {
		doc, err := DocumentFromJSON(nil)
		require.NoError(t, err)
		assert.NotNil(t, doc)
		assert.Empty(t, doc)
	})
}

func TestErrors(t *testing.T) {
	t.Run("Should unwrap wrapped predicate errors", func(t *testing.T) {
		inner := errors.New("boom")
		err := &PredicateEvaluationError{TaskID: "A", Predicate: "x > 1", Err: inner}
		assert.ErrorIs(t, err, inner)
	})
	t.Run("Should describe illegal transitions", func(t *testing.T) {
		err := &IllegalTransition{Subject: "work item K1:A", From: "Complete", Op: "start"}
		assert.Contains(t, err.Error(), "Complete")
		assert.Contains(t, err.Error(), "start")
	})
}

func TestNormalizeProblem(t *testing.T) {
	t.Run("Should fill canonical defaults", func(t *testing.T) {
		p := NormalizeProblem(&Problem{})
		assert.Equal(t, 500, p.Status)
		assert.Equal(t, "Internal Server Error", p.Title)
		assert.Equal(t, "about:blank", p.Type)
	})
	t.Run("Should include code in body when set", func(t *testing.T) {
		body := BuildProblemBody(NormalizeProblem(&Problem{Status: 404, Code: "case_not_found"}))
		assert.Equal(t, "case_not_found", body["code"])
	})
}

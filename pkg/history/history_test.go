package history_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AISecurityAssurance/cortex-arema/pkg/history"
)

type snap struct {
	Items []string
}

func TestSetAndUndoRedo(t *testing.T) {
	h := history.New(snap{})
	require.False(t, h.CanUndo())
	require.False(t, h.CanRedo())

	require.True(t, h.Set(snap{Items: []string{"a"}}))
	require.True(t, h.Set(snap{Items: []string{"a", "b"}}))
	assert.True(t, h.CanUndo())

	require.True(t, h.Undo())
	assert.Equal(t, []string{"a"}, h.Present().Items)
	assert.True(t, h.CanRedo())

	require.True(t, h.Redo())
	assert.Equal(t, []string{"a", "b"}, h.Present().Items)
	assert.False(t, h.CanRedo())
}

func TestSetDeepEqualIsNoOp(t *testing.T) {
	h := history.New(snap{Items: []string{"a"}})
	h.Set(snap{Items: []string{"a", "b"}})
	h.Undo()

	pastBefore, futureBefore := h.Past(), h.Future()
	changed := h.Set(snap{Items: []string{"a"}})

	assert.False(t, changed)
	assert.Equal(t, pastBefore, h.Past())
	assert.Equal(t, futureBefore, h.Future())
	assert.True(t, h.CanRedo(), "no-op push must not clear redo")
}

func TestEqualityIsOrderSensitive(t *testing.T) {
	h := history.New(snap{Items: []string{"a", "b"}})
	assert.True(t, h.Set(snap{Items: []string{"b", "a"}}))
}

func TestUpdateFunctional(t *testing.T) {
	h := history.New(snap{})
	h.Update(func(prev snap) snap {
		return snap{Items: append(append([]string(nil), prev.Items...), "x")}
	})
	h.Update(func(prev snap) snap {
		return snap{Items: append(append([]string(nil), prev.Items...), "y")}
	})
	assert.Equal(t, []string{"x", "y"}, h.Present().Items)
	assert.Len(t, h.Past(), 2)
}

func TestNewMutationDiscardsFuture(t *testing.T) {
	h := history.New(snap{})
	h.Set(snap{Items: []string{"1"}})
	h.Set(snap{Items: []string{"2"}})
	h.Undo()
	require.True(t, h.CanRedo())

	h.Set(snap{Items: []string{"3"}})
	assert.False(t, h.CanRedo())
	assert.Empty(t, h.Future())
}

func TestUndoRedoEmptyAreNoOps(t *testing.T) {
	h := history.New(snap{Items: []string{"only"}})
	assert.False(t, h.Undo())
	assert.False(t, h.Redo())
	assert.Equal(t, []string{"only"}, h.Present().Items)
}

func TestUndoThenRedoRestoresExactSnapshot(t *testing.T) {
	h := history.New(snap{})
	steps := [][]string{{"a"}, {"a", "b"}, {"c"}, {"c", "d", "e"}}
	for _, s := range steps {
		h.Set(snap{Items: s})
		before := h.Present()
		h.Undo()
		h.Redo()
		assert.Equal(t, before, h.Present())
	}
}

func TestWithLimit(t *testing.T) {
	h := history.New(0, history.WithLimit[int](2))
	for i := 1; i <= 5; i++ {
		h.Set(i)
	}
	assert.Equal(t, []int{3, 4}, h.Past())
	h.Undo()
	h.Undo()
	assert.False(t, h.CanUndo())
	assert.Equal(t, 3, h.Present())
}

func TestWithEqual(t *testing.T) {
	// Compare by length only.
	h := history.New(snap{Items: []string{"a"}}, history.WithEqual(func(a, b snap) bool {
		return len(a.Items) == len(b.Items)
	}))
	assert.False(t, h.Set(snap{Items: []string{"z"}}))
	assert.True(t, h.Set(snap{Items: []string{"z", "y"}}))
}

func TestReset(t *testing.T) {
	h := history.New(1)
	h.Set(2)
	h.Reset(10)
	assert.Equal(t, 10, h.Present())
	assert.False(t, h.CanUndo())
}

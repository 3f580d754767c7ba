package jot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotdb/jot/jdt"
)

func TestStoreStructuralSharing(t *testing.T) {
	s := newStore()
	a := newMapNode("a")
	b := newMapNode("b")
	s = s.put(a).put(b)

	a2 := a.with("x", jdt.Int(1))
	s2 := s.put(a2)

	gotB, ok := s2.Get("b")
	require.True(t, ok)
	assert.Same(t, Node(b), gotB)

	gotA, _ := s.Get("a")
	assert.Same(t, Node(a), gotA)
	gotA2, _ := s2.Get("a")
	assert.Same(t, Node(a2), gotA2)
}

func TestMapNodeEdits(t *testing.T) {
	n := newMapNode("m")
	n2 := n.with("bird", jdt.Str("magpie"))

	_, ok := n.Get("bird")
	assert.False(t, ok)

	v, ok := n2.Get("bird")
	require.True(t, ok)
	assert.Equal(t, "magpie", v.StrVal())

	n3 := n2.without("bird")
	_, ok = n3.Get("bird")
	assert.False(t, ok)
	assert.NotEqual(t, n2.Stamp(), n3.Stamp())
}

func TestListNodeEdits(t *testing.T) {
	n := newListNode("l")
	e1 := jdt.ElemID{Actor: "alice", Counter: 1}
	e2 := jdt.ElemID{Actor: "alice", Counter: 2}
	n = n.withInsert(0, jdt.Str("a"), e1)
	n = n.withInsert(1, jdt.Str("b"), e2)

	require.Equal(t, 2, n.Len())
	assert.Equal(t, []jdt.ElemID{e1, e2}, n.ElemIDs())
	assert.Equal(t, 1, n.IndexOf(e2))

	n = n.withSet(0, jdt.Str("c"))
	v, _ := n.At(0)
	assert.Equal(t, "c", v.StrVal())

	n = n.withRemove(0)
	require.Equal(t, 1, n.Len())
	v, _ = n.At(0)
	assert.Equal(t, "b", v.StrVal())
	assert.Equal(t, -1, n.IndexOf(e1))
}

func TestStoreChild(t *testing.T) {
	s := newStore()
	m := newMapNode("m").with("k", jdt.Int(1))
	e := jdt.ElemID{Actor: "alice", Counter: 1}
	l := newListNode("l").withInsert(0, jdt.Str("x"), e)
	s = s.put(m).put(l)

	v, ok := s.Child("m", "k")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int64())

	v, ok = s.Child("l", e.String())
	require.True(t, ok)
	assert.Equal(t, "x", v.StrVal())

	_, ok = s.Child("l", "alice:9")
	assert.False(t, ok)
	_, ok = s.Child("nope", "k")
	assert.False(t, ok)
}

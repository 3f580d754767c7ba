package jot

import (
	"sort"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/cespare/xxhash"

	"github.com/jotdb/jot/jdt"
)

// Node stamps are minted globally so a rebuilt node is always
// distinguishable from the one it replaced, while a shared subtree
// keeps its stamp across document versions.
var nodeStamps atomic.Uint64

func nextStamp() uint64 {
	return nodeStamps.Add(1)
}

type objectIDHasher struct{}

func (objectIDHasher) Hash(id jdt.ObjectID) uint32 {
	return uint32(xxhash.Sum64([]byte(id)))
}

func (objectIDHasher) Equal(a, b jdt.ObjectID) bool {
	return a == b
}

func newObjectMap[V any]() *immutable.Map[jdt.ObjectID, V] {
	return immutable.NewMap[jdt.ObjectID, V](objectIDHasher{})
}

// Node is a materialised object: a map of fields or a list of
// elements. Nodes are immutable; edits produce new nodes.
type Node interface {
	ObjectID() jdt.ObjectID
	Stamp() uint64
	isNode()
}

type MapNode struct {
	id     jdt.ObjectID
	stamp  uint64
	fields *immutable.Map[string, jdt.Value]
}

func newMapNode(id jdt.ObjectID) *MapNode {
	return &MapNode{
		id:     id,
		stamp:  nextStamp(),
		fields: immutable.NewMap[string, jdt.Value](nil),
	}
}

func (n *MapNode) ObjectID() jdt.ObjectID { return n.id }
func (n *MapNode) Stamp() uint64          { return n.stamp }
func (n *MapNode) isNode()                {}

func (n *MapNode) Len() int {
	return n.fields.Len()
}

func (n *MapNode) Get(key string) (jdt.Value, bool) {
	return n.fields.Get(key)
}

func (n *MapNode) Keys() []string {
	keys := make([]string, 0, n.fields.Len())
	itr := n.fields.Iterator()
	for !itr.Done() {
		k, _, _ := itr.Next()
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (n *MapNode) with(key string, v jdt.Value) *MapNode {
	return &MapNode{id: n.id, stamp: nextStamp(), fields: n.fields.Set(key, v)}
}

func (n *MapNode) without(key string) *MapNode {
	return &MapNode{id: n.id, stamp: nextStamp(), fields: n.fields.Delete(key)}
}

func (n *MapNode) refreshed() *MapNode {
	return &MapNode{id: n.id, stamp: nextStamp(), fields: n.fields}
}

type ListNode struct {
	id      jdt.ObjectID
	stamp   uint64
	elems   *immutable.List[jdt.Value]
	elemIDs *immutable.List[jdt.ElemID]
}

func newListNode(id jdt.ObjectID) *ListNode {
	return &ListNode{
		id:      id,
		stamp:   nextStamp(),
		elems:   immutable.NewList[jdt.Value](),
		elemIDs: immutable.NewList[jdt.ElemID](),
	}
}

func (n *ListNode) ObjectID() jdt.ObjectID { return n.id }
func (n *ListNode) Stamp() uint64          { return n.stamp }
func (n *ListNode) isNode()                {}

func (n *ListNode) Len() int {
	return n.elems.Len()
}

func (n *ListNode) At(i int) (jdt.Value, bool) {
	if i < 0 || i >= n.elems.Len() {
		return jdt.Value{}, false
	}
	return n.elems.Get(i), true
}

func (n *ListNode) ElemIDAt(i int) (jdt.ElemID, bool) {
	if i < 0 || i >= n.elemIDs.Len() {
		return jdt.ElemID{}, false
	}
	return n.elemIDs.Get(i), true
}

// IndexOf returns the position of the element with the given id,
// or -1.
func (n *ListNode) IndexOf(elem jdt.ElemID) int {
	for i := 0; i < n.elemIDs.Len(); i++ {
		if n.elemIDs.Get(i) == elem {
			return i
		}
	}
	return -1
}

func (n *ListNode) ElemIDs() []jdt.ElemID {
	out := make([]jdt.ElemID, n.elemIDs.Len())
	for i := range out {
		out[i] = n.elemIDs.Get(i)
	}
	return out
}

func (n *ListNode) withSet(i int, v jdt.Value) *ListNode {
	return &ListNode{
		id:      n.id,
		stamp:   nextStamp(),
		elems:   n.elems.Set(i, v),
		elemIDs: n.elemIDs,
	}
}

func (n *ListNode) withInsert(i int, v jdt.Value, elem jdt.ElemID) *ListNode {
	return &ListNode{
		id:      n.id,
		stamp:   nextStamp(),
		elems:   listInsert(n.elems, i, v),
		elemIDs: listInsert(n.elemIDs, i, elem),
	}
}

func (n *ListNode) withRemove(i int) *ListNode {
	return &ListNode{
		id:      n.id,
		stamp:   nextStamp(),
		elems:   listRemove(n.elems, i),
		elemIDs: listRemove(n.elemIDs, i),
	}
}

func (n *ListNode) refreshed() *ListNode {
	return &ListNode{id: n.id, stamp: nextStamp(), elems: n.elems, elemIDs: n.elemIDs}
}

func listInsert[V any](l *immutable.List[V], i int, v V) *immutable.List[V] {
	b := immutable.NewListBuilder[V]()
	for j := 0; j < i; j++ {
		b.Append(l.Get(j))
	}
	b.Append(v)
	for j := i; j < l.Len(); j++ {
		b.Append(l.Get(j))
	}
	return b.List()
}

func listRemove[V any](l *immutable.List[V], i int) *immutable.List[V] {
	b := immutable.NewListBuilder[V]()
	for j := 0; j < l.Len(); j++ {
		if j != i {
			b.Append(l.Get(j))
		}
	}
	return b.List()
}

// Store is the materialised object cache, a persistent map keyed by
// object id. Versions share untouched nodes by reference.
type Store struct {
	objects *immutable.Map[jdt.ObjectID, Node]
}

func newStore() *Store {
	objects := newObjectMap[Node]()
	objects = objects.Set(jdt.RootObjectID, newMapNode(jdt.RootObjectID))
	return &Store{objects: objects}
}

func (s *Store) Get(id jdt.ObjectID) (Node, bool) {
	return s.objects.Get(id)
}

func (s *Store) Len() int {
	return s.objects.Len()
}

func (s *Store) put(n Node) *Store {
	return &Store{objects: s.objects.Set(n.ObjectID(), n)}
}

// Child resolves one step down from an object: a map field, or a list
// element addressed by its elem id.
func (s *Store) Child(id jdt.ObjectID, key string) (jdt.Value, bool) {
	node, ok := s.objects.Get(id)
	if !ok {
		return jdt.Value{}, false
	}
	switch n := node.(type) {
	case *MapNode:
		return n.Get(key)
	case *ListNode:
		elem, err := jdt.ParseElemID(key)
		if err != nil {
			return jdt.Value{}, false
		}
		i := n.IndexOf(elem)
		if i < 0 {
			return jdt.Value{}, false
		}
		return n.At(i)
	}
	return jdt.Value{}, false
}

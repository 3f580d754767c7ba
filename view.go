package jot

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jotdb/jot/jdt"
)

const defaultViewMemoSize = 8192

var (
	viewMemoMu  sync.Mutex
	viewMemoCap = defaultViewMemoSize
	renderMemo  *lru.Cache[uint64, any]
)

func setViewMemoSize(n int) {
	viewMemoMu.Lock()
	defer viewMemoMu.Unlock()
	viewMemoCap = n
	if renderMemo != nil {
		renderMemo.Resize(n)
	}
}

func viewMemo() *lru.Cache[uint64, any] {
	viewMemoMu.Lock()
	defer viewMemoMu.Unlock()
	if renderMemo == nil {
		renderMemo, _ = lru.New[uint64, any](viewMemoCap)
	}
	return renderMemo
}

/*
	Materialise projects the rendered view onto plain host data:
	map[string]any, []any, and scalars, with counters as Counter and
	timestamps as time.Time.

	Subtrees are memoised by node stamp, so after a small patch only
	the changed objects and their ancestors are rebuilt; an untouched
	sibling comes back as the very same map or slice as before, which
	callers can use as a cheap did-it-change test. Treat the result as
	read-only.
*/
func (d *Doc) Materialise() map[string]any {
	v := d.materialiseObject(jdt.RootObjectID)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// MaterialiseObject renders one object subtree, or nil if the id is
// not cached.
func (d *Doc) MaterialiseObject(id jdt.ObjectID) any {
	return d.materialiseObject(id)
}

func (d *Doc) materialiseObject(id jdt.ObjectID) any {
	node, ok := d.rendered.Get(id)
	if !ok {
		return nil
	}
	memo := viewMemo()
	if v, hit := memo.Get(node.Stamp()); hit {
		return v
	}
	var out any
	switch n := node.(type) {
	case *MapNode:
		m := make(map[string]any, n.Len())
		itr := n.fields.Iterator()
		for !itr.Done() {
			k, v, _ := itr.Next()
			m[k] = d.materialiseValue(v)
		}
		out = m
	case *ListNode:
		l := make([]any, n.Len())
		for i := range l {
			v, _ := n.At(i)
			l[i] = d.materialiseValue(v)
		}
		out = l
	}
	memo.Add(node.Stamp(), out)
	return out
}

func (d *Doc) materialiseValue(v jdt.Value) any {
	if v.IsRef() {
		return d.materialiseObject(v.RefID())
	}
	return v.Interface()
}

package jot

import (
	"fmt"

	"github.com/benbjohnson/immutable"

	"github.com/jotdb/jot/jdt"
	joterr "github.com/jotdb/jot/jot_errors"
	"github.com/jotdb/jot/utils"
)

// docState folds ops and diffs into one version of the materialised
// view. It accumulates new store/inbound/conflicts/maxElem values and
// remembers which objects were touched so finish() can re-stamp their
// ancestor chain (a changed child invalidates every enclosing object
// for render memoisation, even though the parents' contents are
// unchanged).
type docState struct {
	store     *Store
	inbound   *immutable.Map[jdt.ObjectID, inboundEntry]
	conflicts *immutable.Map[jdt.ObjectID, conflictSet]
	maxElem   *immutable.Map[jdt.ObjectID, uint64]
	touched   map[jdt.ObjectID]struct{}
}

func (d *Doc) stateFrom(store *Store) *docState {
	return &docState{
		store:     store,
		inbound:   d.inbound,
		conflicts: d.conflicts,
		maxElem:   d.maxElem,
		touched:   make(map[jdt.ObjectID]struct{}),
	}
}

func (st *docState) node(id jdt.ObjectID) (Node, bool) {
	return st.store.Get(id)
}

func (st *docState) putNode(n Node) {
	st.store = st.store.put(n)
	st.touched[n.ObjectID()] = struct{}{}
}

func (st *docState) bumpMaxElem(obj jdt.ObjectID, ctr uint64) {
	cur, _ := st.maxElem.Get(obj)
	if ctr > cur {
		st.maxElem = st.maxElem.Set(obj, ctr)
	}
}

// inView reports whether an object hangs off the root in the current
// materialised view. Conflicted alternates and not-yet-linked
// literals live in the cache without an inbound chain.
func (st *docState) inView(obj jdt.ObjectID) bool {
	for hops := 0; obj != jdt.RootObjectID; hops++ {
		if hops > st.store.Len() {
			return false
		}
		ent, ok := st.inbound.Get(obj)
		if !ok {
			return false
		}
		obj = ent.parent
	}
	return true
}

// setInboundTree records the reverse pointer for a newly visible child
// and everything reachable under it. Contents written before the link
// op had no view position yet.
func (st *docState) setInboundTree(child, parent jdt.ObjectID, key string) {
	st.inbound = st.inbound.Set(child, inboundEntry{parent: parent, key: key})
	node, ok := st.store.Get(child)
	if !ok {
		return
	}
	switch n := node.(type) {
	case *MapNode:
		itr := n.fields.Iterator()
		for !itr.Done() {
			k, v, _ := itr.Next()
			if v.IsRef() {
				st.setInboundTree(v.RefID(), child, k)
			}
		}
	case *ListNode:
		for i := 0; i < n.Len(); i++ {
			v, _ := n.At(i)
			if v.IsRef() {
				elem, _ := n.ElemIDAt(i)
				st.setInboundTree(v.RefID(), child, elem.String())
			}
		}
	}
}

func (st *docState) dropInboundTree(child jdt.ObjectID) {
	if _, ok := st.inbound.Get(child); !ok {
		return
	}
	st.inbound = st.inbound.Delete(child)
	node, ok := st.store.Get(child)
	if !ok {
		return
	}
	switch n := node.(type) {
	case *MapNode:
		itr := n.fields.Iterator()
		for !itr.Done() {
			_, v, _ := itr.Next()
			if v.IsRef() {
				st.dropInboundTree(v.RefID())
			}
		}
	case *ListNode:
		for i := 0; i < n.Len(); i++ {
			v, _ := n.At(i)
			if v.IsRef() {
				st.dropInboundTree(v.RefID())
			}
		}
	}
}

func (st *docState) clearConflict(obj jdt.ObjectID, key string) {
	cs, ok := st.conflicts.Get(obj)
	if !ok {
		return
	}
	if _, ok := cs[key]; !ok {
		return
	}
	cs = cs.clone()
	delete(cs, key)
	if len(cs) == 0 {
		st.conflicts = st.conflicts.Delete(obj)
	} else {
		st.conflicts = st.conflicts.Set(obj, cs)
	}
}

func (st *docState) setConflictBucket(obj jdt.ObjectID, key string, bucket map[jdt.ActorID]jdt.Value) {
	cs, ok := st.conflicts.Get(obj)
	if ok {
		cs = cs.clone()
	} else {
		cs = make(conflictSet)
	}
	cs[key] = bucket
	st.conflicts = st.conflicts.Set(obj, cs)
}

// afterWrite keeps inbound and conflict state in step with one field
// write. key is the map key or the elem id string for lists.
func (st *docState) afterWrite(obj jdt.ObjectID, key string, old, val jdt.Value) {
	if old.IsRef() && (!val.IsRef() || val.RefID() != old.RefID()) {
		st.dropInboundTree(old.RefID())
	}
	if val.IsRef() && st.inView(obj) {
		st.setInboundTree(val.RefID(), obj, key)
	}
	st.clearConflict(obj, key)
}

// writeKey assigns a value at a map key or list elem id.
func (st *docState) writeKey(obj jdt.ObjectID, key string, val jdt.Value) error {
	node, ok := st.node(obj)
	if !ok {
		return fmt.Errorf("%w: unknown object %s", joterr.ErrNoSuchField, obj)
	}
	switch n := node.(type) {
	case *MapNode:
		old, _ := n.Get(key)
		st.putNode(n.with(key, val))
		st.afterWrite(obj, key, old, val)
	case *ListNode:
		elem, err := jdt.ParseElemID(key)
		if err != nil {
			return err
		}
		i := n.IndexOf(elem)
		if i < 0 {
			return fmt.Errorf("%w: no element %s in %s", joterr.ErrNoSuchField, key, obj)
		}
		old, _ := n.At(i)
		st.putNode(n.withSet(i, val))
		st.afterWrite(obj, key, old, val)
	}
	return nil
}

// applyOp folds one frontend op into the state. In strict mode any
// inapplicable op is an error; the lenient mode used when replaying
// optimistic requests over fresh authoritative state skips ops whose
// target has meanwhile disappeared.
func (st *docState) applyOp(actor jdt.ActorID, op Op, strict bool, log utils.Logger) error {
	fail := func(err error) error {
		if strict {
			return err
		}
		log.Debug("skipping op during replay", "action", op.Action, "obj", op.Obj, "reason", err)
		return nil
	}
	switch op.Action {
	case ActionMakeMap:
		st.putNode(newMapNode(op.Obj))
	case ActionMakeList:
		st.putNode(newListNode(op.Obj))
	case ActionLink:
		child, ok := op.Value.(string)
		if !ok {
			return fail(fmt.Errorf("link op value is not an object id"))
		}
		if err := st.writeKey(op.Obj, op.Key, jdt.Ref(jdt.ObjectID(child))); err != nil {
			return fail(err)
		}
	case ActionIns:
		node, ok := st.node(op.Obj)
		if !ok {
			return fail(fmt.Errorf("unknown list %s", op.Obj))
		}
		list, ok := node.(*ListNode)
		if !ok {
			return fail(joterr.ErrNotAList)
		}
		pos := 0
		if op.Key != jdt.HeadSentinel {
			pred, err := jdt.ParseElemID(op.Key)
			if err != nil {
				return fail(err)
			}
			i := list.IndexOf(pred)
			if i < 0 {
				return fail(fmt.Errorf("insertion predecessor %s gone from %s", op.Key, op.Obj))
			}
			pos = i + 1
		}
		elem := jdt.ElemID{Actor: actor, Counter: op.Elem}
		st.putNode(list.withInsert(pos, jdt.Null(), elem))
		st.bumpMaxElem(op.Obj, op.Elem)
	case ActionSet:
		val, ok := jdt.FromWire(op.Value, op.Datatype)
		if !ok {
			return fail(joterr.ErrUnsupportedValue)
		}
		if err := st.writeKey(op.Obj, op.Key, val); err != nil {
			return fail(err)
		}
	case ActionDel:
		node, ok := st.node(op.Obj)
		if !ok {
			return fail(fmt.Errorf("unknown object %s", op.Obj))
		}
		switch n := node.(type) {
		case *MapNode:
			old, had := n.Get(op.Key)
			if !had {
				return fail(fmt.Errorf("%w: %s", joterr.ErrNoSuchField, op.Key))
			}
			st.putNode(n.without(op.Key))
			if old.IsRef() {
				st.dropInboundTree(old.RefID())
			}
			st.clearConflict(op.Obj, op.Key)
		case *ListNode:
			elem, err := jdt.ParseElemID(op.Key)
			if err != nil {
				return fail(err)
			}
			i := n.IndexOf(elem)
			if i < 0 {
				return fail(fmt.Errorf("%w: %s", joterr.ErrNoSuchField, op.Key))
			}
			old, _ := n.At(i)
			st.putNode(n.withRemove(i))
			if old.IsRef() {
				st.dropInboundTree(old.RefID())
			}
			st.clearConflict(op.Obj, op.Key)
		}
	case ActionInc:
		cur, ok := st.store.Child(op.Obj, op.Key)
		if !ok {
			return fail(fmt.Errorf("%w: %s", joterr.ErrNoSuchField, op.Key))
		}
		if !cur.IsCounter() {
			return fail(joterr.ErrNotACounter)
		}
		delta, ok := opInt(op.Value)
		if !ok {
			return fail(fmt.Errorf("inc op delta is not a number"))
		}
		if err := st.writeKey(op.Obj, op.Key, jdt.CounterOf(cur.Int64()+delta)); err != nil {
			return fail(err)
		}
	default:
		return fail(fmt.Errorf("unknown op action %q", op.Action))
	}
	return nil
}

func opInt(value any) (int64, bool) {
	switch t := value.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	}
	return 0, false
}

// applyDiff folds one backend diff into the state. Diffs are trusted
// to be pre-validated; anything still inapplicable (a stale index, an
// unknown object) is a malformed patch.
func (st *docState) applyDiff(diff Diff) error {
	switch diff.Action {
	case DiffCreate:
		switch diff.Type {
		case ObjTypeMap, ObjTypeTable:
			st.putNode(newMapNode(diff.Obj))
		case ObjTypeList, ObjTypeText:
			st.putNode(newListNode(diff.Obj))
		}

	case DiffSet:
		val, err := diffValue(diff.Value, diff.Datatype, diff.Link)
		if err != nil {
			return err
		}
		key, kerr := st.diffKey(diff)
		if kerr != nil {
			return kerr
		}
		if err := st.writeKey(diff.Obj, key, val); err != nil {
			return fmt.Errorf("%w: %v", joterr.ErrMalformedPatch, err)
		}
		if len(diff.Conflicts) > 0 {
			bucket := make(map[jdt.ActorID]jdt.Value, len(diff.Conflicts))
			for _, c := range diff.Conflicts {
				cv, cerr := diffValue(c.Value, c.Datatype, c.Link)
				if cerr != nil {
					return cerr
				}
				bucket[c.Actor] = cv
			}
			st.setConflictBucket(diff.Obj, key, bucket)
		}

	case DiffInsert:
		node, ok := st.node(diff.Obj)
		if !ok {
			return fmt.Errorf("%w: insert into unknown object %s", joterr.ErrMalformedPatch, diff.Obj)
		}
		list, ok := node.(*ListNode)
		if !ok {
			return fmt.Errorf("%w: insert into non-list %s", joterr.ErrMalformedPatch, diff.Obj)
		}
		val, err := diffValue(diff.Value, diff.Datatype, diff.Link)
		if err != nil {
			return err
		}
		elem, err := jdt.ParseElemID(diff.ElemID)
		if err != nil {
			return fmt.Errorf("%w: %v", joterr.ErrMalformedPatch, err)
		}
		pos := *diff.Index
		if pos < 0 || pos > list.Len() {
			return fmt.Errorf("%w: insert index %d out of range", joterr.ErrMalformedPatch, pos)
		}
		// Concurrent insertions at one position converge by elem id
		// order (counter first, then actor; later wins the earlier
		// slot), not by patch arrival order.
		for pos < list.Len() {
			at, _ := list.ElemIDAt(pos)
			if !elem.Less(at) {
				break
			}
			pos++
		}
		st.putNode(list.withInsert(pos, val, elem))
		if val.IsRef() && st.inView(diff.Obj) {
			st.setInboundTree(val.RefID(), diff.Obj, elem.String())
		}
		st.bumpMaxElem(diff.Obj, elem.Counter)

	case DiffRemove:
		node, ok := st.node(diff.Obj)
		if !ok {
			return fmt.Errorf("%w: remove from unknown object %s", joterr.ErrMalformedPatch, diff.Obj)
		}
		switch n := node.(type) {
		case *MapNode:
			if diff.Key == nil {
				return fmt.Errorf("%w: map remove without key", joterr.ErrMalformedPatch)
			}
			old, _ := n.Get(*diff.Key)
			st.putNode(n.without(*diff.Key))
			if old.IsRef() {
				st.dropInboundTree(old.RefID())
			}
			st.clearConflict(diff.Obj, *diff.Key)
		case *ListNode:
			if diff.Index == nil || *diff.Index < 0 || *diff.Index >= n.Len() {
				return fmt.Errorf("%w: list remove index out of range", joterr.ErrMalformedPatch)
			}
			i := *diff.Index
			old, _ := n.At(i)
			elem, _ := n.ElemIDAt(i)
			st.putNode(n.withRemove(i))
			if old.IsRef() {
				st.dropInboundTree(old.RefID())
			}
			st.clearConflict(diff.Obj, elem.String())
		}
	}
	return nil
}

// diffKey resolves the field a set diff addresses: the map key, or the
// elem id string of the list index.
func (st *docState) diffKey(diff Diff) (string, error) {
	if diff.Key != nil {
		return *diff.Key, nil
	}
	node, ok := st.node(diff.Obj)
	if !ok {
		return "", fmt.Errorf("%w: set on unknown object %s", joterr.ErrMalformedPatch, diff.Obj)
	}
	list, ok := node.(*ListNode)
	if !ok {
		return "", fmt.Errorf("%w: indexed set on non-list %s", joterr.ErrMalformedPatch, diff.Obj)
	}
	if diff.Index == nil || *diff.Index < 0 || *diff.Index >= list.Len() {
		return "", fmt.Errorf("%w: set index out of range", joterr.ErrMalformedPatch)
	}
	elem, _ := list.ElemIDAt(*diff.Index)
	return elem.String(), nil
}

func diffValue(value any, datatype string, link bool) (jdt.Value, error) {
	if link {
		s, ok := value.(string)
		if !ok {
			return jdt.Value{}, fmt.Errorf("%w: link value is not an object id", joterr.ErrMalformedPatch)
		}
		return jdt.Ref(jdt.ObjectID(s)), nil
	}
	v, ok := jdt.FromWire(value, datatype)
	if !ok {
		return jdt.Value{}, fmt.Errorf("%w: unrepresentable value %v", joterr.ErrMalformedPatch, value)
	}
	return v, nil
}

// finish re-stamps the ancestors of every touched object so memoised
// renders of enclosing subtrees are invalidated. The caller then reads
// the state's fields to assemble a Doc.
func (st *docState) finish() {
	refreshed := make(map[jdt.ObjectID]bool)
	for id := range st.touched {
		cur := id
		for cur != jdt.RootObjectID {
			ent, ok := st.inbound.Get(cur)
			if !ok {
				break
			}
			parent := ent.parent
			if refreshed[parent] {
				break
			}
			refreshed[parent] = true
			if _, wasTouched := st.touched[parent]; !wasTouched {
				if n, ok := st.store.Get(parent); ok {
					switch node := n.(type) {
					case *MapNode:
						st.store = st.store.put(node.refreshed())
					case *ListNode:
						st.store = st.store.put(node.refreshed())
					}
				}
			}
			cur = parent
		}
	}
}

package jot

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/jotdb/jot/jdt"
	joterr "github.com/jotdb/jot/jot_errors"
	"github.com/jotdb/jot/utils"
)

type Action string

const (
	ActionMakeMap  Action = "makeMap"
	ActionMakeList Action = "makeList"
	ActionSet      Action = "set"
	ActionDel      Action = "del"
	ActionLink     Action = "link"
	ActionIns      Action = "ins"
	ActionInc      Action = "inc"
)

// Op is one frontend operation as it goes to the backend.
type Op struct {
	Action   Action       `json:"action"`
	Obj      jdt.ObjectID `json:"obj"`
	Key      string       `json:"key,omitempty"`
	Elem     uint64       `json:"elem,omitempty"`
	Value    any          `json:"value,omitempty"`
	Datatype string       `json:"datatype,omitempty"`

	// counterSet marks a set op that assigned a fresh counter and may
	// still absorb increments from the same change.
	counterSet bool
}

type RequestType string

const (
	RequestChange RequestType = "change"
	RequestUndo   RequestType = "undo"
	RequestRedo   RequestType = "redo"
)

// Change is the causally-dated batch of ops one actor sends to the
// backend.
type Change struct {
	RequestType RequestType `json:"requestType"`
	Actor       jdt.ActorID `json:"actor"`
	Seq         uint64      `json:"seq"`
	Deps        jdt.Clock   `json:"deps"`
	Message     string      `json:"message,omitempty"`
	Ops         []Op        `json:"ops"`
}

// Context captures the mutations of one change block. Reads go through
// a scratch state that already reflects this change's earlier writes,
// so the callback sees its own effects immediately.
type Context struct {
	doc   *Doc
	actor jdt.ActorID
	state *docState
	ops   []Op
	done  bool
	seen  map[uintptr]struct{}
}

// Change runs the callback against a mutable-looking view of the
// document and commits its ops atomically. A callback that writes
// nothing yields the receiver itself and no request; a callback error
// aborts with no effect.
func (d *Doc) Change(fn func(root *MapRef) error) (*Doc, *Change, error) {
	return d.change("", RequestChange, fn)
}

func (d *Doc) ChangeWithMessage(message string, fn func(root *MapRef) error) (*Doc, *Change, error) {
	return d.change(message, RequestChange, fn)
}

func (d *Doc) change(message string, reqType RequestType, fn func(root *MapRef) error) (*Doc, *Change, error) {
	ctx := &Context{
		doc:   d,
		actor: d.actor,
		state: d.stateFrom(d.rendered),
		seen:  make(map[uintptr]struct{}),
	}
	if fn != nil {
		if err := fn(&MapRef{ctx: ctx, id: jdt.RootObjectID}); err != nil {
			ctx.done = true
			return nil, nil, err
		}
	}
	ctx.done = true
	if len(ctx.ops) == 0 && reqType == RequestChange {
		return d, nil, nil
	}
	return d.commit(message, reqType, ctx)
}

// EmptyChange issues a request with no ops; it still allocates a seq
// and joins the queue, which gives callers a sync point to wait on.
func (d *Doc) EmptyChange(message string) (*Doc, *Change, error) {
	if _, err := d.requireActor(); err != nil {
		return nil, nil, err
	}
	ctx := &Context{doc: d, actor: d.actor, state: d.stateFrom(d.rendered), done: true}
	return d.commit(message, RequestChange, ctx)
}

// Undo asks the backend to revert this actor's latest undoable change.
func (d *Doc) Undo(message string) (*Doc, *Change, error) {
	if _, err := d.requireActor(); err != nil {
		return nil, nil, err
	}
	if !d.canUndo {
		return nil, nil, joterr.ErrNothingToUndo
	}
	ctx := &Context{doc: d, actor: d.actor, state: d.stateFrom(d.rendered), done: true}
	return d.commit(message, RequestUndo, ctx)
}

// Redo asks the backend to re-apply the latest undone change.
func (d *Doc) Redo(message string) (*Doc, *Change, error) {
	if _, err := d.requireActor(); err != nil {
		return nil, nil, err
	}
	if !d.canRedo {
		return nil, nil, joterr.ErrNothingToRedo
	}
	ctx := &Context{doc: d, actor: d.actor, state: d.stateFrom(d.rendered), done: true}
	return d.commit(message, RequestRedo, ctx)
}

func (d *Doc) commit(message string, reqType RequestType, ctx *Context) (*Doc, *Change, error) {
	seq := d.seq + 1
	deps := d.deps.Clone()
	delete(deps, d.actor)
	if ctx.ops == nil {
		ctx.ops = []Op{}
	}
	change := &Change{
		RequestType: reqType,
		Actor:       d.actor,
		Seq:         seq,
		Deps:        deps,
		Message:     message,
		Ops:         ctx.ops,
	}
	ctx.state.finish()
	doc := d.clone()
	doc.seq = seq
	doc.rendered = ctx.state.store
	doc.inbound = ctx.state.inbound
	doc.conflicts = ctx.state.conflicts
	doc.maxElem = ctx.state.maxElem
	doc.requests = append(append([]*PendingRequest{}, d.requests...), &PendingRequest{
		Change: change,
		before: d,
	})
	d.log.With(utils.KeyActor, d.actor, utils.KeySeq, seq).Debug("committed change", utils.KeyOps, len(ctx.ops))
	return doc, change, nil
}

func (ctx *Context) ensureWritable() error {
	if ctx.done {
		return joterr.ErrContextClosed
	}
	if ctx.actor == "" {
		return joterr.ErrActorIDUnset
	}
	return nil
}

// appendSet emits a set op, keeping only the last write per key.
func (ctx *Context) appendSet(op Op) {
	for i := len(ctx.ops) - 1; i >= 0; i-- {
		prev := ctx.ops[i]
		if prev.Action == ActionSet && prev.Obj == op.Obj && prev.Key == op.Key {
			ctx.ops = append(ctx.ops[:i], ctx.ops[i+1:]...)
			break
		}
	}
	ctx.ops = append(ctx.ops, op)
}

// appendInc coalesces increments: an increment lands in the same
// change's counter assignment when one exists, otherwise it merges
// with a previous increment of the same field.
func (ctx *Context) appendInc(obj jdt.ObjectID, key string, delta int64) {
	for i := len(ctx.ops) - 1; i >= 0; i-- {
		prev := &ctx.ops[i]
		if prev.Obj != obj || prev.Key != key {
			continue
		}
		switch prev.Action {
		case ActionSet:
			if prev.counterSet {
				n, _ := opInt(prev.Value)
				prev.Value = n + delta
				prev.Datatype = ""
				return
			}
		case ActionInc:
			n, _ := opInt(prev.Value)
			prev.Value = n + delta
			return
		}
	}
	ctx.ops = append(ctx.ops, Op{Action: ActionInc, Obj: obj, Key: key, Value: delta})
}

// writeValue turns a host value into ops at (obj, key): a scalar set,
// or a makeMap/makeList subtree followed by a link. The key is a map
// key or an elem id string.
func (ctx *Context) writeValue(obj jdt.ObjectID, key string, value any) error {
	switch v := value.(type) {
	case map[string]any:
		return ctx.writeObject(obj, key, v, nil)
	case []any:
		return ctx.writeObject(obj, key, nil, v)
	}
	val, ok := jdt.FromAny(value)
	if !ok {
		return fmt.Errorf("%w: %T", joterr.ErrUnsupportedValue, value)
	}
	cur, has := ctx.state.store.Child(obj, key)
	if has && cur.IsCounter() {
		return joterr.ErrCannotOverwriteCounter
	}
	wire, datatype := val.WireValue()
	ctx.appendSet(Op{
		Action:     ActionSet,
		Obj:        obj,
		Key:        key,
		Value:      wire,
		Datatype:   datatype,
		counterSet: val.IsCounter(),
	})
	return ctx.state.applyOp(ctx.actor, Op{Action: ActionSet, Obj: obj, Key: key, Value: wire, Datatype: datatype}, true, ctx.doc.log)
}

// writeObject creates a nested map or list literal and links it in.
func (ctx *Context) writeObject(obj jdt.ObjectID, key string, m map[string]any, l []any) error {
	var container any
	if m != nil {
		container = m
	} else {
		container = l
	}
	ptr := reflect.ValueOf(container).Pointer()
	if _, circular := ctx.seen[ptr]; circular {
		return fmt.Errorf("%w: circular reference", joterr.ErrUnsupportedValue)
	}
	ctx.seen[ptr] = struct{}{}
	defer delete(ctx.seen, ptr)

	cur, has := ctx.state.store.Child(obj, key)
	if has && cur.IsCounter() {
		return joterr.ErrCannotOverwriteCounter
	}

	newID := jdt.NewObjectID()
	if m != nil {
		ctx.emitAndApply(Op{Action: ActionMakeMap, Obj: newID})
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := ctx.writeValue(newID, k, m[k]); err != nil {
				return err
			}
		}
	} else {
		ctx.emitAndApply(Op{Action: ActionMakeList, Obj: newID})
		list := &ListRef{ctx: ctx, id: newID}
		if err := list.Insert(0, l...); err != nil {
			return err
		}
	}
	linkOp := Op{Action: ActionLink, Obj: obj, Key: key, Value: string(newID)}
	ctx.ops = append(ctx.ops, linkOp)
	return ctx.state.applyOp(ctx.actor, linkOp, true, ctx.doc.log)
}

func (ctx *Context) emitAndApply(op Op) {
	ctx.ops = append(ctx.ops, op)
	// local application of creation ops cannot fail
	_ = ctx.state.applyOp(ctx.actor, op, true, ctx.doc.log)
}

// MapRef is a handle onto a map object inside a change block.
type MapRef struct {
	ctx *Context
	id  jdt.ObjectID
}

func (m *MapRef) ObjectID() jdt.ObjectID {
	return m.id
}

func (m *MapRef) Set(key string, value any) error {
	if err := m.ctx.ensureWritable(); err != nil {
		return err
	}
	return m.ctx.writeValue(m.id, key, value)
}

func (m *MapRef) Delete(key string) error {
	if err := m.ctx.ensureWritable(); err != nil {
		return err
	}
	node, _ := m.ctx.state.node(m.id)
	mn, ok := node.(*MapNode)
	if !ok {
		return joterr.ErrNotAMap
	}
	if _, has := mn.Get(key); !has {
		return fmt.Errorf("%w: %s", joterr.ErrNoSuchField, key)
	}
	op := Op{Action: ActionDel, Obj: m.id, Key: key}
	m.ctx.ops = append(m.ctx.ops, op)
	return m.ctx.state.applyOp(m.ctx.actor, op, true, m.ctx.doc.log)
}

// Get reads a field as it currently stands within the change. Nested
// objects come back as *MapRef / *ListRef, counters as *CounterRef.
func (m *MapRef) Get(key string) (any, error) {
	v, ok := m.ctx.state.store.Child(m.id, key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", joterr.ErrNoSuchField, key)
	}
	return m.ctx.resolve(v, m.id, key), nil
}

func (m *MapRef) Map(key string) (*MapRef, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	child, ok := v.(*MapRef)
	if !ok {
		return nil, joterr.ErrNotAMap
	}
	return child, nil
}

func (m *MapRef) List(key string) (*ListRef, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	child, ok := v.(*ListRef)
	if !ok {
		return nil, joterr.ErrNotAList
	}
	return child, nil
}

func (m *MapRef) Counter(key string) (*CounterRef, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	ctr, ok := v.(*CounterRef)
	if !ok {
		return nil, joterr.ErrNotACounter
	}
	return ctr, nil
}

// ListRef is a handle onto a list object inside a change block.
type ListRef struct {
	ctx *Context
	id  jdt.ObjectID
}

func (l *ListRef) ObjectID() jdt.ObjectID {
	return l.id
}

func (l *ListRef) Len() int {
	node, _ := l.ctx.state.node(l.id)
	if ln, ok := node.(*ListNode); ok {
		return ln.Len()
	}
	return 0
}

func (l *ListRef) node() (*ListNode, error) {
	node, _ := l.ctx.state.node(l.id)
	ln, ok := node.(*ListNode)
	if !ok {
		return nil, joterr.ErrNotAList
	}
	return ln, nil
}

// Insert splices values in before index i. Each element gets a fresh
// elem id minted from this actor's per-list counter.
func (l *ListRef) Insert(i int, values ...any) error {
	if err := l.ctx.ensureWritable(); err != nil {
		return err
	}
	ln, err := l.node()
	if err != nil {
		return err
	}
	if i < 0 || i > ln.Len() {
		return fmt.Errorf("%w: %d", joterr.ErrIndexOutOfBounds, i)
	}
	for n, value := range values {
		ln, err = l.node()
		if err != nil {
			return err
		}
		pos := i + n
		predKey := jdt.HeadSentinel
		if pos > 0 {
			pred, _ := ln.ElemIDAt(pos - 1)
			predKey = pred.String()
		}
		ctr, _ := l.ctx.state.maxElem.Get(l.id)
		ctr++
		elem := jdt.ElemID{Actor: l.ctx.actor, Counter: ctr}
		insOp := Op{Action: ActionIns, Obj: l.id, Key: predKey, Elem: ctr}
		l.ctx.ops = append(l.ctx.ops, insOp)
		if err := l.ctx.state.applyOp(l.ctx.actor, insOp, true, l.ctx.doc.log); err != nil {
			return err
		}
		if err := l.ctx.writeValue(l.id, elem.String(), value); err != nil {
			return err
		}
	}
	return nil
}

// Append adds values at the end of the list.
func (l *ListRef) Append(values ...any) error {
	return l.Insert(l.Len(), values...)
}

// Set overwrites the element at index i.
func (l *ListRef) Set(i int, value any) error {
	if err := l.ctx.ensureWritable(); err != nil {
		return err
	}
	ln, err := l.node()
	if err != nil {
		return err
	}
	elem, ok := ln.ElemIDAt(i)
	if !ok {
		return fmt.Errorf("%w: %d", joterr.ErrIndexOutOfBounds, i)
	}
	return l.ctx.writeValue(l.id, elem.String(), value)
}

// Delete splices out the element at index i.
func (l *ListRef) Delete(i int) error {
	if err := l.ctx.ensureWritable(); err != nil {
		return err
	}
	ln, err := l.node()
	if err != nil {
		return err
	}
	elem, ok := ln.ElemIDAt(i)
	if !ok {
		return fmt.Errorf("%w: %d", joterr.ErrIndexOutOfBounds, i)
	}
	op := Op{Action: ActionDel, Obj: l.id, Key: elem.String()}
	l.ctx.ops = append(l.ctx.ops, op)
	return l.ctx.state.applyOp(l.ctx.actor, op, true, l.ctx.doc.log)
}

func (l *ListRef) Get(i int) (any, error) {
	ln, err := l.node()
	if err != nil {
		return nil, err
	}
	v, ok := ln.At(i)
	if !ok {
		return nil, fmt.Errorf("%w: %d", joterr.ErrIndexOutOfBounds, i)
	}
	elem, _ := ln.ElemIDAt(i)
	return l.ctx.resolve(v, l.id, elem.String()), nil
}

func (l *ListRef) Map(i int) (*MapRef, error) {
	v, err := l.Get(i)
	if err != nil {
		return nil, err
	}
	child, ok := v.(*MapRef)
	if !ok {
		return nil, joterr.ErrNotAMap
	}
	return child, nil
}

func (l *ListRef) List(i int) (*ListRef, error) {
	v, err := l.Get(i)
	if err != nil {
		return nil, err
	}
	child, ok := v.(*ListRef)
	if !ok {
		return nil, joterr.ErrNotAList
	}
	return child, nil
}

func (l *ListRef) Counter(i int) (*CounterRef, error) {
	v, err := l.Get(i)
	if err != nil {
		return nil, err
	}
	ctr, ok := v.(*CounterRef)
	if !ok {
		return nil, joterr.ErrNotACounter
	}
	return ctr, nil
}

// resolve maps a stored value to what a change callback should see.
func (ctx *Context) resolve(v jdt.Value, obj jdt.ObjectID, key string) any {
	switch {
	case v.IsRef():
		node, ok := ctx.state.node(v.RefID())
		if !ok {
			return nil
		}
		if _, isList := node.(*ListNode); isList {
			return &ListRef{ctx: ctx, id: v.RefID()}
		}
		return &MapRef{ctx: ctx, id: v.RefID()}
	case v.IsCounter():
		return &CounterRef{ctx: ctx, obj: obj, key: key}
	default:
		return v.Interface()
	}
}

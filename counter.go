package jot

import (
	"github.com/jotdb/jot/jdt"
	joterr "github.com/jotdb/jot/jot_errors"
)

// Counter is the assignable counter value. Write one with Set to turn
// a field into a counter; read one back from a materialised view. It
// coerces to int64 but never deep-equals a plain number.
type Counter = jdt.Counter

// CounterRef is a live handle onto a counter field, scoped to the
// change block that produced it. Once the change commits the handle
// goes read-only.
type CounterRef struct {
	ctx *Context
	obj jdt.ObjectID
	key string
}

// Value reads the counter as this change currently sees it.
func (c *CounterRef) Value() int64 {
	v, ok := c.ctx.state.store.Child(c.obj, c.key)
	if !ok || !v.IsCounter() {
		return 0
	}
	return v.Int64()
}

func (c *CounterRef) Increment(delta int64) error {
	if c.ctx.done {
		return joterr.ErrCounterReadOnly
	}
	if err := c.ctx.ensureWritable(); err != nil {
		return err
	}
	cur, ok := c.ctx.state.store.Child(c.obj, c.key)
	if !ok || !cur.IsCounter() {
		return joterr.ErrNotACounter
	}
	c.ctx.appendInc(c.obj, c.key, delta)
	return c.ctx.state.applyOp(c.ctx.actor, Op{
		Action: ActionInc,
		Obj:    c.obj,
		Key:    c.key,
		Value:  delta,
	}, true, c.ctx.doc.log)
}

func (c *CounterRef) Decrement(delta int64) error {
	return c.Increment(-delta)
}

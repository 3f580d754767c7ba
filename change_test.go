package jot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotdb/jot/jdt"
	joterr "github.com/jotdb/jot/jot_errors"
)

func testDoc(actor jdt.ActorID) *Doc {
	return Init(Options{ActorID: actor})
}

func TestChangeSetRootField(t *testing.T) {
	d0 := testDoc("alice")
	d1, ch, err := d0.Change(func(root *MapRef) error {
		return root.Set("bird", "magpie")
	})
	require.NoError(t, err)
	require.NotNil(t, ch)

	assert.Equal(t, RequestChange, ch.RequestType)
	assert.Equal(t, jdt.ActorID("alice"), ch.Actor)
	assert.Equal(t, uint64(1), ch.Seq)
	assert.Empty(t, ch.Deps)
	assert.Equal(t, []Op{
		{Action: ActionSet, Obj: jdt.RootObjectID, Key: "bird", Value: "magpie"},
	}, ch.Ops)

	assert.Equal(t, map[string]any{"bird": "magpie"}, d1.Materialise())
	assert.Equal(t, uint64(1), d1.Seq())
	assert.Equal(t, 1, d1.PendingCount())
	assert.Equal(t, uint64(1), d1.PendingRequests()[0].Change.Seq)

	// the input snapshot is untouched
	assert.Equal(t, uint64(0), d0.Seq())
	assert.Empty(t, d0.Materialise())
}

func TestNoopChangeReturnsSameDoc(t *testing.T) {
	d0 := testDoc("alice")
	d1, ch, err := d0.Change(func(root *MapRef) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.Same(t, d0, d1)
}

func TestChangeNestedMapLiteral(t *testing.T) {
	d0 := testDoc("alice")
	d1, ch, err := d0.Change(func(root *MapRef) error {
		return root.Set("birds", map[string]any{"wrens": 3})
	})
	require.NoError(t, err)
	require.Len(t, ch.Ops, 3)

	birds := ch.Ops[0].Obj
	assert.Equal(t, Op{Action: ActionMakeMap, Obj: birds}, ch.Ops[0])
	assert.Equal(t, Op{Action: ActionSet, Obj: birds, Key: "wrens", Value: int64(3)}, ch.Ops[1])
	assert.Equal(t, Op{Action: ActionLink, Obj: jdt.RootObjectID, Key: "birds", Value: string(birds)}, ch.Ops[2])

	assert.Equal(t, map[string]any{"birds": map[string]any{"wrens": int64(3)}}, d1.Materialise())

	id, ok := d1.ObjectIDAt("birds")
	require.True(t, ok)
	assert.Equal(t, birds, id)
}

func TestChangeListLiteral(t *testing.T) {
	d0 := testDoc("alice")
	d1, ch, err := d0.Change(func(root *MapRef) error {
		return root.Set("birds", []any{"chaffinch"})
	})
	require.NoError(t, err)
	require.Len(t, ch.Ops, 4)

	birds := ch.Ops[0].Obj
	assert.Equal(t, Op{Action: ActionMakeList, Obj: birds}, ch.Ops[0])
	assert.Equal(t, Op{Action: ActionIns, Obj: birds, Key: jdt.HeadSentinel, Elem: 1}, ch.Ops[1])
	assert.Equal(t, Op{Action: ActionSet, Obj: birds, Key: "alice:1", Value: "chaffinch"}, ch.Ops[2])
	assert.Equal(t, Op{Action: ActionLink, Obj: jdt.RootObjectID, Key: "birds", Value: string(birds)}, ch.Ops[3])

	assert.Equal(t, map[string]any{"birds": []any{"chaffinch"}}, d1.Materialise())
}

func TestListInsertDeleteSet(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("birds", []any{"chaffinch", "goldfinch"})
	})
	require.NoError(t, err)

	d2, ch, err := d1.Change(func(root *MapRef) error {
		birds, err := root.List("birds")
		if err != nil {
			return err
		}
		if err := birds.Insert(1, "greenfinch"); err != nil {
			return err
		}
		if err := birds.Set(0, "bullfinch"); err != nil {
			return err
		}
		return birds.Delete(2)
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"bullfinch", "greenfinch"}, d2.Materialise()["birds"])

	// the insertion minted the next counter for this list and named
	// its predecessor elem
	assert.Equal(t, ActionIns, ch.Ops[0].Action)
	assert.Equal(t, "alice:1", ch.Ops[0].Key)
	assert.Equal(t, uint64(3), ch.Ops[0].Elem)
	assert.Equal(t, Op{Action: ActionSet, Obj: ch.Ops[0].Obj, Key: "alice:3", Value: "greenfinch"}, ch.Ops[1])
	assert.Equal(t, ActionDel, ch.Ops[3].Action)
	assert.Equal(t, "alice:2", ch.Ops[3].Key)
}

func TestMapDelete(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("bird", "magpie")
	})
	require.NoError(t, err)

	d2, ch, err := d1.Change(func(root *MapRef) error {
		return root.Delete("bird")
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{{Action: ActionDel, Obj: jdt.RootObjectID, Key: "bird"}}, ch.Ops)
	assert.Empty(t, d2.Materialise())

	_, _, err = d2.Change(func(root *MapRef) error {
		return root.Delete("bird")
	})
	assert.ErrorIs(t, err, joterr.ErrNoSuchField)
}

func TestCounterAssignThenIncrementCoalesces(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("birds", map[string]any{})
	})
	require.NoError(t, err)

	d2, ch, err := d1.Change(func(root *MapRef) error {
		birds, err := root.Map("birds")
		if err != nil {
			return err
		}
		if err := birds.Set("wrens", Counter(1)); err != nil {
			return err
		}
		wrens, err := birds.Counter("wrens")
		if err != nil {
			return err
		}
		return wrens.Increment(2)
	})
	require.NoError(t, err)

	require.Len(t, ch.Ops, 1)
	assert.Equal(t, ActionSet, ch.Ops[0].Action)
	assert.Equal(t, "wrens", ch.Ops[0].Key)
	assert.Equal(t, int64(3), ch.Ops[0].Value)
	assert.Empty(t, ch.Ops[0].Datatype)

	birds := d2.Materialise()["birds"].(map[string]any)
	assert.Equal(t, Counter(3), birds["wrens"])
}

func TestIncrementsCoalesce(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("wrens", Counter(5))
	})
	require.NoError(t, err)

	_, ch, err := d1.Change(func(root *MapRef) error {
		wrens, err := root.Counter("wrens")
		if err != nil {
			return err
		}
		if err := wrens.Increment(2); err != nil {
			return err
		}
		if err := wrens.Decrement(1); err != nil {
			return err
		}
		return wrens.Increment(4)
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{
		{Action: ActionInc, Obj: jdt.RootObjectID, Key: "wrens", Value: int64(5)},
	}, ch.Ops)
}

func TestRepeatedSetKeepsLastWrite(t *testing.T) {
	d0 := testDoc("alice")
	_, ch, err := d0.Change(func(root *MapRef) error {
		if err := root.Set("bird", "magpie"); err != nil {
			return err
		}
		return root.Set("bird", "jackdaw")
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{
		{Action: ActionSet, Obj: jdt.RootObjectID, Key: "bird", Value: "jackdaw"},
	}, ch.Ops)
}

func TestCannotOverwriteCounter(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("wrens", Counter(1))
	})
	require.NoError(t, err)

	_, _, err = d1.Change(func(root *MapRef) error {
		return root.Set("wrens", 7)
	})
	assert.ErrorIs(t, err, joterr.ErrCannotOverwriteCounter)

	_, _, err = d1.Change(func(root *MapRef) error {
		return root.Set("wrens", Counter(7))
	})
	assert.ErrorIs(t, err, joterr.ErrCannotOverwriteCounter)
}

func TestCounterReadOnlyOutsideChange(t *testing.T) {
	d0 := testDoc("alice")
	var escaped *CounterRef
	d1, _, err := d0.Change(func(root *MapRef) error {
		if err := root.Set("wrens", Counter(1)); err != nil {
			return err
		}
		var cerr error
		escaped, cerr = root.Counter("wrens")
		return cerr
	})
	require.NoError(t, err)
	require.NotNil(t, d1)

	assert.ErrorIs(t, escaped.Increment(1), joterr.ErrCounterReadOnly)
}

func TestEscapedHandlesAreClosed(t *testing.T) {
	d0 := testDoc("alice")
	var escapedMap *MapRef
	var escapedList *ListRef
	_, _, err := d0.Change(func(root *MapRef) error {
		if err := root.Set("birds", []any{"wren"}); err != nil {
			return err
		}
		escapedMap = root
		var lerr error
		escapedList, lerr = root.List("birds")
		return lerr
	})
	require.NoError(t, err)

	assert.ErrorIs(t, escapedMap.Set("bird", "magpie"), joterr.ErrContextClosed)
	assert.ErrorIs(t, escapedMap.Delete("birds"), joterr.ErrContextClosed)
	assert.ErrorIs(t, escapedList.Append("robin"), joterr.ErrContextClosed)
	assert.ErrorIs(t, escapedList.Set(0, "robin"), joterr.ErrContextClosed)
	assert.ErrorIs(t, escapedList.Delete(0), joterr.ErrContextClosed)
}

func TestWriteBeforeActorIDSet(t *testing.T) {
	d0 := Init(Options{DeferActorID: true})
	_, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("bird", "magpie")
	})
	assert.ErrorIs(t, err, joterr.ErrActorIDUnset)

	d1 := d0.SetActorID("alice")
	d2, _, err := d1.Change(func(root *MapRef) error {
		return root.Set("bird", "magpie")
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bird": "magpie"}, d2.Materialise())
}

func TestUnsupportedValue(t *testing.T) {
	d0 := testDoc("alice")
	_, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("f", func() {})
	})
	assert.ErrorIs(t, err, joterr.ErrUnsupportedValue)

	circular := map[string]any{}
	circular["self"] = circular
	_, _, err = d0.Change(func(root *MapRef) error {
		return root.Set("c", circular)
	})
	assert.ErrorIs(t, err, joterr.ErrUnsupportedValue)
}

func TestCallbackErrorAbortsChange(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("bird", "magpie")
	})
	require.NoError(t, err)

	_, _, err = d1.Change(func(root *MapRef) error {
		if err := root.Set("bird", "jackdaw"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, map[string]any{"bird": "magpie"}, d1.Materialise())
	assert.Equal(t, 1, d1.PendingCount())
}

func TestTimestampField(t *testing.T) {
	at := time.UnixMilli(1693000000123)
	d0 := testDoc("alice")
	d1, ch, err := d0.Change(func(root *MapRef) error {
		return root.Set("seen", at)
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{
		{Action: ActionSet, Obj: jdt.RootObjectID, Key: "seen", Value: int64(1693000000123), Datatype: "timestamp"},
	}, ch.Ops)

	got := d1.Materialise()["seen"].(time.Time)
	assert.Equal(t, at.UnixMilli(), got.UnixMilli())
}

func TestChangeReadsOwnWrites(t *testing.T) {
	d0 := testDoc("alice")
	_, _, err := d0.Change(func(root *MapRef) error {
		if err := root.Set("bird", "magpie"); err != nil {
			return err
		}
		v, err := root.Get("bird")
		if err != nil {
			return err
		}
		assert.Equal(t, "magpie", v)

		if err := root.Set("birds", []any{"wren"}); err != nil {
			return err
		}
		birds, err := root.List("birds")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, birds.Len())
		first, err := birds.Get(0)
		if err != nil {
			return err
		}
		assert.Equal(t, "wren", first)
		return nil
	})
	require.NoError(t, err)
}

func TestSeqIsStrictlyMonotonic(t *testing.T) {
	doc := testDoc("alice")
	for i := 1; i <= 4; i++ {
		var err error
		doc, _, err = doc.Change(func(root *MapRef) error {
			return root.Set("n", i)
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), doc.Seq())
		reqs := doc.PendingRequests()
		assert.Equal(t, uint64(i), reqs[len(reqs)-1].Change.Seq)
	}
}

func TestEmptyChange(t *testing.T) {
	d0 := testDoc("alice")
	d1, ch, err := d0.EmptyChange("sync point")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, uint64(1), ch.Seq)
	assert.Equal(t, "sync point", ch.Message)
	assert.Empty(t, ch.Ops)
	assert.Equal(t, 1, d1.PendingCount())
	assert.Empty(t, d1.Materialise())
}

func TestChangeWireFormat(t *testing.T) {
	d0 := testDoc("alice")
	_, ch, err := d0.ChangeWithMessage("hello", func(root *MapRef) error {
		return root.Set("bird", "magpie")
	})
	require.NoError(t, err)

	raw, err := json.Marshal(ch)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"requestType": "change",
		"actor": "alice",
		"seq": 1,
		"deps": {},
		"message": "hello",
		"ops": [{"action": "set", "obj": "00000000-0000-0000-0000-000000000000", "key": "bird", "value": "magpie"}]
	}`, string(raw))
}

func TestUndoRedoRequests(t *testing.T) {
	d0 := testDoc("alice")
	_, _, err := d0.Undo("")
	assert.ErrorIs(t, err, joterr.ErrNothingToUndo)
	_, _, err = d0.Redo("")
	assert.ErrorIs(t, err, joterr.ErrNothingToRedo)

	yes := true
	d1, err := d0.ApplyPatch(&Patch{CanUndo: &yes, CanRedo: &yes})
	require.NoError(t, err)
	require.True(t, d1.CanUndo())

	d2, ch, err := d1.Undo("step back")
	require.NoError(t, err)
	assert.Equal(t, RequestUndo, ch.RequestType)
	assert.Equal(t, uint64(1), ch.Seq)

	_, ch, err = d2.Redo("")
	require.NoError(t, err)
	assert.Equal(t, RequestRedo, ch.RequestType)
	assert.Equal(t, uint64(2), ch.Seq)
}

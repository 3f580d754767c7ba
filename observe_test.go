package jot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotdb/jot/jdt"
)

func TestObserversFireOnChange(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		if err := root.Set("a", map[string]any{"x": 1}); err != nil {
			return err
		}
		return root.Set("b", map[string]any{"y": 2})
	})
	require.NoError(t, err)

	aID, _ := d1.ObjectIDAt("a")
	bID, _ := d1.ObjectIDAt("b")

	obs := NewObservers()
	var fired []jdt.ObjectID
	trigger := Trigger(func(id jdt.ObjectID, doc *Doc) {
		fired = append(fired, id)
	})
	obs.AddTrigger(aID, &trigger)
	obs.AddTrigger(bID, &trigger)

	d2, _, err := d1.Change(func(root *MapRef) error {
		a, err := root.Map("a")
		if err != nil {
			return err
		}
		return a.Set("x", 9)
	})
	require.NoError(t, err)

	obs.Notify(d1, d2)
	assert.Equal(t, []jdt.ObjectID{aID}, fired)

	fired = nil
	obs.RemoveTrigger(aID, &trigger)
	d3, _, err := d2.Change(func(root *MapRef) error {
		a, err := root.Map("a")
		if err != nil {
			return err
		}
		return a.Set("x", 10)
	})
	require.NoError(t, err)
	obs.Notify(d2, d3)
	assert.Empty(t, fired)
}

func TestObserversFireOnlyWhenNodeChanges(t *testing.T) {
	d0 := testDoc("alice")
	d1, _, err := d0.Change(func(root *MapRef) error {
		return root.Set("a", map[string]any{"x": 1})
	})
	require.NoError(t, err)
	aID, _ := d1.ObjectIDAt("a")

	obs := NewObservers()
	hits := 0
	trigger := Trigger(func(id jdt.ObjectID, doc *Doc) { hits++ })
	obs.AddTrigger(aID, &trigger)

	// an untouched version fires nothing
	obs.Notify(d1, d1)
	assert.Zero(t, hits)

	d2, _, err := d1.Change(func(root *MapRef) error {
		a, err := root.Map("a")
		if err != nil {
			return err
		}
		return a.Set("x", 2)
	})
	require.NoError(t, err)
	obs.Notify(d1, d2)
	assert.Equal(t, 1, hits)
}

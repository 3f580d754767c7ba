package jot

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jotdb/jot/jdt"
)

// Trigger fires when the object it watches changes between two
// document versions.
type Trigger func(id jdt.ObjectID, doc *Doc)

// Observers is a registry of per-object triggers. It is shared across
// document versions; register once, then hand successive snapshots to
// Notify.
type Observers struct {
	lstns *xsync.MapOf[jdt.ObjectID, []*Trigger]
}

func NewObservers() *Observers {
	return &Observers{lstns: xsync.NewMapOf[jdt.ObjectID, []*Trigger]()}
}

func (o *Observers) AddTrigger(id jdt.ObjectID, trigger *Trigger) {
	o.lstns.Compute(id, func(triggers []*Trigger, _ bool) ([]*Trigger, bool) {
		return append(triggers, trigger), false
	})
}

func (o *Observers) RemoveTrigger(id jdt.ObjectID, trigger *Trigger) {
	o.lstns.Compute(id, func(triggers []*Trigger, loaded bool) ([]*Trigger, bool) {
		if !loaded {
			return nil, true
		}
		kept := make([]*Trigger, 0, len(triggers))
		for _, t := range triggers {
			if t != trigger {
				kept = append(kept, t)
			}
		}
		return kept, len(kept) == 0
	})
}

// Notify fires the triggers of every watched object whose node
// changed between the two versions. Call it after Change or
// ApplyPatch, once the new document value is in hand.
func (o *Observers) Notify(before, after *Doc) {
	o.lstns.Range(func(id jdt.ObjectID, triggers []*Trigger) bool {
		oldNode, hadOld := before.rendered.Get(id)
		newNode, hasNew := after.rendered.Get(id)
		changed := hadOld != hasNew ||
			(hadOld && hasNew && oldNode.Stamp() != newNode.Stamp())
		if changed {
			for _, t := range triggers {
				(*t)(id, after)
			}
		}
		return true
	})
}

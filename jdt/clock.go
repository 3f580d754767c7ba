package jdt

import (
	"sort"
	"strconv"
	"strings"
)

// Clock is a dependency vector, the max seq seen from each known actor.
type Clock map[ActorID]uint64

func (c Clock) Get(actor ActorID) uint64 {
	return c[actor]
}

// Put records the seq for the actor, returns whether it was
// unseen (i.e. made any difference)
func (c Clock) Put(actor ActorID, seq uint64) bool {
	pre, ok := c[actor]
	if ok && pre >= seq {
		return false
	}
	c[actor] = seq
	return true
}

func (c Clock) Clone() Clock {
	clone := make(Clock, len(c))
	for actor, seq := range c {
		clone[actor] = seq
	}
	return clone
}

// Merge folds another clock in, component-wise max.
func (c Clock) Merge(other Clock) {
	for actor, seq := range other {
		c.Put(actor, seq)
	}
}

// Covers reports whether every entry of the other clock is seen here.
func (c Clock) Covers(other Clock) bool {
	for actor, seq := range other {
		if seq > c[actor] {
			return false
		}
	}
	return true
}

func (c Clock) Equal(other Clock) bool {
	return c.Covers(other) && other.Covers(c)
}

func (c Clock) String() string {
	actors := make([]string, 0, len(c))
	for actor := range c {
		actors = append(actors, string(actor))
	}
	sort.Strings(actors)
	var b strings.Builder
	for i, actor := range actors {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(actor)
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(c[ActorID(actor)], 10))
	}
	return b.String()
}

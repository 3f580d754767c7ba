package jot

import (
	"log/slog"

	"github.com/benbjohnson/immutable"

	"github.com/jotdb/jot/jdt"
	joterr "github.com/jotdb/jot/jot_errors"
	"github.com/jotdb/jot/utils"
)

// inboundEntry is the reverse of a parent-to-child link: where an
// object hangs in the current materialised view.
type inboundEntry struct {
	parent jdt.ObjectID
	key    string
}

// conflictSet records, per field of one object, the losing values of
// concurrent writes keyed by the actor that wrote them.
type conflictSet map[string]map[jdt.ActorID]jdt.Value

func (cs conflictSet) clone() conflictSet {
	out := make(conflictSet, len(cs))
	for key, bucket := range cs {
		b := make(map[jdt.ActorID]jdt.Value, len(bucket))
		for actor, v := range bucket {
			b[actor] = v
		}
		out[key] = b
	}
	return out
}

type Options struct {
	// ActorID names this replica. Leave empty to mint a fresh one,
	// unless DeferActorID is set.
	ActorID jdt.ActorID
	// DeferActorID starts the document without an actor; reads and
	// patches work, local changes fail until SetActorID.
	DeferActorID bool

	Logger utils.Logger

	// ViewMemoSize bounds the materialise memo, which all documents
	// share. Zero leaves the memo at its current size (the default
	// unless an earlier Init set one).
	ViewMemoSize int
}

/*
	Doc is an immutable snapshot of a replicated JSON document.

	Every mutation path — Change, ApplyPatch, SetActorID — returns a
	new Doc and leaves the receiver fully usable. Unchanged subtrees
	are shared by reference between versions, so old snapshots are
	cheap to keep and == on rendered subtrees is a valid fast path.
*/
type Doc struct {
	actor jdt.ActorID
	seq   uint64
	deps  jdt.Clock

	// rendered is what applications see: authoritative state with all
	// still-pending local requests replayed on top. With an empty
	// request queue the two are the same *Store.
	rendered      *Store
	authoritative *Store

	conflicts *immutable.Map[jdt.ObjectID, conflictSet]
	inbound   *immutable.Map[jdt.ObjectID, inboundEntry]
	maxElem   *immutable.Map[jdt.ObjectID, uint64]

	requests []*PendingRequest

	canUndo bool
	canRedo bool

	log utils.Logger
}

func Init(opts Options) *Doc {
	actor := opts.ActorID
	if actor == "" && !opts.DeferActorID {
		actor = jdt.NewActorID()
	}
	log := opts.Logger
	if log == nil {
		log = utils.NewDefaultLogger(slog.LevelError)
	}
	if opts.ViewMemoSize > 0 {
		setViewMemoSize(opts.ViewMemoSize)
	}
	store := newStore()
	return &Doc{
		actor:         actor,
		deps:          make(jdt.Clock),
		rendered:      store,
		authoritative: store,
		conflicts:     newObjectMap[conflictSet](),
		inbound:       newObjectMap[inboundEntry](),
		maxElem:       newObjectMap[uint64](),
		log:           log,
	}
}

func New() *Doc {
	return Init(Options{})
}

func (d *Doc) clone() *Doc {
	c := *d
	return &c
}

// ActorID returns the replica id, or false while it is deferred.
func (d *Doc) ActorID() (jdt.ActorID, bool) {
	return d.actor, d.actor != ""
}

func (d *Doc) SetActorID(actor jdt.ActorID) *Doc {
	c := d.clone()
	c.actor = actor
	return c
}

func (d *Doc) Seq() uint64 {
	return d.seq
}

func (d *Doc) Deps() jdt.Clock {
	return d.deps.Clone()
}

func (d *Doc) CanUndo() bool { return d.canUndo }
func (d *Doc) CanRedo() bool { return d.canRedo }

// Node looks an object up in the rendered view.
func (d *Doc) Node(id jdt.ObjectID) (Node, bool) {
	return d.rendered.Get(id)
}

// PendingCount is the number of local requests not yet acknowledged by
// the backend.
func (d *Doc) PendingCount() int {
	return len(d.requests)
}

// PendingRequests returns the un-acknowledged local requests, oldest
// first.
func (d *Doc) PendingRequests() []*PendingRequest {
	out := make([]*PendingRequest, len(d.requests))
	copy(out, d.requests)
	return out
}

// ObjectIDAt walks the rendered view from the root. Path steps are
// string map keys or int list indices.
func (d *Doc) ObjectIDAt(path ...any) (jdt.ObjectID, bool) {
	id := jdt.RootObjectID
	for _, step := range path {
		node, ok := d.rendered.Get(id)
		if !ok {
			return "", false
		}
		var v jdt.Value
		switch n := node.(type) {
		case *MapNode:
			key, isKey := step.(string)
			if !isKey {
				return "", false
			}
			v, ok = n.Get(key)
		case *ListNode:
			i, isIdx := step.(int)
			if !isIdx {
				return "", false
			}
			v, ok = n.At(i)
		default:
			return "", false
		}
		if !ok || !v.IsRef() {
			return "", false
		}
		id = v.RefID()
	}
	return id, true
}

// GetConflicts returns the losing concurrent writes recorded for one
// field, keyed by actor, or nil when the field is unconflicted. Refs
// are materialised.
func (d *Doc) GetConflicts(obj jdt.ObjectID, key string) map[jdt.ActorID]any {
	cs, ok := d.conflicts.Get(obj)
	if !ok {
		return nil
	}
	bucket, ok := cs[key]
	if !ok || len(bucket) == 0 {
		return nil
	}
	out := make(map[jdt.ActorID]any, len(bucket))
	for actor, v := range bucket {
		if v.IsRef() {
			out[actor] = d.materialiseObject(v.RefID())
		} else {
			out[actor] = v.Interface()
		}
	}
	return out
}

// BackendState is the causal summary the backend needs to accept this
// replica's next request.
type BackendState struct {
	Seq     uint64
	Deps    jdt.Clock
	Pending int
}

func (d *Doc) BackendState() BackendState {
	return BackendState{
		Seq:     d.seq,
		Deps:    d.deps.Clone(),
		Pending: len(d.requests),
	}
}

func (d *Doc) requireActor() (jdt.ActorID, error) {
	if d.actor == "" {
		return "", joterr.ErrActorIDUnset
	}
	return d.actor, nil
}

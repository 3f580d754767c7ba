package jot

import (
	"fmt"

	"github.com/jotdb/jot/jdt"
	joterr "github.com/jotdb/jot/jot_errors"
	"github.com/jotdb/jot/utils"
)

type DiffAction string

const (
	DiffCreate DiffAction = "create"
	DiffSet    DiffAction = "set"
	DiffInsert DiffAction = "insert"
	DiffRemove DiffAction = "remove"
)

type ObjType string

const (
	ObjTypeMap   ObjType = "map"
	ObjTypeList  ObjType = "list"
	ObjTypeText  ObjType = "text"
	ObjTypeTable ObjType = "table"
)

// ConflictValue is one losing candidate of a concurrent write.
type ConflictValue struct {
	Actor    jdt.ActorID `json:"actor"`
	Value    any         `json:"value"`
	Link     bool        `json:"link,omitempty"`
	Datatype string      `json:"datatype,omitempty"`
}

// Diff is one backend-computed edit of the materialised view.
type Diff struct {
	Action    DiffAction      `json:"action"`
	Type      ObjType         `json:"type"`
	Obj       jdt.ObjectID    `json:"obj"`
	Key       *string         `json:"key,omitempty"`
	Index     *int            `json:"index,omitempty"`
	Value     any             `json:"value,omitempty"`
	ElemID    string          `json:"elemId,omitempty"`
	Conflicts []ConflictValue `json:"conflicts,omitempty"`
	Datatype  string          `json:"datatype,omitempty"`
	Link      bool            `json:"link,omitempty"`
}

// Patch is a backend diff set plus causal metadata. When actor and seq
// are present it acknowledges this replica's own request.
type Patch struct {
	Actor   jdt.ActorID `json:"actor,omitempty"`
	Seq     uint64      `json:"seq,omitempty"`
	Clock   jdt.Clock   `json:"clock,omitempty"`
	Deps    jdt.Clock   `json:"deps,omitempty"`
	CanUndo *bool       `json:"canUndo,omitempty"`
	CanRedo *bool       `json:"canRedo,omitempty"`
	Diffs   []Diff      `json:"diffs"`
}

func (p *Patch) validate() error {
	for i := range p.Diffs {
		diff := &p.Diffs[i]
		switch diff.Action {
		case DiffCreate:
			switch diff.Type {
			case ObjTypeMap, ObjTypeList, ObjTypeText, ObjTypeTable:
			default:
				return fmt.Errorf("%w: create with type %q", joterr.ErrMalformedPatch, diff.Type)
			}
			if diff.Obj == "" {
				return fmt.Errorf("%w: create without obj", joterr.ErrMalformedPatch)
			}
		case DiffSet:
			if diff.Key == nil && diff.Index == nil {
				return fmt.Errorf("%w: set without key or index", joterr.ErrMalformedPatch)
			}
		case DiffInsert:
			if diff.Index == nil {
				return fmt.Errorf("%w: insert without index", joterr.ErrMalformedPatch)
			}
			if diff.ElemID == "" {
				return fmt.Errorf("%w: insert without elemId", joterr.ErrMalformedPatch)
			}
		case DiffRemove:
			if diff.Key == nil && diff.Index == nil {
				return fmt.Errorf("%w: remove without key or index", joterr.ErrMalformedPatch)
			}
		default:
			return fmt.Errorf("%w: unknown action %q", joterr.ErrMalformedPatch, diff.Action)
		}
	}
	return nil
}

/*
	ApplyPatch folds a backend patch into the document and returns the
	new version.

	A patch acknowledging a local request must match the oldest pending
	one; the request is then retired and the authoritative diffs
	replace its optimistic effects. A patch from another actor leaves
	the queue alone, and every still-pending request is replayed on top
	of the new authoritative state so in-flight local edits stay
	visible.

	Any error leaves the receiver untouched.
*/
func (d *Doc) ApplyPatch(patch *Patch) (*Doc, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	requests := d.requests
	if patch.Actor != "" && patch.Actor == d.actor && patch.Seq != 0 {
		if len(requests) == 0 || requests[0].Change.Seq != patch.Seq {
			return nil, fmt.Errorf("%w: patch seq %d", joterr.ErrMismatchedSequence, patch.Seq)
		}
		requests = requests[1:]
	}

	st := d.stateFromAuthoritative()
	for _, diff := range patch.Diffs {
		if err := st.applyDiff(diff); err != nil {
			return nil, err
		}
	}
	st.finish()

	doc := d.clone()
	doc.authoritative = st.store
	doc.requests = append([]*PendingRequest{}, requests...)

	deps := d.deps.Clone()
	if patch.Deps != nil {
		deps.Merge(patch.Deps)
	} else if patch.Clock != nil {
		deps.Merge(patch.Clock)
	}
	doc.deps = deps

	if patch.CanUndo != nil {
		doc.canUndo = *patch.CanUndo
	}
	if patch.CanRedo != nil {
		doc.canRedo = *patch.CanRedo
	}

	d.log.With(utils.KeyActor, patch.Actor, utils.KeySeq, patch.Seq).
		Debug("applied patch", utils.KeyDiffs, len(patch.Diffs))

	if len(requests) == 0 {
		doc.rendered = st.store
		doc.inbound = st.inbound
		doc.conflicts = st.conflicts
		doc.maxElem = st.maxElem
		return doc, nil
	}

	// Replay in-flight local requests over the new authoritative view
	// to rebuild what the application should see.
	replay := &docState{
		store:     st.store,
		inbound:   st.inbound,
		conflicts: st.conflicts,
		maxElem:   st.maxElem,
		touched:   make(map[jdt.ObjectID]struct{}),
	}
	for _, req := range requests {
		for _, op := range req.Change.Ops {
			if err := replay.applyOp(req.Change.Actor, op, false, d.log); err != nil {
				return nil, err
			}
		}
	}
	replay.finish()
	doc.rendered = replay.store
	doc.inbound = replay.inbound
	doc.conflicts = replay.conflicts
	doc.maxElem = replay.maxElem
	return doc, nil
}

func (d *Doc) stateFromAuthoritative() *docState {
	// inbound/conflicts/maxElem follow the rendered view; rebuilding
	// from the authoritative store starts from the same maps, since
	// replay re-derives any divergence.
	return d.stateFrom(d.authoritative)
}

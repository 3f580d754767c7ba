package jdt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ActorID identifies a replica minting operations. It is a UUID string;
// replicas never share one.
type ActorID string

// ObjectID identifies a map or list object in a document. The root map
// has the reserved all-zero id.
type ObjectID string

// RootObjectID is the id of the document root map.
const RootObjectID ObjectID = "00000000-0000-0000-0000-000000000000"

// HeadSentinel is the predecessor key used by "ins" ops that insert at
// the front of a list.
const HeadSentinel = "_head"

func NewActorID() ActorID {
	return ActorID(uuid.New().String())
}

func NewObjectID() ObjectID {
	return ObjectID(uuid.New().String())
}

func ParseActorID(s string) (ActorID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("bad actor id %q: %w", s, err)
	}
	return ActorID(id.String()), nil
}

func ParseObjectID(s string) (ObjectID, error) {
	if ObjectID(s) == RootObjectID {
		return RootObjectID, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("bad object id %q: %w", s, err)
	}
	return ObjectID(id.String()), nil
}

/*
	ElemID identifies a position in a list CRDT.
	It is the pair (actor, counter), serialised "<actor>:<counter>".
	The total order is by counter first, then actor, so concurrent
	insertions converge to one rendered order on every replica.
*/
type ElemID struct {
	Actor   ActorID
	Counter uint64
}

func (e ElemID) String() string {
	var b strings.Builder
	b.WriteString(string(e.Actor))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(e.Counter, 10))
	return b.String()
}

func ParseElemID(s string) (ElemID, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ElemID{}, fmt.Errorf("bad elem id %q", s)
	}
	ctr, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return ElemID{}, fmt.Errorf("bad elem id %q: %w", s, err)
	}
	return ElemID{Actor: ActorID(s[:i]), Counter: ctr}, nil
}

func (e ElemID) Less(other ElemID) bool {
	if e.Counter != other.Counter {
		return e.Counter < other.Counter
	}
	return e.Actor < other.Actor
}

func (e ElemID) IsZero() bool {
	return e.Actor == "" && e.Counter == 0
}

// Provides common jot errors definitions.
package jot_errors

import "errors"

var (
	ErrActorIDUnset           = errors.New("jot: actor id not set")
	ErrCannotOverwriteCounter = errors.New("jot: cannot overwrite a counter field by assignment")
	ErrUnsupportedValue       = errors.New("jot: value has no document representation")
	ErrMismatchedSequence     = errors.New("jot: patch seq does not match the oldest pending request")
	ErrCounterReadOnly        = errors.New("jot: counters are mutable only inside a change block")
	ErrContextClosed          = errors.New("jot: change context already committed")
	ErrMalformedPatch         = errors.New("jot: malformed patch")

	ErrNothingToUndo = errors.New("jot: nothing to undo")
	ErrNothingToRedo = errors.New("jot: nothing to redo")

	ErrIndexOutOfBounds = errors.New("jot: list index out of bounds")
	ErrNoSuchField      = errors.New("jot: no such field")
	ErrNotAMap          = errors.New("jot: object is not a map")
	ErrNotAList         = errors.New("jot: object is not a list")
	ErrNotACounter      = errors.New("jot: field does not hold a counter")
)

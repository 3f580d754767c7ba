package jot

// PendingRequest is an optimistic local change the backend has not
// acknowledged yet. The pre-change snapshot stays attached so a
// rejected request can be rolled back to known-good state.
type PendingRequest struct {
	Change *Change

	before *Doc
}

// Before returns the document as it stood when the request was issued.
func (r *PendingRequest) Before() *Doc {
	return r.before
}

// Package request models the in-process stand-in for the shared-memory
// request fabric: the client-facing operations a volume issues, and the
// scatter/gather results the dispatcher hands back.
package request

import "github.com/google/uuid"

// Op names a client-facing operation.
type Op string

const (
	OpMapRead   Op = "MAPR"
	OpMapWrite  Op = "MAPW"
	OpInfo      Op = "INFO"
	OpClone     Op = "CLONE"
	OpSnapshot  Op = "SNAPSHOT"
	OpDelete    Op = "DELETE"
)

// NewID mints an opaque client request identifier.
func NewID() string {
	return uuid.NewString()
}

// Segment is one piece of a translated scatter/gather list: a run of
// bytes at Offset within Object.
type Segment struct {
	Object string
	Offset uint32
	Size   uint32
}

// Result is what a ClientRequest's Reply channel carries once the
// dispatcher finishes handling it.
type Result struct {
	Segments []Segment // MAPR/MAPW: the translated scatter/gather list
	Size     uint64    // INFO: the volume size
	Err      error
}

// ClientRequest is one in-flight operation from a volume client. It is
// the unit parked on a Map's or an Entry's pending queue while the
// dispatcher waits on a backing-store reply.
type ClientRequest struct {
	ID     string
	Op     Op
	Volume string
	Offset uint64
	Size   uint64

	// Parent and NewSize are only meaningful for CLONE.
	Parent  string
	NewSize uint64

	// Err is set once, the first time this request observes a failure,
	// and is never cleared. A request that was parked behind a COPYING
	// entry whose copy-up later failed still completes, but with this
	// error rather than silently retrying.
	Err error

	Reply chan Result
}

// NewClientRequest builds a ClientRequest with a fresh ID and a reply
// channel buffered for its single Result.
func NewClientRequest(op Op, volume string) *ClientRequest {
	return &ClientRequest{
		ID:     NewID(),
		Op:     op,
		Volume: volume,
		Reply:  make(chan Result, 1),
	}
}

// MarkErr sets the request's sticky error without delivering a reply.
// It is used when a dependency (e.g. an in-flight copy-up) fails while
// the request is parked: the failure becomes visible only once the
// request is re-dispatched and its handler checks Err before doing any
// further work.
func (r *ClientRequest) MarkErr(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

// Fail marks the request with err and, if it has not already replied,
// delivers a failing Result.
func (r *ClientRequest) Fail(err error) {
	r.MarkErr(err)
	if r.Reply != nil {
		r.Reply <- Result{Err: r.Err}
		r.Reply = nil
	}
}

// Succeed delivers a successful Result, unless the request already
// carries a sticky error from an earlier failed dependency.
func (r *ClientRequest) Succeed(res Result) {
	if r.Err != nil {
		res = Result{Err: r.Err}
	}
	if r.Reply != nil {
		r.Reply <- res
		r.Reply = nil
	}
}

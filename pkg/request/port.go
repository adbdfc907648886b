package request

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/archipelago/mapperd/pkg/backingstore"
)

// Handle identifies one outstanding backing-store operation. It is the
// in-process stand-in for the shared-memory fabric's request slot
// index: the dispatcher hands it out on submit and gets it back,
// unchanged, on the matching reply.
type Handle string

// BackingOp names a backing-store operation.
type BackingOp string

const (
	BackingRead  BackingOp = "READ"
	BackingCopy  BackingOp = "COPY"
	BackingWrite BackingOp = "WRITE"
)

// ErrAtCapacity is returned by Submit* when no backing-store request
// handle is available. It stands in for the fabric's own resource
// exhaustion: a fixed-size shared-memory segment only has so many
// request slots.
var ErrAtCapacity = errors.New("request: no backing-store handle available")

// BackingReply is what a Port delivers once an issued operation
// completes.
type BackingReply struct {
	Handle Handle
	Op     BackingOp
	Target string // the object the op was issued against
	Data   []byte // READ: the bytes returned
	Err    error
}

// Port is the in-process request fabric: it turns backingstore.Store's
// synchronous calls into asynchronous completions delivered on a
// channel, so the dispatcher can park pending requests and resume them
// on reply exactly as it would against the real shared-memory fabric.
// A fixed number of request handles are available at a time; Submit*
// fails with ErrAtCapacity once they are exhausted, and a handle is
// released back once its reply has been sent on Replies.
type Port struct {
	store   backingstore.Store
	replies chan BackingReply
	slots   chan struct{}
}

// NewPort wraps store behind an asynchronous reply channel. maxInFlight
// bounds the number of outstanding backing-store operations; 0 means
// unbounded.
func NewPort(store backingstore.Store, maxInFlight int) *Port {
	p := &Port{
		store:   store,
		replies: make(chan BackingReply, max(maxInFlight, 1)),
	}
	if maxInFlight > 0 {
		p.slots = make(chan struct{}, maxInFlight)
	}
	return p
}

// Replies returns the channel the dispatcher drains alongside client
// requests. A handle's slot is released as soon as its reply is sent on
// this channel, before the dispatcher reads it.
func (p *Port) Replies() <-chan BackingReply {
	return p.replies
}

func (p *Port) acquire() bool {
	if p.slots == nil {
		return true
	}
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Port) release() {
	if p.slots == nil {
		return
	}
	<-p.slots
}

func (p *Port) newHandle() Handle {
	return Handle(uuid.NewString())
}

// SubmitRead issues an asynchronous READ and returns the handle its
// reply will carry.
func (p *Port) SubmitRead(ctx context.Context, target string, offset, size uint64) (Handle, error) {
	if !p.acquire() {
		return "", ErrAtCapacity
	}
	h := p.newHandle()
	go func() {
		defer p.release()
		data, err := p.store.Read(ctx, target, offset, size)
		p.replies <- BackingReply{Handle: h, Op: BackingRead, Target: target, Data: data, Err: err}
	}()
	return h, nil
}

// SubmitCopy issues an asynchronous COPY of parent into newTarget and
// returns the handle its reply will carry.
func (p *Port) SubmitCopy(ctx context.Context, newTarget, parent string) (Handle, error) {
	if !p.acquire() {
		return "", ErrAtCapacity
	}
	h := p.newHandle()
	go func() {
		defer p.release()
		err := p.store.Copy(ctx, newTarget, parent)
		p.replies <- BackingReply{Handle: h, Op: BackingCopy, Target: newTarget, Err: err}
	}()
	return h, nil
}

// SubmitWrite issues an asynchronous WRITE of data at offset against
// target and returns the handle its reply will carry. Used to persist a
// map's native-format header/table back to the backing store; no client
// request parks on the result.
func (p *Port) SubmitWrite(ctx context.Context, target string, offset uint64, data []byte) (Handle, error) {
	if !p.acquire() {
		return "", ErrAtCapacity
	}
	h := p.newHandle()
	go func() {
		defer p.release()
		err := p.store.Write(ctx, target, offset, data)
		p.replies <- BackingReply{Handle: h, Op: BackingWrite, Target: target, Err: err}
	}()
	return h, nil
}

// Package copyup drives the copy-up state machine: turning a shared,
// inherited block into a privately-owned one the first time a write
// touches it.
package copyup

import (
	"context"
	"sync"

	"github.com/archipelago/mapperd/pkg/objectname"
	"github.com/archipelago/mapperd/pkg/objecttable"
	"github.com/archipelago/mapperd/pkg/request"
)

// InFlight is what Tracker remembers about one outstanding copy-up,
// keyed by the backing-store handle its COPY was submitted under.
type InFlight struct {
	Volume  string
	Index   uint32
	NewName string
	Entry   *objecttable.Entry
}

// Port is the subset of request.Port copy-up needs to issue a COPY.
type Port interface {
	SubmitCopy(ctx context.Context, newTarget, parent string) (request.Handle, error)
}

// Tracker maps outstanding COPY handles back to the (volume, index)
// they belong to, so a reply arriving out of order with anything else
// the dispatcher is doing still resolves to the right entry.
type Tracker struct {
	mu       sync.Mutex
	byHandle map[request.Handle]*InFlight
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{byHandle: make(map[request.Handle]*InFlight)}
}

// Issue computes the copy-up target name and submits the COPY. entry is
// only marked COPYING once submission succeeds: per the failure
// taxonomy, a request handle exhaustion must not leave the entry in a
// state future writers believe has a copy-up in flight. The caller is
// responsible for having already confirmed no copy-up was already in
// flight for entry.
func (t *Tracker) Issue(ctx context.Context, port Port, volume string, index uint32, entry *objecttable.Entry) (request.Handle, error) {
	newName := objectname.Derive([]byte(entry.Name), index)

	handle, err := port.SubmitCopy(ctx, newName, entry.Name)
	if err != nil {
		return "", err
	}

	entry.Flags |= objecttable.FlagCopying

	t.mu.Lock()
	t.byHandle[handle] = &InFlight{Volume: volume, Index: index, NewName: newName, Entry: entry}
	t.mu.Unlock()

	return handle, nil
}

// Complete resolves a COPY reply and returns every request parked on
// the entry, for the dispatcher to re-dispatch. On success, it clears
// COPYING, sets EXIST, and renames the entry to the privately-owned
// copy; a re-dispatched request re-enters translation at index i₀ and
// this time finds EXIST set. On failure, COPYING is cleared (a later
// write may retry the copy-up from scratch) and every parked request is
// marked with the sticky error instead: it fails as soon as it reaches
// the write handler again, without re-translating. A handle Complete
// does not recognize returns (nil, nil).
func (t *Tracker) Complete(handle request.Handle, err error) (*InFlight, []*request.ClientRequest) {
	t.mu.Lock()
	inFlight, ok := t.byHandle[handle]
	if ok {
		delete(t.byHandle, handle)
	}
	t.mu.Unlock()

	if !ok {
		return nil, nil
	}

	entry := inFlight.Entry
	entry.Flags &^= objecttable.FlagCopying

	if err != nil {
		pending := entry.Drain()
		for _, r := range pending {
			r.MarkErr(err)
		}
		return inFlight, pending
	}

	entry.Flags |= objecttable.FlagExist
	entry.Name = inFlight.NewName

	return inFlight, entry.Drain()
}

// Package objecttable holds the per-volume table mapping block index to
// backing object name, along with the EXIST/COPYING state that drives
// copy-up.
package objecttable

import "github.com/archipelago/mapperd/pkg/request"

// Flags is a bitset of per-entry state.
type Flags uint8

const (
	// FlagExist marks an entry whose Name is a privately owned object
	// that can be written in place. Entries inherited from a parent (a
	// legacy map or a CLONE) lack it until a copy-up completes.
	FlagExist Flags = 1 << iota

	// FlagCopying marks an entry with a copy-up in flight. Writers that
	// land on a COPYING entry park on its pending queue instead of
	// racing the in-flight copy.
	FlagCopying
)

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Entry is one block-index slot of a volume's object table.
type Entry struct {
	Index   uint32
	Name    string
	Flags   Flags
	pending []*request.ClientRequest
}

// Exist reports whether Name is currently safe to read or write in
// place, without triggering a copy-up.
func (e *Entry) Exist() bool { return e.Flags.Has(FlagExist) }

// Copying reports whether a copy-up is in flight for this entry.
func (e *Entry) Copying() bool { return e.Flags.Has(FlagCopying) }

// Enqueue parks r on the entry's pending queue, to be resumed once the
// in-flight copy-up completes.
func (e *Entry) Enqueue(r *request.ClientRequest) {
	e.pending = append(e.pending, r)
}

// Drain removes and returns every request parked on the entry, in FIFO
// order.
func (e *Entry) Drain() []*request.ClientRequest {
	p := e.pending
	e.pending = nil
	return p
}

// Table is the per-volume index -> Entry map. It never grows implicitly:
// an index with no Entry is simply "not found", and callers must Insert
// one before it can be read or written.
type Table struct {
	entries map[uint32]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[uint32]*Entry)}
}

// Find looks up the entry at index.
func (t *Table) Find(index uint32) (*Entry, bool) {
	e, ok := t.entries[index]
	return e, ok
}

// Insert adds or replaces the entry at e.Index.
func (t *Table) Insert(e *Entry) {
	t.entries[e.Index] = e
}

// Len returns the number of entries currently in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

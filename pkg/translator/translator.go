// Package translator turns a volume-relative (offset, size) range into
// the scatter/gather list of backing-object segments that cover it, and
// detects when a write needs copy-up before it can proceed.
package translator

import (
	"errors"
	"fmt"

	"github.com/archipelago/mapperd/pkg/mapcache"
	"github.com/archipelago/mapperd/pkg/mapper"
	"github.com/archipelago/mapperd/pkg/objecttable"
	"github.com/archipelago/mapperd/pkg/request"
)

// ErrOutOfRange is returned when the requested range extends past the
// volume's declared size.
var ErrOutOfRange = errors.New("translator: range extends past volume size")

// ErrMissingEntry indicates the map's object table has no entry for a
// block index its own size implies it should: a corrupt or
// incompletely-loaded map.
var ErrMissingEntry = errors.New("translator: object table missing entry")

// Outcome is the result of translating one request. Exactly one of
// Segments or Blocking is meaningful, selected by Ready.
type Outcome struct {
	Ready    bool
	Segments []request.Segment

	// Blocking describes the first block, in offset order, that stopped
	// a write from completing immediately.
	Blocking *Blocking
}

// Blocking names the object-table entry a write is waiting on.
type Blocking struct {
	Index  uint32
	Entry  *objecttable.Entry
	// NeedsCopyUp is true when no copy-up is in flight yet for Entry
	// (the dispatcher must issue one); false means one is already in
	// flight and the request only needs to park on Entry's queue.
	NeedsCopyUp bool
}

// Translate splits [offset, offset+size) into BlockSize-aligned
// segments against m's object table.
//
// Reads are satisfied directly from whatever object a block's entry
// currently names, EXIST/COPYING notwithstanding: the old shared object
// stays readable for the lifetime of a copy-up. Writes require private
// ownership of every touched block; the first block found without it
// stops translation and is reported via Blocking so the caller can
// park the request (and issue a copy-up, if none is in flight yet).
func Translate(m *mapcache.Map, offset, size uint64, write bool) (Outcome, error) {
	if size == 0 {
		return Outcome{Ready: true, Segments: nil}, nil
	}
	if offset+size > m.Size {
		return Outcome{}, fmt.Errorf("%w: offset=%d size=%d volume_size=%d", ErrOutOfRange, offset, size, m.Size)
	}

	startIndex := uint32(offset / mapper.BlockSize)
	endIndex := uint32((offset + size - 1) / mapper.BlockSize)

	segments := make([]request.Segment, 0, endIndex-startIndex+1)

	for index := startIndex; index <= endIndex; index++ {
		entry, ok := m.Objects.Find(index)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: index %d", ErrMissingEntry, index)
		}

		blockStart := uint64(index) * mapper.BlockSize
		localOffset := uint64(0)
		if offset > blockStart {
			localOffset = offset - blockStart
		}
		blockEnd := blockStart + mapper.BlockSize
		rangeEnd := offset + size
		segEnd := blockEnd
		if rangeEnd < segEnd {
			segEnd = rangeEnd
		}
		localSize := segEnd - (blockStart + localOffset)

		if write && !entry.Exist() {
			return Outcome{
				Ready: false,
				Blocking: &Blocking{
					Index:       index,
					Entry:       entry,
					NeedsCopyUp: !entry.Copying(),
				},
			}, nil
		}

		segments = append(segments, request.Segment{
			Object: entry.Name,
			Offset: uint32(localOffset),
			Size:   uint32(localSize),
		})
	}

	return Outcome{Ready: true, Segments: segments}, nil
}

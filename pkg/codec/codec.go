// Package codec serializes and deserializes a map's header and object
// table. It understands two on-disk formats: the native format (a magic
// header followed by fixed-width object records) and the legacy "pithos"
// format (a block of raw digests) that native maps must coexist with.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/archipelago/mapperd/pkg/mapper"
	"github.com/archipelago/mapperd/pkg/objecttable"
)

// magicString is hashed once at process start to tag native-format map
// blocks. It must never be recomputed per request.
const magicString = "This a magic string. Please hash me"

var (
	magicOnce sync.Once
	magic     [mapper.DigestSize]byte

	zeroBlockOnce sync.Once
	zeroBlockName string
)

// Magic returns the SHA-256 digest of magicString, computed once.
func Magic() [mapper.DigestSize]byte {
	magicOnce.Do(func() {
		magic = sha256.Sum256([]byte(magicString))
	})
	return magic
}

// ZeroBlockName returns the hex-expanded SHA-256 of a BlockSize-sized
// all-zero buffer: the sentinel name CLONE fills absent indices with.
func ZeroBlockName() string {
	zeroBlockOnce.Do(func() {
		zero := make([]byte, mapper.BlockSize)
		sum := sha256.Sum256(zero)
		zeroBlockName = hex.EncodeToString(sum[:])
	})
	return zeroBlockName
}

// Format identifies which on-disk layout a decoded map block used.
type Format int

const (
	FormatNative Format = iota
	FormatLegacy
)

func (f Format) String() string {
	if f == FormatLegacy {
		return "legacy"
	}
	return "native"
}

var (
	// ErrUnreadable indicates the leading digest of the map block is all
	// zero: an erased or never-written map.
	ErrUnreadable = errors.New("codec: map block is unreadable")

	// ErrTruncated indicates the buffer is shorter than the format it
	// claims to be requires.
	ErrTruncated = errors.New("codec: map block is truncated")

	// ErrMissingEntry indicates Encode was asked to serialize an object
	// table with a gap in it. This is a programming error, not a runtime
	// condition: every index in [0, ObjectCount(size)) must have an entry
	// before a map is encoded.
	ErrMissingEntry = errors.New("codec: internal error, missing object table entry")
)

// Decode detects the format of buf and decodes it into a volume size and
// object table. Detection: if the leading DigestSize bytes are all zero,
// the map is unreadable. Otherwise, equality with Magic() selects native
// vs. legacy.
func Decode(buf []byte) (size uint64, table *objecttable.Table, format Format, err error) {
	if len(buf) < mapper.DigestSize {
		return 0, nil, 0, ErrTruncated
	}

	if allZero(buf[:mapper.DigestSize]) {
		return 0, nil, 0, ErrUnreadable
	}

	m := Magic()
	if bytes.Equal(buf[:mapper.DigestSize], m[:]) {
		return decodeNative(buf)
	}
	return decodeLegacy(buf)
}

func decodeNative(buf []byte) (uint64, *objecttable.Table, Format, error) {
	if len(buf) < mapper.HeaderSize {
		return 0, nil, FormatNative, ErrTruncated
	}

	size := binary.LittleEndian.Uint64(buf[mapper.DigestSize:mapper.HeaderSize])
	count := mapper.ObjectCount(size)

	table := objecttable.New()
	pos := mapper.HeaderSize
	for i := uint32(0); i < count; i++ {
		if pos+mapper.ObjectRecordSize > len(buf) {
			return 0, nil, FormatNative, ErrTruncated
		}

		rec := buf[pos : pos+mapper.ObjectRecordSize]
		name := strings.TrimRight(string(rec[1:1+mapper.MaxTargetLen]), "\x00")

		var flags objecttable.Flags
		if rec[0] == 1 {
			flags |= objecttable.FlagExist
		}

		table.Insert(&objecttable.Entry{Index: i, Name: name, Flags: flags})
		pos += mapper.ObjectRecordSize
	}

	return size, table, FormatNative, nil
}

// decodeLegacy decodes a "pithos" map: a BlockSize buffer of back-to-back
// 32-byte digests. The entry count is the number of leading non-zero
// digests; the first all-zero digest terminates the table.
func decodeLegacy(buf []byte) (uint64, *objecttable.Table, Format, error) {
	maxEntries := mapper.BlockSize / mapper.DigestSize
	table := objecttable.New()

	var i uint32
	for i = 0; int(i) < maxEntries; i++ {
		start := int(i) * mapper.DigestSize
		if start+mapper.DigestSize > len(buf) {
			break
		}

		digest := buf[start : start+mapper.DigestSize]
		if allZero(digest) {
			break
		}

		table.Insert(&objecttable.Entry{
			Index: i,
			Name:  hex.EncodeToString(digest),
			Flags: 0, // legacy entries carry no EXIST bit
		})
	}

	size := uint64(table.Len()) * mapper.BlockSize
	return size, table, FormatLegacy, nil
}

// Encode serializes a map's size and object table into the native
// BlockSize-bounded layout: a 40-byte header followed by
// ⌈size/BlockSize⌉ fixed-width object records. Every index the header
// implies must have a table entry; a missing entry is a programming
// error and Encode returns ErrMissingEntry rather than guessing.
func Encode(size uint64, table *objecttable.Table) ([]byte, error) {
	count := mapper.ObjectCount(size)

	buf := make([]byte, mapper.HeaderSize+int(count)*mapper.ObjectRecordSize)
	m := Magic()
	copy(buf[:mapper.DigestSize], m[:])
	binary.LittleEndian.PutUint64(buf[mapper.DigestSize:mapper.HeaderSize], size)

	pos := mapper.HeaderSize
	for i := uint32(0); i < count; i++ {
		entry, ok := table.Find(i)
		if !ok {
			return nil, fmt.Errorf("%w: index %d", ErrMissingEntry, i)
		}

		rec := buf[pos : pos+mapper.ObjectRecordSize]
		if entry.Exist() {
			rec[0] = 1
		}
		copy(rec[1:], entry.Name)

		pos += mapper.ObjectRecordSize
	}

	return buf, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archipelago/mapperd/pkg/mapper"
	"github.com/archipelago/mapperd/pkg/objecttable"
)

func newReadyTable(names ...string) *objecttable.Table {
	table := objecttable.New()
	for i, name := range names {
		table.Insert(&objecttable.Entry{
			Index: uint32(i),
			Name:  name,
			Flags: objecttable.FlagExist,
		})
	}
	return table
}

func TestMagicIsStableAcrossCalls(t *testing.T) {
	a := Magic()
	b := Magic()
	assert.Equal(t, a, b)

	want := sha256.Sum256([]byte(magicString))
	assert.Equal(t, want, a)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	table := newReadyTable("aaaa", "bbbb", "cccc")
	size := uint64(3) * mapper.BlockSize

	buf, err := Encode(size, table)
	require.NoError(t, err)
	assert.Len(t, buf, mapper.HeaderSize+3*mapper.ObjectRecordSize)

	gotSize, gotTable, format, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, FormatNative, format)
	assert.Equal(t, size, gotSize)

	for i, name := range []string{"aaaa", "bbbb", "cccc"} {
		entry, ok := gotTable.Find(uint32(i))
		require.True(t, ok)
		assert.Equal(t, name, entry.Name)
		assert.True(t, entry.Exist())
	}
}

func TestEncodeMissingEntryFails(t *testing.T) {
	table := objecttable.New()
	table.Insert(&objecttable.Entry{Index: 0, Name: "only-one", Flags: objecttable.FlagExist})

	_, err := Encode(2*mapper.BlockSize, table)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingEntry)
}

func TestDecodeUnreadableOnZeroHeader(t *testing.T) {
	buf := make([]byte, mapper.HeaderSize)
	_, _, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	_, _, _, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeNativeTruncatedRecords(t *testing.T) {
	table := newReadyTable("aaaa", "bbbb")
	buf, err := Encode(2*mapper.BlockSize, table)
	require.NoError(t, err)

	_, _, _, err = Decode(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeLegacyFormat(t *testing.T) {
	buf := make([]byte, mapper.BlockSize)

	d0 := sha256.Sum256([]byte("object-zero"))
	d1 := sha256.Sum256([]byte("object-one"))
	copy(buf[0:mapper.DigestSize], d0[:])
	copy(buf[mapper.DigestSize:2*mapper.DigestSize], d1[:])
	// remaining digests stay zero, terminating the table

	size, table, format, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, FormatLegacy, format)
	assert.Equal(t, uint64(2)*mapper.BlockSize, size)

	e0, ok := table.Find(0)
	require.True(t, ok)
	assert.Equal(t, hex.EncodeToString(d0[:]), e0.Name)
	assert.False(t, e0.Exist(), "legacy entries carry no EXIST bit")

	e1, ok := table.Find(1)
	require.True(t, ok)
	assert.Equal(t, hex.EncodeToString(d1[:]), e1.Name)

	_, ok = table.Find(2)
	assert.False(t, ok)
}

func TestDecodeLegacyAllZeroIsUnreadable(t *testing.T) {
	buf := make([]byte, mapper.BlockSize)
	_, _, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestDecodeDetectsNativeViaMagic(t *testing.T) {
	buf := make([]byte, mapper.HeaderSize)
	m := Magic()
	copy(buf[:mapper.DigestSize], m[:])
	binary.LittleEndian.PutUint64(buf[mapper.DigestSize:mapper.HeaderSize], 0)

	size, table, format, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, FormatNative, format)
	assert.Equal(t, uint64(0), size)
	assert.Equal(t, 0, table.Len())
}

func TestZeroBlockNameIsStableAndMatchesDigest(t *testing.T) {
	a := ZeroBlockName()
	b := ZeroBlockName()
	assert.Equal(t, a, b)

	zero := make([]byte, mapper.BlockSize)
	want := sha256.Sum256(zero)
	assert.Equal(t, hex.EncodeToString(want[:]), a)
}

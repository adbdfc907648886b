package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archipelago/mapperd/pkg/mapcache"
	"github.com/archipelago/mapperd/pkg/mapper"
	"github.com/archipelago/mapperd/pkg/objecttable"
)

func threeBlockMap() *mapcache.Map {
	table := objecttable.New()
	table.Insert(&objecttable.Entry{Index: 0, Name: "obj-0", Flags: objecttable.FlagExist})
	table.Insert(&objecttable.Entry{Index: 1, Name: "obj-1"}) // shared, not owned
	table.Insert(&objecttable.Entry{Index: 2, Name: "obj-2", Flags: objecttable.FlagCopying})

	return &mapcache.Map{
		Volume:  "vol1",
		Size:    3 * mapper.BlockSize,
		State:   mapcache.Ready,
		Objects: table,
	}
}

func TestTranslateReadWithinSingleBlock(t *testing.T) {
	m := threeBlockMap()

	out, err := Translate(m, 10, 100, false)
	require.NoError(t, err)
	require.True(t, out.Ready)
	require.Len(t, out.Segments, 1)
	assert.Equal(t, "obj-0", out.Segments[0].Object)
	assert.Equal(t, uint32(10), out.Segments[0].Offset)
	assert.Equal(t, uint32(100), out.Segments[0].Size)
}

func TestTranslateReadIgnoresExistAndCopying(t *testing.T) {
	m := threeBlockMap()

	out, err := Translate(m, mapper.BlockSize, 10, false)
	require.NoError(t, err)
	require.True(t, out.Ready)
	assert.Equal(t, "obj-1", out.Segments[0].Object)

	out, err = Translate(m, 2*mapper.BlockSize, 10, false)
	require.NoError(t, err)
	require.True(t, out.Ready)
	assert.Equal(t, "obj-2", out.Segments[0].Object)
}

func TestTranslateReadSpanningBlocks(t *testing.T) {
	m := threeBlockMap()

	start := mapper.BlockSize - 5
	out, err := Translate(m, uint64(start), 10, false)
	require.NoError(t, err)
	require.True(t, out.Ready)
	require.Len(t, out.Segments, 2)

	assert.Equal(t, "obj-0", out.Segments[0].Object)
	assert.Equal(t, uint32(start), out.Segments[0].Offset)
	assert.Equal(t, uint32(5), out.Segments[0].Size)

	assert.Equal(t, "obj-1", out.Segments[1].Object)
	assert.Equal(t, uint32(0), out.Segments[1].Offset)
	assert.Equal(t, uint32(5), out.Segments[1].Size)
}

func TestTranslateWriteToOwnedBlockSucceeds(t *testing.T) {
	m := threeBlockMap()

	out, err := Translate(m, 0, 10, true)
	require.NoError(t, err)
	assert.True(t, out.Ready)
	assert.Equal(t, "obj-0", out.Segments[0].Object)
}

func TestTranslateWriteToSharedBlockNeedsCopyUp(t *testing.T) {
	m := threeBlockMap()

	out, err := Translate(m, mapper.BlockSize, 10, true)
	require.NoError(t, err)
	require.False(t, out.Ready)
	require.NotNil(t, out.Blocking)
	assert.Equal(t, uint32(1), out.Blocking.Index)
	assert.True(t, out.Blocking.NeedsCopyUp)
}

func TestTranslateWriteToCopyingBlockParksWithoutNewCopyUp(t *testing.T) {
	m := threeBlockMap()

	out, err := Translate(m, 2*mapper.BlockSize, 10, true)
	require.NoError(t, err)
	require.False(t, out.Ready)
	require.NotNil(t, out.Blocking)
	assert.Equal(t, uint32(2), out.Blocking.Index)
	assert.False(t, out.Blocking.NeedsCopyUp, "a copy-up already in flight must not trigger a second one")
}

func TestTranslateOutOfRangeFails(t *testing.T) {
	m := threeBlockMap()

	_, err := Translate(m, m.Size-1, 10, false)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestTranslateZeroSizeIsTriviallyReady(t *testing.T) {
	m := threeBlockMap()

	out, err := Translate(m, 0, 0, true)
	require.NoError(t, err)
	assert.True(t, out.Ready)
	assert.Empty(t, out.Segments)
}

func TestTranslateMissingEntryFails(t *testing.T) {
	table := objecttable.New()
	m := &mapcache.Map{Volume: "vol1", Size: mapper.BlockSize, Objects: table}

	_, err := Translate(m, 0, 10, false)
	assert.ErrorIs(t, err, ErrMissingEntry)
}

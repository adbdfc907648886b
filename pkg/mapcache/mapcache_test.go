package mapcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archipelago/mapperd/pkg/objecttable"
	"github.com/archipelago/mapperd/pkg/request"
)

func TestFindOrLoadReturnsReadyMapDirectly(t *testing.T) {
	c := New()
	ready := &Map{Volume: "vol1", State: Ready, Objects: objecttable.New()}
	c.Insert(ready)

	pr := request.NewClientRequest(request.OpMapRead, "vol1")
	result, m, _, err := c.FindOrLoad(context.Background(), pr, "vol1", func(context.Context, string) (request.Handle, error) {
		t.Fatal("issue must not be called for an already-ready map")
		return "", nil
	})

	require.NoError(t, err)
	assert.Equal(t, LoadReady, result)
	assert.Same(t, ready, m)
}

func TestFindOrLoadIssuesForColdVolume(t *testing.T) {
	c := New()
	issued := false

	pr := request.NewClientRequest(request.OpMapRead, "vol1")
	result, m, handle, err := c.FindOrLoad(context.Background(), pr, "vol1", func(context.Context, string) (request.Handle, error) {
		issued = true
		return "h-1", nil
	})

	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, LoadPending, result)
	assert.Equal(t, request.Handle("h-1"), handle)
	assert.Equal(t, Loading, m.State)
}

func TestFindOrLoadJoinsAlreadyLoadingVolume(t *testing.T) {
	c := New()

	first := request.NewClientRequest(request.OpMapRead, "vol1")
	_, m, _, err := c.FindOrLoad(context.Background(), first, "vol1", func(context.Context, string) (request.Handle, error) {
		return "h-1", nil
	})
	require.NoError(t, err)

	second := request.NewClientRequest(request.OpMapWrite, "vol1")
	result, m2, _, err := c.FindOrLoad(context.Background(), second, "vol1", func(context.Context, string) (request.Handle, error) {
		t.Fatal("a second load must not be issued while one is in flight")
		return "", nil
	})

	require.NoError(t, err)
	assert.Equal(t, LoadPending, result)
	assert.Same(t, m, m2)

	drained := m.Drain()
	require.Len(t, drained, 2)
	assert.Same(t, first, drained[0])
	assert.Same(t, second, drained[1])
}

func TestFindOrLoadDestroyedVolumeFailsFast(t *testing.T) {
	c := New()
	c.Insert(&Map{Volume: "vol1", State: Destroyed})

	pr := request.NewClientRequest(request.OpMapRead, "vol1")
	result, _, _, err := c.FindOrLoad(context.Background(), pr, "vol1", nil)

	require.NoError(t, err)
	assert.Equal(t, LoadError, result)
}

func TestFindOrLoadIssueErrorDestroysMap(t *testing.T) {
	c := New()
	sentinel := errors.New("backing store unreachable")

	pr := request.NewClientRequest(request.OpMapRead, "vol1")
	result, m, _, err := c.FindOrLoad(context.Background(), pr, "vol1", func(context.Context, string) (request.Handle, error) {
		return "", sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, LoadError, result)
	assert.Equal(t, Destroyed, m.State)

	_, ok := c.Find("vol1")
	assert.False(t, ok, "a map whose load failed to issue must be evicted, not wedged in the cache")
}

func TestFindOrLoadIssueErrorAllowsFreshRetry(t *testing.T) {
	c := New()
	sentinel := errors.New("backing store unreachable")

	first := request.NewClientRequest(request.OpMapRead, "vol1")
	_, _, _, err := c.FindOrLoad(context.Background(), first, "vol1", func(context.Context, string) (request.Handle, error) {
		return "", sentinel
	})
	require.ErrorIs(t, err, sentinel)

	second := request.NewClientRequest(request.OpMapRead, "vol1")
	result, _, handle, err := c.FindOrLoad(context.Background(), second, "vol1", func(context.Context, string) (request.Handle, error) {
		return "handle-2", nil
	})

	require.NoError(t, err)
	assert.Equal(t, LoadPending, result)
	assert.Equal(t, request.Handle("handle-2"), handle)
}

func TestRemoveEvictsMap(t *testing.T) {
	c := New()
	c.Insert(&Map{Volume: "vol1", State: Ready})
	c.Remove("vol1")

	_, ok := c.Find("vol1")
	assert.False(t, ok)
}

package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequestHasIDAndReplyChannel(t *testing.T) {
	r := NewClientRequest(OpMapRead, "vol1")
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, OpMapRead, r.Op)
	assert.Equal(t, "vol1", r.Volume)
	require.NotNil(t, r.Reply)
}

func TestSucceedDeliversResult(t *testing.T) {
	r := NewClientRequest(OpInfo, "vol1")
	r.Succeed(Result{Size: 4096})

	res := <-r.Reply
	assert.NoError(t, res.Err)
	assert.Equal(t, uint64(4096), res.Size)
}

func TestFailSetsStickyErrAndDeliversFailure(t *testing.T) {
	r := NewClientRequest(OpMapWrite, "vol1")
	sentinel := assert.AnError
	r.Fail(sentinel)

	res := <-r.Reply
	assert.ErrorIs(t, res.Err, sentinel)
	assert.ErrorIs(t, r.Err, sentinel)
}

func TestSucceedAfterFailStillReportsFailure(t *testing.T) {
	r := NewClientRequest(OpMapWrite, "vol1")
	r.Err = assert.AnError

	r.Reply = make(chan Result, 1)
	r.Succeed(Result{Segments: []Segment{{Object: "x", Offset: 0, Size: 1}}})

	res := <-r.Reply
	assert.ErrorIs(t, res.Err, assert.AnError)
	assert.Nil(t, res.Segments)
}

func TestFailIsIdempotentAboutTheFirstError(t *testing.T) {
	r := NewClientRequest(OpMapRead, "vol1")
	first := assert.AnError
	r.Fail(first)
	r.Reply = make(chan Result, 1)
	r.Fail(assert.AnError)

	assert.ErrorIs(t, r.Err, first)
}

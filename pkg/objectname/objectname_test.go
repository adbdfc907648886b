package objectname

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveMatchesManualPreimage(t *testing.T) {
	parent := []byte("deadbeef")
	want := sha256.Sum256([]byte("deadbeef5"))

	got := Derive(parent, 5)

	assert.Equal(t, hex.EncodeToString(want[:]), got)
	assert.Len(t, got, 64)
}

func TestDeriveIsDeterministic(t *testing.T) {
	parent := []byte("abc123")

	a := Derive(parent, 7)
	b := Derive(parent, 7)

	assert.Equal(t, a, b)
}

func TestDeriveDiffersByIndex(t *testing.T) {
	parent := []byte("abc123")

	a := Derive(parent, 0)
	b := Derive(parent, 1)

	assert.NotEqual(t, a, b)
}

func TestDeriveDiffersByParent(t *testing.T) {
	a := Derive([]byte("p1"), 0)
	b := Derive([]byte("p2"), 0)

	assert.NotEqual(t, a, b)
}

// Package objectname derives the deterministic, content-address-style
// object names used on copy-up.
package objectname

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Derive computes the name of the private object a copy-up of parent at
// the given index produces:
//
//	preimage = parent ∥ decimal(index)
//	name     = hex_lower(sha256(preimage))
//
// Any client that computes the same derivation observes the same target,
// so copy-up does not need a central name allocator.
func Derive(parent []byte, index uint32) string {
	suffix := strconv.FormatUint(uint64(index), 10)

	preimage := make([]byte, 0, len(parent)+len(suffix))
	preimage = append(preimage, parent...)
	preimage = append(preimage, suffix...)

	digest := sha256.Sum256(preimage)
	return hex.EncodeToString(digest[:])
}

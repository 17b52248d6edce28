// Package util provides shared utility functions.
package util

import (
	"crypto/rand"
	"math/big"
)

// MaxSessionUID is the upper bound of media session uids.
const MaxSessionUID = 100000

// RandomUID returns a uniformly random media session uid in [1, MaxSessionUID].
func RandomUID() uint32 {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxSessionUID))
	if err != nil {
		return 1
	}
	return uint32(n.Int64()) + 1
}

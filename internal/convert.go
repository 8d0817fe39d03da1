package internal

import (
	"math"

	"github.com/cockroachdb/errors"
)

var ErrIntOverflow = errors.New("integer overflow")

// Uint64ToInt converts a decoded length into an int, failing instead of wrapping.
func Uint64ToInt(u uint64) (int, error) {
	if u > math.MaxInt64 {
		return 0, errors.WithStack(ErrIntOverflow)
	}
	return int(u), nil
}

// Uint32ToInt converts a decoded 32 bit length into an int.
func Uint32ToInt(u uint32) (int, error) {
	return Uint64ToInt(uint64(u))
}

// IntToUint32 converts a slice length into the 32 bit prefix used by the codecs.
func IntToUint32(i int) (uint32, error) {
	if i < 0 || uint64(i) > math.MaxUint32 {
		return 0, errors.WithStack(ErrIntOverflow)
	}
	return uint32(i), nil
}

package internal

import "github.com/cockroachdb/errors"

// WithStacks annotates err with the caller's stack and passes t through, so a
// two-value call can be returned directly.
func WithStacks[T any](t T, err error) (T, error) {
	//nolint:wrapcheck
	return t, errors.WithStackDepth(err, 1)
}

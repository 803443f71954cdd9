package mwtree

import "github.com/cockroachdb/errors"

// Configuration errors.
var (
	ErrInvalidDimension = errors.New("mwtree: invalid dimension")
	ErrInvalidOrder     = errors.New("mwtree: invalid order")
	ErrInvalidDepth     = errors.New("mwtree: invalid depth")
	ErrInvalidConfig    = errors.New("mwtree: invalid configuration")
)

// Resource exhaustion. These are fatal to the operation that hit them.
var (
	ErrArenaFull    = errors.New("mwtree: arena capacity exceeded")
	ErrGenArenaFull = errors.New("mwtree: generated node capacity exceeded")
)

// Lookup and snapshot errors.
var (
	ErrOutOfBounds      = errors.New("mwtree: coordinate outside root box")
	ErrNodeNotFound     = errors.New("mwtree: node not found")
	ErrSnapshotCorrupt  = errors.New("mwtree: snapshot corrupt")
	ErrSnapshotMismatch = errors.New("mwtree: snapshot does not match tree configuration")
)

// assertf panics with an assertion failure. Structural invariant violations
// are programming errors in a collaborator and are never recovered.
func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}

package builder

import "github.com/cockroachdb/errors"

// Configuration errors. They are reported before any tree mutation.
var (
	ErrNoCalculator      = errors.New("builder: calculator not set")
	ErrNoAdaptor         = errors.New("builder: adaptor not set")
	ErrIncompatibleTrees = errors.New("builder: trees do not share a root box")
)

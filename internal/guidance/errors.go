package guidance

import (
	"errors"

	"github.com/fyrsmithlabs/guidanced/internal/vectorindex"
)

var (
	// ErrEmptyStrategy is returned when a strategy is empty or whitespace.
	ErrEmptyStrategy = errors.New("strategy is empty")

	// ErrPatternNotFound is returned for an unknown pattern id.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrInvalidConfig indicates an out-of-range store setting.
	ErrInvalidConfig = errors.New("invalid guidance configuration")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the configured dimension.
	ErrDimensionMismatch = vectorindex.ErrDimensionMismatch

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("pattern store is closed")
)

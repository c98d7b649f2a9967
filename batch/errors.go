package batch

import "errors"

var (
	// ErrNilSource is returned by New when no event source is given.
	ErrNilSource = errors.New("batch: event source is required")
	// ErrNoEvents is returned by New when the event name set is empty or contains an empty name.
	ErrNoEvents = errors.New("batch: at least one non-empty event name is required")
	// ErrNilHandler is returned by New when the handler is nil.
	ErrNilHandler = errors.New("batch: handler is required")
	// ErrInvalidInterval is returned for a non-positive poll interval.
	ErrInvalidInterval = errors.New("batch: interval must be positive")
	// ErrInvalidBatchSize is returned for a non-positive batch size.
	ErrInvalidBatchSize = errors.New("batch: batch size must be positive")
)

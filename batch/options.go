package batch

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the pause between two drain cycles.
	DefaultInterval = time.Second
	// DefaultBatchSize is the maximum number of items handed to the handler at once.
	DefaultBatchSize = 500
)

type options[T any] struct {
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	queue     Queue[T]
	name      string
}

// Option configures a Processor
type Option[T any] func(*options[T])

// WithInterval sets the pause between drain cycles
func WithInterval[T any](d time.Duration) Option[T] {
	return func(o *options[T]) {
		o.interval = d
	}
}

// WithBatchSize sets the maximum batch size
func WithBatchSize[T any](n int) Option[T] {
	return func(o *options[T]) {
		o.batchSize = n
	}
}

// WithLogger sets the logger used for overflow warnings and handler failures.
// Defaults to zap.L().
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(o *options[T]) {
		o.logger = l
	}
}

// WithQueue replaces the default StackQueue
func WithQueue[T any](q Queue[T]) Option[T] {
	return func(o *options[T]) {
		o.queue = q
	}
}

// WithName sets the label used in logs and metrics.
// Defaults to the event names joined by a comma.
func WithName[T any](name string) Option[T] {
	return func(o *options[T]) {
		o.name = name
	}
}

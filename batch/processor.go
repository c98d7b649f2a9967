package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/gabihodoroga/pubsub-batcher/eventbus"
)

var tracer = otel.Tracer("github.com/gabihodoroga/pubsub-batcher/batch")

// Handler consumes one batch. A returned error drops the batch.
type Handler[T any] func(ctx context.Context, batch []T) error

// Stats is a snapshot of the processor counters
type Stats struct {
	Received  int64 `json:"received"`
	Processed int64 `json:"processed"`
	Batches   int64 `json:"batches"`
	Failed    int64 `json:"failed"`
	Overflows int64 `json:"overflows"`
	Pending   int   `json:"pending"`
}

// Processor buffers events from a Source and hands them to a Handler in
// batches of at most batchSize, one batch per interval. At most one batch is
// in flight at any time.
type Processor[T any] struct {
	events    []string
	handler   Handler[T]
	interval  time.Duration
	batchSize int
	queue     Queue[T]
	logger    *zap.Logger
	name      string

	subs []eventbus.Subscription

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	received  int64
	processed int64
	batches   int64
	failed    int64
	overflows int64
}

// New subscribes a processor to every name in events and starts its loop.
// New never blocks; the first batch is drained one interval later.
func New[T any](source eventbus.Source[T], events []string, handler Handler[T], opts ...Option[T]) (*Processor[T], error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	for _, e := range events {
		if e == "" {
			return nil, ErrNoEvents
		}
	}

	o := &options[T]{
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.interval <= 0 {
		return nil, errors.Wrapf(ErrInvalidInterval, "interval %s", o.interval)
	}
	if o.batchSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidBatchSize, "batch size %d", o.batchSize)
	}
	if o.queue == nil {
		o.queue = NewStackQueue[T]()
	}
	if o.logger == nil {
		o.logger = zap.L()
	}
	if o.name == "" {
		o.name = strings.Join(events, ",")
	}

	p := &Processor[T]{
		events:    append([]string(nil), events...),
		handler:   handler,
		interval:  o.interval,
		batchSize: o.batchSize,
		queue:     o.queue,
		logger:    o.logger.With(zap.String("processor", o.name)),
		name:      o.name,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, name := range p.events {
		p.subs = append(p.subs, source.On(name, p.push))
	}

	go p.run()
	return p, nil
}

func (p *Processor[T]) push(payload T) {
	p.queue.Push(payload)
	atomic.AddInt64(&p.received, 1)
	eventsReceivedCount.WithLabelValues(p.name).Inc()
}

func (p *Processor[T]) run() {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			p.logger.Debug("batch: stop requested, loop exiting")
			return
		case <-timer.C:
		}

		// a stop that raced with the timer still wins
		select {
		case <-p.stop:
			p.logger.Debug("batch: stop requested, loop exiting")
			return
		default:
		}

		p.consume()
		timer.Reset(p.interval)
	}
}

// consume runs one drain cycle
func (p *Processor[T]) consume() {
	items := p.queue.Drain(p.batchSize)
	if len(items) == 0 {
		return
	}

	remaining := p.queue.Len()
	queueLength.WithLabelValues(p.name).Set(float64(remaining))
	if remaining > p.batchSize {
		atomic.AddInt64(&p.overflows, 1)
		overflowCount.WithLabelValues(p.name).Inc()
		p.logger.Warn("batch: queue is growing faster than it can be drained",
			zap.Strings("events", p.events),
			zap.Int("queue_length", remaining),
			zap.Int("batch_size", p.batchSize))
	}

	batchID := uuid.New().String()
	ctx, span := tracer.Start(context.Background(), "batch/process")
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("batch.processor", p.name),
		attribute.Int("batch.size", len(items)),
	)
	defer span.End()

	atomic.AddInt64(&p.batches, 1)
	if err := p.handle(ctx, items); err != nil {
		atomic.AddInt64(&p.failed, 1)
		batchesFailedCount.WithLabelValues(p.name).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("batch: handler failed, batch dropped",
			zap.String("batch_id", batchID),
			zap.Strings("events", p.events),
			zap.String("batch", serialize(items)),
			zap.Error(err))
		return
	}

	atomic.AddInt64(&p.processed, int64(len(items)))
	eventsProcessedCount.WithLabelValues(p.name).Add(float64(len(items)))
	p.logger.Debug("batch: processed", zap.String("batch_id", batchID), zap.Int("size", len(items)))
}

// handle calls the handler, turning a panic into an error
func (p *Processor[T]) handle(ctx context.Context, items []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch: handler panic: %v", r)
		}
	}()
	return p.handler(ctx, items)
}

func serialize(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// Stop asks the loop to exit and waits until it has, or until ctx is done.
// A handler call already in progress is not interrupted. Stop is idempotent.
func (p *Processor[T]) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stop)
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "batch: waiting for in-flight batch")
	}
}

// Done is closed once the loop has exited
func (p *Processor[T]) Done() <-chan struct{} {
	return p.done
}

// Unsubscribe removes the processor's listeners from the event source.
// Stop leaves them registered; events emitted afterwards are still queued.
func (p *Processor[T]) Unsubscribe() {
	for _, s := range p.subs {
		s.Unsubscribe()
	}
}

// Stats returns the current counters
func (p *Processor[T]) Stats() Stats {
	return Stats{
		Received:  atomic.LoadInt64(&p.received),
		Processed: atomic.LoadInt64(&p.processed),
		Batches:   atomic.LoadInt64(&p.batches),
		Failed:    atomic.LoadInt64(&p.failed),
		Overflows: atomic.LoadInt64(&p.overflows),
		Pending:   p.queue.Len(),
	}
}

// Events returns the subscribed event names
func (p *Processor[T]) Events() []string {
	return append([]string(nil), p.events...)
}

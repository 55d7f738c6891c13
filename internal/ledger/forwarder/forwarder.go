// Package forwarder ships appended ledger entries to an external sink without
// blocking the request path. Delivery is best effort: the buffer is bounded and
// drops the oldest entries when the sink falls behind.
package forwarder

import (
	"context"
	"io"
	"log/slog"
	"time"

	"attendguard/internal/ledger"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	drainTimeout         = 5 * time.Second
)

// Sink delivers a batch of entries.
type Sink interface {
	Send(ctx context.Context, entries []ledger.Entry) error
}

// Forwarder implements ledger.Publisher.
type Forwarder struct {
	buffer        *RingBuffer
	sink          Sink
	logger        *slog.Logger
	metrics       *Metrics
	batchSize     int
	flushInterval time.Duration
	wake          chan struct{}
}

type Option func(*Forwarder)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.flushInterval = d
		}
	}
}

func New(sink Sink, capacity int, opts ...Option) *Forwarder {
	f := &Forwarder{
		buffer:        NewRingBuffer(capacity),
		sink:          sink,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish queues an entry. It never blocks.
func (f *Forwarder) Publish(_ context.Context, e ledger.Entry) {
	if f.buffer.Enqueue(e) {
		f.metrics.IncDropped()
	}
	f.metrics.SetQueued(f.buffer.Len())
	if f.buffer.Len() >= f.batchSize {
		select {
		case f.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued entries.
func (f *Forwarder) Pending() int {
	return f.buffer.Len()
}

// Run flushes the buffer until ctx is cancelled, then drains what is left.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			f.Flush(drainCtx)
			cancel()
			return nil
		case <-ticker.C:
			f.Flush(ctx)
		case <-f.wake:
			f.Flush(ctx)
		}
	}
}

// Flush sends every queued entry in batches. A failed batch is logged and
// counted; its entries are not retried.
func (f *Forwarder) Flush(ctx context.Context) {
	for {
		batch := f.buffer.DequeueBatch(f.batchSize)
		if len(batch) == 0 {
			f.metrics.SetQueued(0)
			return
		}
		if err := f.sink.Send(ctx, batch); err != nil {
			f.metrics.AddFailed(len(batch))
			f.logger.WarnContext(ctx, "ledger forward failed",
				"entries", len(batch),
				"first_event_id", batch[0].EventID,
				"error", err,
			)
			f.metrics.SetQueued(f.buffer.Len())
			return
		}
		f.metrics.AddSent(len(batch))
	}
}

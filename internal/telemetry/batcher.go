// Package telemetry ships pipeline stage events off the hot path. Events are
// buffered in a bounded queue and flushed to a Sink when a batch fills up or
// the flush interval passes, whichever comes first. A full queue drops events.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"analysis-pipeline/internal/pipeline"
)

type Sink interface {
	Write(ctx context.Context, batch []pipeline.Event) error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	WriteTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

type Batcher struct {
	sink Sink
	opts Options
	log  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan pipeline.Event
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewBatcher(sink Sink, opts Options, log zerolog.Logger) *Batcher {
	opts = opts.withDefaults()
	b := &Batcher{
		sink: sink,
		opts: opts,
		log:  log.With().Str("component", "telemetry").Logger(),
		ch:   make(chan pipeline.Event, opts.QueueSize),
		done: make(chan struct{}),
	}
	go b.loop()
	return b
}

// Emit never blocks.
func (b *Batcher) Emit(e pipeline.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped is the number of events discarded because the queue was full or
// the batcher was closed.
func (b *Batcher) Dropped() int64 { return b.dropped.Load() }

// Failed is the number of events lost to sink errors.
func (b *Batcher) Failed() int64 { return b.failed.Load() }

// Close stops accepting events and flushes what is queued. It returns
// ctx.Err() if the drain does not finish in time.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) loop() {
	defer close(b.done)

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]pipeline.Event, 0, b.opts.BatchSize)
	for {
		select {
		case e, ok := <-b.ch:
			if !ok {
				b.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= b.opts.BatchSize {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (b *Batcher) flush(batch []pipeline.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
	defer cancel()

	out := append([]pipeline.Event(nil), batch...)
	if err := b.sink.Write(ctx, out); err != nil {
		b.failed.Add(int64(len(out)))
		b.log.Warn().Err(err).Int("events", len(out)).Msg("flush telemetry")
	}
}

var _ pipeline.Events = (*Batcher)(nil)

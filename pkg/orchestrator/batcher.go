package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
	"github.com/jphoke/mailtls-assessor/pkg/publish"
)

const publishTimeout = 30 * time.Second

// Batcher groups result messages and publishes them when the batch is
// full or the flush interval elapses, whichever comes first.
type Batcher struct {
	publisher publish.Publisher
	size      int
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Recorder

	mu      sync.Mutex
	pending []assess.ResultMessage

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBatcher returns a batcher; Start begins interval flushing.
func NewBatcher(p publish.Publisher, size int, interval time.Duration, logger zerolog.Logger, m *metrics.Recorder) *Batcher {
	if size <= 0 {
		size = 1
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Batcher{
		publisher: p,
		size:      size,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the interval flush loop until Close.
func (b *Batcher) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Flush()
			case <-b.stop:
				return
			}
		}
	}()
}

// Add queues msg and publishes the batch once it reaches the size limit.
func (b *Batcher) Add(msg assess.ResultMessage) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	var batch []assess.ResultMessage
	if len(b.pending) >= b.size {
		batch = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if batch != nil {
		b.publish(batch)
	}
}

// Flush publishes whatever is pending.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.publish(batch)
	}
}

// Pending is the number of messages not yet published.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the flush loop and publishes the remainder. It is safe to
// call more than once, and on a batcher that was never started.
func (b *Batcher) Close() {
	b.once.Do(func() {
		close(b.stop)
	})
	if b.started.Load() {
		<-b.done
	}
	b.Flush()
}

func (b *Batcher) publish(batch []assess.ResultMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.publisher.Publish(ctx, batch); err != nil {
		b.logger.Error().Err(err).Int("size", len(batch)).Msg("failed to publish results")
		b.metrics.QueueError("publish")
		return
	}
	b.metrics.Published(len(batch))
	b.logger.Debug().Int("size", len(batch)).Msg("published results")
}

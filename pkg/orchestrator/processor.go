// Package orchestrator drains the host queue through a fixed pool of
// workers, bounds the time spent on each host and publishes the results
// in batches.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/logging"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
	"github.com/jphoke/mailtls-assessor/pkg/publish"
	"github.com/jphoke/mailtls-assessor/pkg/queue"
)

const ackTimeout = 10 * time.Second

// Assessor assesses one host. *assess.Assessor implements it.
type Assessor interface {
	Assess(ctx context.Context, host string) (assess.ResultMessage, error)
}

// Config holds the processing settings.
type Config struct {
	Workers       int
	HostTimeout   time.Duration
	PollInterval  time.Duration
	BatchSize     int
	FlushInterval time.Duration
}

// Processor consumes the queue until its context ends.
type Processor struct {
	config    Config
	queue     queue.Queue
	assessor  Assessor
	publisher publish.Publisher
	logger    zerolog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
}

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMetrics records host outcomes, timeouts and queue errors.
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Processor) { p.metrics = m }
}

// New builds a processor with defaults for any zero config value.
func New(cfg Config, q queue.Queue, a Assessor, pub publish.Publisher, opts ...Option) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	p := &Processor{
		config:    cfg,
		queue:     q,
		assessor:  a,
		publisher: pub,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run dequeues and assesses hosts until ctx is cancelled, then waits for
// the workers, flushes the last batch and returns. Every item received
// is deleted exactly once, whether it was published, failed, timed out
// or was never started.
func (p *Processor) Run(ctx context.Context) error {
	batcher := NewBatcher(p.publisher, p.config.BatchSize, p.config.FlushInterval, p.logger, p.metrics)
	batcher.Start()
	defer batcher.Close()

	jobs := make(chan queue.Item)
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, i, jobs, batcher)
		}()
	}

	p.logger.Info().Int("workers", p.config.Workers).Dur("host_timeout", p.config.HostTimeout).Msg("processor started")
	p.receive(ctx, jobs)
	close(jobs)
	wg.Wait()
	p.logger.Info().Msg("processor stopped")
	return nil
}

func (p *Processor) receive(ctx context.Context, jobs chan<- queue.Item) {
	for ctx.Err() == nil {
		item, err := p.queue.Receive(ctx)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			p.sleep(ctx)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("failed to receive from queue")
			p.metrics.QueueError("receive")
			p.sleep(ctx)
			continue
		}

		select {
		case jobs <- item:
		case <-ctx.Done():
			// Claimed but never started.
			p.ack(ctx, item)
			return
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.config.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *Processor) worker(ctx context.Context, id int, jobs <-chan queue.Item, batcher *Batcher) {
	log := logging.ForWorker(p.logger, id)
	log.Debug().Msg("worker started")
	for item := range jobs {
		p.process(ctx, log, item, batcher)
	}
	log.Debug().Msg("worker stopped")
}

type assessment struct {
	msg assess.ResultMessage
	err error
}

func (p *Processor) process(ctx context.Context, log zerolog.Logger, item queue.Item, batcher *Batcher) {
	defer p.ack(ctx, item)
	log = logging.ForHost(log, item.Host)
	start := p.now()

	hctx, cancel := context.WithTimeout(ctx, p.config.HostTimeout)
	defer cancel()

	done := make(chan assessment, 1)
	go func() {
		msg, err := p.assessor.Assess(hctx, item.Host)
		done <- assessment{msg: msg, err: err}
	}()

	res, ok := await(hctx, done)
	if ok && res.err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		// The assessment gave up on the host deadline.
		ok = false
	}
	elapsed := p.now().Sub(start).Seconds()
	switch {
	case !ok:
		log.Warn().Dur("timeout", p.config.HostTimeout).Msg("host timed out, result abandoned")
		p.metrics.HostTimeout()
		p.metrics.Host("timeout", elapsed)
	case res.err != nil:
		log.Warn().Err(res.err).Msg("host assessment stopped")
		p.metrics.Host("error", elapsed)
	default:
		outcome := "assessed"
		if res.msg.Inconclusive {
			outcome = "inconclusive"
		}
		p.metrics.Host(outcome, elapsed)
		batcher.Add(res.msg)
	}
}

// await waits for the assessment or the host deadline. A result that is
// already available when the deadline fires still counts.
func await(ctx context.Context, done <-chan assessment) (assessment, bool) {
	select {
	case res := <-done:
		return res, true
	case <-ctx.Done():
		select {
		case res := <-done:
			return res, true
		default:
			return assessment{}, false
		}
	}
}

// ack deletes item. It runs even after ctx is cancelled so shutdown does
// not leave claimed items behind.
func (p *Processor) ack(ctx context.Context, item queue.Item) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := p.queue.Delete(actx, item); err != nil {
		p.logger.Error().Err(err).Str("host", item.Host).Str("id", item.ID).Msg("failed to delete queue item")
		p.metrics.QueueError("delete")
	}
}

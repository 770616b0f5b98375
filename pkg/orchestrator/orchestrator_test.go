package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
	"github.com/jphoke/mailtls-assessor/pkg/publish"
	"github.com/jphoke/mailtls-assessor/pkg/queue"
)

// memQueue is an in-memory queue that counts deletions per item.
type memQueue struct {
	mu       sync.Mutex
	pending  []queue.Item
	failures int
	deletes  map[string]int
}

func newMemQueue(hosts ...string) *memQueue {
	q := &memQueue{deletes: map[string]int{}}
	for _, h := range hosts {
		q.pending = append(q.pending, queue.Item{ID: h, Host: h})
	}
	return q
}

func (q *memQueue) Receive(context.Context) (queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return queue.Item{}, errors.New("connection refused")
	}
	if len(q.pending) == 0 {
		return queue.Item{}, queue.ErrEmpty
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item, nil
}

func (q *memQueue) Delete(_ context.Context, item queue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deletes[item.ID]++
	return nil
}

func (q *memQueue) deleted() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.deletes))
	for k, v := range q.deletes {
		out[k] = v
	}
	return out
}

type assessFunc func(ctx context.Context, host string) (assess.ResultMessage, error)

func (f assessFunc) Assess(ctx context.Context, host string) (assess.ResultMessage, error) {
	return f(ctx, host)
}

// collector records every published host.
type collector struct {
	mu    sync.Mutex
	hosts []string
	calls int
}

func (c *collector) Publish(_ context.Context, batch []assess.ResultMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	for _, m := range batch {
		c.hosts = append(c.hosts, m.Host)
	}
	return nil
}

func (c *collector) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.hosts...)
	sort.Strings(out)
	return out
}

func start(t *testing.T, p *Processor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func stop(t *testing.T, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func queueErrors(op string, n int) string {
	return fmt.Sprintf(`
# HELP mailtls_queue_errors_total Queue operations that failed.
# TYPE mailtls_queue_errors_total counter
mailtls_queue_errors_total{op=%q} %d
`, op, n)
}

func fastConfig() Config {
	return Config{
		Workers:       2,
		HostTimeout:   time.Second,
		PollInterval:  5 * time.Millisecond,
		BatchSize:     1,
		FlushInterval: 10 * time.Millisecond,
	}
}

func TestTimedOutHostIsAbandonedButAcknowledged(t *testing.T) {
	q := newMemQueue("a.example", "b.example")
	pub := &collector{}
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	a := assessFunc(func(_ context.Context, host string) (assess.ResultMessage, error) {
		if host == "b.example" {
			// Ignores the deadline; its late result must not be published.
			<-release
		}
		return assess.ResultMessage{Host: host}, nil
	})

	cfg := fastConfig()
	cfg.HostTimeout = 100 * time.Millisecond
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	p := New(cfg, q, a, pub, WithMetrics(rec))

	cancel, errCh := start(t, p)
	require.Eventually(t, func() bool { return len(q.deleted()) == 2 }, 5*time.Second, 10*time.Millisecond)
	stop(t, cancel, errCh)

	assert.Equal(t, map[string]int{"a.example": 1, "b.example": 1}, q.deleted())
	assert.Equal(t, []string{"a.example"}, pub.published())
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP mailtls_host_timeouts_total Hosts abandoned because the per-host timeout fired first.
# TYPE mailtls_host_timeouts_total counter
mailtls_host_timeouts_total 1
`), "mailtls_host_timeouts_total"))
}

func TestAwaitPrefersReadyResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		done := make(chan assessment, 1)
		done <- assessment{msg: assess.ResultMessage{Host: "ready.example"}}
		res, ok := await(ctx, done)
		require.True(t, ok)
		assert.Equal(t, "ready.example", res.msg.Host)
	}

	_, ok := await(ctx, make(chan assessment, 1))
	assert.False(t, ok)
}

func TestShutdownAcknowledgesEveryClaimedItem(t *testing.T) {
	q := newMemQueue("slow.example", "queued.example")
	pub := &collector{}
	started := make(chan struct{})
	a := assessFunc(func(ctx context.Context, host string) (assess.ResultMessage, error) {
		if host == "slow.example" {
			close(started)
		}
		<-ctx.Done()
		return assess.ResultMessage{}, ctx.Err()
	})

	cfg := fastConfig()
	cfg.Workers = 1
	cfg.HostTimeout = time.Minute
	p := New(cfg, q, a, pub)

	cancel, errCh := start(t, p)
	<-started
	// Give the receive loop time to claim the second item.
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pending) == 0
	}, 2*time.Second, 5*time.Millisecond)
	stop(t, cancel, errCh)

	assert.Equal(t, map[string]int{"slow.example": 1, "queued.example": 1}, q.deleted())
	assert.Empty(t, pub.published())
}

func TestReceiveErrorsDoNotStopProcessing(t *testing.T) {
	q := newMemQueue("mx.example")
	q.failures = 2
	pub := &collector{}
	a := assessFunc(func(_ context.Context, host string) (assess.ResultMessage, error) {
		return assess.ResultMessage{Host: host, Inconclusive: true}, nil
	})
	reg := prometheus.NewRegistry()
	p := New(fastConfig(), q, a, pub, WithMetrics(metrics.New(reg)), WithLogger(zerolog.Nop()))

	cancel, errCh := start(t, p)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	stop(t, cancel, errCh)

	assert.Equal(t, map[string]int{"mx.example": 1}, q.deleted())
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(queueErrors("receive", 2)), "mailtls_queue_errors_total"))
}

func TestProcessorWithRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewRedis(client, "hosts", zerolog.Nop())

	ctx := context.Background()
	hosts := []string{"mx1.example", "mx2.example", "mx3.example"}
	for _, h := range hosts {
		_, err := q.Enqueue(ctx, h)
		require.NoError(t, err)
	}

	pub := &collector{}
	a := assessFunc(func(_ context.Context, host string) (assess.ResultMessage, error) {
		return assess.ResultMessage{Host: host}, nil
	})
	cfg := fastConfig()
	cfg.BatchSize = 10
	p := New(cfg, q, a, pub)

	cancel, errCh := start(t, p)
	require.Eventually(t, func() bool {
		pending, _ := q.Pending(ctx)
		inFlight, _ := q.InFlight(ctx)
		return pending == 0 && inFlight == 0
	}, 5*time.Second, 10*time.Millisecond)
	stop(t, cancel, errCh)

	assert.Equal(t, hosts, pub.published())
}

func TestBatcherFlushesBySizeAndOnClose(t *testing.T) {
	pub := &collector{}
	b := NewBatcher(pub, 2, time.Hour, zerolog.Nop(), nil)
	b.Start()

	b.Add(assess.ResultMessage{Host: "a"})
	assert.Equal(t, 1, b.Pending())
	b.Add(assess.ResultMessage{Host: "b"})
	assert.Zero(t, b.Pending())
	assert.Equal(t, []string{"a", "b"}, pub.published())

	b.Add(assess.ResultMessage{Host: "c"})
	b.Close()
	b.Close()
	assert.Equal(t, []string{"a", "b", "c"}, pub.published())
	assert.Equal(t, 2, pub.calls)
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	pub := &collector{}
	b := NewBatcher(pub, 100, 10*time.Millisecond, zerolog.Nop(), nil)
	b.Start()
	t.Cleanup(b.Close)

	b.Add(assess.ResultMessage{Host: "a"})
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestBatcherPublishFailureDropsBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	failing := publish.Func(func(context.Context, []assess.ResultMessage) error {
		return errors.New("unavailable")
	})
	b := NewBatcher(failing, 1, time.Hour, zerolog.Nop(), metrics.New(reg))

	b.Add(assess.ResultMessage{Host: "a"})
	assert.Zero(t, b.Pending())
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(queueErrors("publish", 1)), "mailtls_queue_errors_total"))
	b.Close()
}

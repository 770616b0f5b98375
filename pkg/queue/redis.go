package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
)

// Redis is a reliable list queue. Receive moves an item from the pending
// list to a processing list; Delete removes it from there.
type Redis struct {
	client     *redis.Client
	pending    string
	processing string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRedis uses key for pending items and key+":processing" for claimed ones.
func NewRedis(client *redis.Client, key string, logger zerolog.Logger) *Redis {
	return &Redis{
		client:     client,
		pending:    key,
		processing: key + ":processing",
		logger:     logger,
		now:        time.Now,
	}
}

// Enqueue pushes host to the tail of the queue.
func (q *Redis) Enqueue(ctx context.Context, host string) (Item, error) {
	id, err := newID()
	if err != nil {
		return Item{}, err
	}
	item := Item{ID: id, Host: host, EnqueuedAt: q.now().UTC()}
	payload, err := json.Marshal(item)
	if err != nil {
		return Item{}, err
	}
	if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
		return Item{}, apperrors.NewTransportError("queue enqueue", err)
	}
	return item, nil
}

// Receive claims the oldest pending item.
func (q *Redis) Receive(ctx context.Context) (Item, error) {
	payload, err := q.client.LMove(ctx, q.pending, q.processing, "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return Item{}, ErrEmpty
	}
	if err != nil {
		return Item{}, apperrors.NewTransportError("queue receive", err)
	}

	var item Item
	if err := json.Unmarshal([]byte(payload), &item); err != nil || item.Host == "" {
		// Plain host names are accepted for hand-pushed entries.
		q.logger.Debug().Str("payload", payload).Msg("queue entry is not JSON, treating it as a host name")
		item = Item{ID: payload, Host: payload}
	}
	item.receipt = payload
	return item, nil
}

// Delete removes a claimed item from the processing list.
func (q *Redis) Delete(ctx context.Context, item Item) error {
	n, err := q.client.LRem(ctx, q.processing, 1, item.receipt).Result()
	if err != nil {
		return apperrors.NewTransportError("queue delete", err)
	}
	if n == 0 {
		return ErrUnknownItem
	}
	return nil
}

// InFlight is the number of claimed but undeleted items.
func (q *Redis) InFlight(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.processing).Result()
	if err != nil {
		return 0, apperrors.NewTransportError("queue length", err)
	}
	return n, nil
}

// Pending is the number of items waiting.
func (q *Redis) Pending(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, apperrors.NewTransportError("queue length", err)
	}
	return n, nil
}

func newID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

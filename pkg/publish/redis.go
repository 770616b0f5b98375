package publish

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
)

// Redis publishes each message as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis publishes on channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

// Publish sends the batch in one pipeline.
func (r *Redis) Publish(ctx context.Context, batch []assess.ResultMessage) error {
	if len(batch) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(batch))
	for _, msg := range batch {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		payloads = append(payloads, data)
	}

	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, data := range payloads {
			p.Publish(ctx, r.channel, data)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewTransportError("publish redis", err)
	}
	return nil
}

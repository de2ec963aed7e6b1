package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const DefaultRedisChannel = "tournament:events"

// RedisPublisher broadcasts events on a pub/sub channel for in-cluster listeners.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "marshal event")
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return eris.Wrapf(err, "redis publish %s", e.Type)
	}
	return nil
}

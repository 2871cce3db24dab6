package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel  = "soulseer:events"
	DefaultQueue    = "soulseer:notifications"
	defaultQueueCap = 1000
)

// RedisPublisher broadcasts on a pub/sub channel for live consumers and keeps
// a bounded list for consumers that poll.
type RedisPublisher struct {
	rdb      redis.Cmdable
	channel  string
	queue    string
	queueCap int64
}

func NewRedisPublisher(rdb redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{
		rdb:      rdb,
		channel:  DefaultChannel,
		queue:    DefaultQueue,
		queueCap: defaultQueueCap,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Type, err)
	}
	if err := p.rdb.LPush(ctx, p.queue, payload).Err(); err != nil {
		return fmt.Errorf("redis queue %s: %w", ev.Type, err)
	}
	if err := p.rdb.LTrim(ctx, p.queue, 0, p.queueCap-1).Err(); err != nil {
		return fmt.Errorf("redis trim: %w", err)
	}
	return nil
}

// QueueLength reports how many notifications are waiting to be polled.
func (p *RedisPublisher) QueueLength(ctx context.Context) int64 {
	n, _ := p.rdb.LLen(ctx, p.queue).Result()
	return n
}

package jobqueue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/findingsd/internal/domain"
)

// RedisPublisher pushes jobs onto a Redis list and announces them on a
// channel of the same name so idle workers wake up.
type RedisPublisher struct {
	client    redis.Cmdable
	key       string
	retention time.Duration
}

func NewRedisPublisher(client redis.Cmdable, key string) *RedisPublisher {
	return &RedisPublisher{client: client, key: key, retention: 7 * 24 * time.Hour}
}

// WithRetention bounds how long an unconsumed queue survives.
func (p *RedisPublisher) WithRetention(d time.Duration) *RedisPublisher {
	p.retention = d
	return p
}

func (p *RedisPublisher) Publish(ctx context.Context, job domain.Job) error {
	body, err := Encode(job)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.LPush(ctx, p.key, body)
	pipe.Expire(ctx, p.key, p.retention)
	pipe.Publish(ctx, p.key, job.ID.String())

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}

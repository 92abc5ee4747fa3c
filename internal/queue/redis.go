package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xtrntr/spotex/internal/models"
)

// DefaultRedisKey is the list orders are pushed to
const DefaultRedisKey = "exchange:orders"

// Redis is a Queue backed by a Redis list: LPUSH to enqueue, BRPOP to dequeue.
type Redis struct {
	client *redis.Client
	key    string
	// wait bounds a single BRPOP so cancellation is noticed between calls
	wait time.Duration
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, wait: 5 * time.Second}
}

func (q *Redis) Enqueue(ctx context.Context, order *models.Order) error {
	data, err := Encode(order)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return models.Infra("enqueue order", err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (*models.Order, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.Infra("dequeue order", err)
		}
		if len(res) != 2 {
			return nil, nil
		}
		return Decode([]byte(res[1]))
	}
}

func (q *Redis) Close() error {
	return q.client.Close()
}

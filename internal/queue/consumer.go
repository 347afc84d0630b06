package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoTask means the blocking pop timed out with nothing to do.
var ErrNoTask = errors.New("no task available")

type Consumer struct {
	rdb *redis.Client
	key string
}

func NewConsumer(rdb *redis.Client) *Consumer {
	return &Consumer{rdb: rdb, key: TasksKey}
}

// Next blocks up to timeout for the next envelope. Malformed entries are
// dropped with the decode error so one bad payload cannot wedge the queue.
func (c *Consumer) Next(ctx context.Context, timeout time.Duration) (Envelope, error) {
	res, err := c.rdb.BRPop(ctx, timeout, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Envelope{}, ErrNoTask
		}
		return Envelope{}, err
	}

	// BRPOP returns [key, value].
	if len(res) != 2 {
		return Envelope{}, ErrInvalidEnvelope
	}
	return Decode([]byte(res[1]))
}

package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TasksKey is the redis list both sides of the queue agree on.
const TasksKey = "credithub:queue:tasks"

type Producer struct {
	rdb *redis.Client
	key string
}

func NewProducer(rdb *redis.Client) *Producer {
	return &Producer{rdb: rdb, key: TasksKey}
}

// Enqueue pushes the envelope and returns its ID as the queue handle.
func (p *Producer) Enqueue(ctx context.Context, env Envelope) (string, error) {
	b, err := Encode(env)
	if err != nil {
		return "", err
	}

	if err := p.rdb.LPush(ctx, p.key, b).Err(); err != nil {
		return "", fmt.Errorf("lpush %s: %w", p.key, err)
	}
	return env.ID, nil
}

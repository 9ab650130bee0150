package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// Снимаем блокировку только если она все еще наша.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock with a random token per holder.
type RedisLocker struct {
	client   *redis.Client
	prefix   string
	maxWait  time.Duration
	interval time.Duration
}

func NewRedisLocker(client *redis.Client, maxWait time.Duration) *RedisLocker {
	return &RedisLocker{
		client:   client,
		prefix:   "lock:",
		maxWait:  maxWait,
		interval: defaultRetryInterval,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	redisKey := l.prefix + key
	token := uuid.NewString()

	err := retryUntil(ctx, l.maxWait, l.interval, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return func() {
		// Освобождаем блокировку даже если ctx запроса уже отменен
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}, nil
}

// RedisDeadLetterQueue keeps notifications that exhausted their retries in a Redis list.
type RedisDeadLetterQueue struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetterQueue(client *redis.Client, key string) *RedisDeadLetterQueue {
	return &RedisDeadLetterQueue{client: client, key: key}
}

func (q *RedisDeadLetterQueue) PushDeadLetter(ctx context.Context, n *models.ScheduledNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// List returns up to limit dead letters, newest first.
func (q *RedisDeadLetterQueue) List(ctx context.Context, limit int64) ([]*models.ScheduledNotification, error) {
	values, err := q.client.LRange(ctx, q.key, 0, limit-1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]*models.ScheduledNotification, 0, len(values))
	for _, v := range values {
		var n models.ScheduledNotification
		if err := json.Unmarshal([]byte(v), &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, &n)
	}
	return out, nil
}

var _ domain.Locker = (*RedisLocker)(nil)
var _ domain.DeadLetterSink = (*RedisDeadLetterQueue)(nil)

// persistence/redis.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wfunc/gamesync/models"
)

const (
	sessionNamespace = "gamesync:session:"
	recordsKey       = "gamesync:records"
)

// RedisStore keeps sessions with an expiry; game records are appended to a
// list.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr. A ttl of zero keeps sessions forever.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) SaveSession(key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return r.client.Set(ctx, sessionNamespace+key, payload, r.ttl).Err()
}

func (r *RedisStore) LoadSession(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	payload, err := r.client.Get(ctx, sessionNamespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return payload, nil
}

func (r *RedisStore) SaveGameRecord(record models.GameRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return r.client.RPush(ctx, recordsKey, b).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

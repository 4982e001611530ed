package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	URL       string `envconfig:"URL" split_words:"true" default:"redis://localhost:6379/0"`
	KeyPrefix string `envconfig:"KEY_PREFIX" split_words:"true" default:"lead:session:"`
}

var casScript = redis.NewScript(compareAndSetScript)

// RedisStore persists sessions in a Redis server through go-redis.
type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       int64
}

func NewRedisStore(cfg RedisConfig, opts ...StoreOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts = append([]StoreOption{WithKeyPrefix(cfg.KeyPrefix)}, opts...)
	return NewRedisStoreWithClient(redis.NewClient(redisOpts), opts...)
}

func NewRedisStoreWithClient(rdb redis.UniversalClient, opts ...StoreOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	o, err := applyStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &RedisStore{rdb: rdb, keyPrefix: o.keyPrefix, ttl: ttlSeconds(o.ttl)}, nil
}

func (s *RedisStore) Load(ctx context.Context, clientID string) (*Session, error) {
	key, err := sessionKey(s.keyPrefix, clientID)
	if err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeSession(raw)
}

func (s *RedisStore) Save(ctx context.Context, st *Session) error {
	payload, err := encodeNext(st)
	if err != nil {
		return err
	}
	key, err := sessionKey(s.keyPrefix, st.ClientID)
	if err != nil {
		return err
	}

	applied, err := casScript.Run(ctx, s.rdb, []string{key}, st.Version, string(payload), s.ttl).Int()
	if err != nil {
		return fmt.Errorf("redis compare-and-set %s: %w", key, err)
	}
	if applied != 1 {
		return fmt.Errorf("%w: client_id=%s version=%d", ErrVersionConflict, st.ClientID, st.Version)
	}
	st.Version++
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, clientID string) error {
	key, err := sessionKey(s.keyPrefix, clientID)
	if err != nil {
		return err
	}
	return s.rdb.Del(ctx, key).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

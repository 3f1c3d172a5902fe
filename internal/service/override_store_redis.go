package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/labflags/internal/observability"
)

var errNilRedisClient = errors.New("redis override store: nil client")

// RedisOverrideStore keeps the whole snapshot as one JSON document under {prefix}:{namespace}.
type RedisOverrideStore struct {
	client    redis.UniversalClient
	prefix    string
	namespace string
}

func NewRedisOverrideStore(client redis.UniversalClient, prefix, namespace string) *RedisOverrideStore {
	if prefix == "" {
		prefix = "flag_overrides"
	}
	if namespace == "" {
		namespace = "feature_flags"
	}
	return &RedisOverrideStore{client: client, prefix: prefix, namespace: namespace}
}

func (s *RedisOverrideStore) Save(ctx context.Context, snapshot OverrideSnapshot) error {
	if s.client == nil {
		return errNilRedisClient
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode override snapshot: %w", err)
	}
	err = s.client.Set(ctx, s.key(), payload, 0).Err()
	observability.RecordStoreOperation(ctx, "redis", "save", observability.ClassifyStoreError(err))
	return err
}

func (s *RedisOverrideStore) Load(ctx context.Context) (OverrideSnapshot, error) {
	if s.client == nil {
		return nil, errNilRedisClient
	}
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if err == redis.Nil {
		observability.RecordStoreOperation(ctx, "redis", "load", "miss")
		return OverrideSnapshot{}, nil
	}
	if err != nil {
		observability.RecordStoreOperation(ctx, "redis", "load", observability.ClassifyStoreError(err))
		return nil, err
	}
	snapshot := OverrideSnapshot{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		observability.RecordStoreOperation(ctx, "redis", "load", "decode_error")
		return nil, fmt.Errorf("decode override snapshot: %w", err)
	}
	observability.RecordStoreOperation(ctx, "redis", "load", "success")
	return snapshot, nil
}

func (s *RedisOverrideStore) Clear(ctx context.Context) error {
	if s.client == nil {
		return errNilRedisClient
	}
	err := s.client.Del(ctx, s.key()).Err()
	observability.RecordStoreOperation(ctx, "redis", "clear", observability.ClassifyStoreError(err))
	return err
}

func (s *RedisOverrideStore) key() string {
	return fmt.Sprintf("%s:%s", s.prefix, s.namespace)
}

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forgesight/forgesight/pkg/models"
)

const (
	threadKeyPrefix = "thread:"
	threadIndexKey  = "threads"
)

// RedisStore persists threads as JSON values with a set index for
// listing. Concurrent writers to one thread are already serialised by
// TurnLocks, so plain get-modify-set is sufficient.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func threadKey(id string) string {
	return threadKeyPrefix + id
}

func (s *RedisStore) NewThread(ctx context.Context, title string) (*models.Thread, error) {
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:         uuid.New().String(),
		Title:      title,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := s.save(ctx, thread); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, threadIndexKey, thread.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index thread: %w", err)
	}
	return thread, nil
}

func (s *RedisStore) ListThreads(ctx context.Context) ([]models.Thread, error) {
	ids, err := s.rdb.SMembers(ctx, threadIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	out := make([]models.Thread, 0, len(ids))
	for _, id := range ids {
		thread, err := s.GetThread(ctx, id)
		if errors.Is(err, ErrThreadNotFound) {
			// Index entry outlived the value; drop it.
			_ = s.rdb.SRem(ctx, threadIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *thread)
	}
	return out, nil
}

func (s *RedisStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	raw, err := s.rdb.Get(ctx, threadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	var thread models.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", id, err)
	}
	return &thread, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	thread.Messages = append(thread.Messages, msg)
	thread.LastActive = msg.Timestamp
	return s.save(ctx, thread)
}

func (s *RedisStore) DeleteThread(ctx context.Context, id string) error {
	deleted, err := s.rdb.Del(ctx, threadKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if deleted == 0 {
		return ErrThreadNotFound
	}
	if err := s.rdb.SRem(ctx, threadIndexKey, id).Err(); err != nil {
		return fmt.Errorf("failed to unindex thread: %w", err)
	}
	return nil
}

func (s *RedisStore) save(ctx context.Context, thread *models.Thread) error {
	raw, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("failed to encode thread: %w", err)
	}
	if err := s.rdb.Set(ctx, threadKey(thread.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

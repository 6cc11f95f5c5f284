package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/redis/go-redis/v9"

	"github.com/room4-2/ConverseLive/chat"
)

const (
	keyPrefix   = "history:"
	sessionsKey = "history_sessions"
)

// RedisStore keeps each session as a Redis list of JSON records
type RedisStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. ttl <= 0 keeps history forever.
func NewRedisStore(client *goredis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, m chat.Message) error {
	record, err := sonic.Marshal(m)
	if err != nil {
		return fmt.Errorf("history: marshal message: %w", err)
	}

	key := keyPrefix + sessionID
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, record)
		pipe.SAdd(ctx, sessionsKey, sessionID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

func (s *RedisStore) Page(ctx context.Context, sessionID string, offset, limit int) ([]chat.Message, error) {
	if offset < 0 {
		return nil, ErrInvalidPage
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	records, err := s.client.LRange(ctx, keyPrefix+sessionID, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("history: read page: %w", err)
	}

	out := make([]chat.Message, 0, len(records))
	for _, record := range records {
		var m chat.Message
		if err := sonic.UnmarshalString(record, &m); err != nil {
			return nil, fmt.Errorf("history: corrupt record: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Sessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

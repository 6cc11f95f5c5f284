// Package history persists sealed chat messages per session, append-only,
// with paginated reads.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/chat"
)

// ErrInvalidPage is returned for a negative offset
var ErrInvalidPage = errors.New("invalid page")

// Store is an append-only message log keyed by session
type Store interface {
	Append(ctx context.Context, sessionID string, m chat.Message) error
	// Page returns messages oldest first. limit <= 0 reads to the end.
	Page(ctx context.Context, sessionID string, offset, limit int) ([]chat.Message, error)
	Sessions(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and tunes the backing store
type Config struct {
	// RedisURL is host:port or a redis:// URL. Empty means in-memory.
	RedisURL      string
	RedisPassword string
	TTL           time.Duration
	Logger        *zap.Logger
}

// Open connects to Redis when it answers a ping within 5 seconds and
// falls back to an in-memory store otherwise.
func Open(ctx context.Context, cfg Config) Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RedisURL == "" {
		logger.Info("📚 history: using in-memory store")
		return NewMemoryStore()
	}

	opts, err := RedisOptions(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		logger.Warn("⚠️ history: invalid redis url, using in-memory store", zap.Error(err))
		return NewMemoryStore()
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		logger.Warn("⚠️ history: redis unavailable, using in-memory store",
			zap.String("addr", opts.Addr),
			zap.Error(err),
		)
		return NewMemoryStore()
	}

	logger.Info("📚 history: using redis", zap.String("addr", opts.Addr))
	return NewRedisStore(client, cfg.TTL)
}

// RedisOptions accepts either a host:port address or a redis:// URL
func RedisOptions(addr, password string) (*goredis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		if password != "" {
			opts.Password = password
		}
		return opts, nil
	}
	return &goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	}, nil
}

// window converts offset/limit into a [start, end) slice range over n items
func window(n, offset, limit int) (int, int) {
	if offset >= n {
		return n, n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}

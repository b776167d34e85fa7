package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Stream  string `mapstructure:"stream"`
	Batch   int64  `mapstructure:"batch"`
	BlockMs int    `mapstructure:"blockMs"`
	MaxLen  int64  `mapstructure:"maxLen"` // approximate trim on append, 0 keeps everything
}

// RedisStreamLog reads a Redis stream with XREAD BLOCK.
type RedisStreamLog struct {
	rdb *redis.Client
	cfg RedisConfig
}

func NewRedisStreamLog(rdb *redis.Client, cfg RedisConfig) *RedisStreamLog {
	if cfg.Stream == "" {
		cfg.Stream = "fanout"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.BlockMs <= 0 {
		cfg.BlockMs = 5000
	}
	return &RedisStreamLog{rdb: rdb, cfg: cfg}
}

func (l *RedisStreamLog) Tail(ctx context.Context) (string, error) {
	msgs, err := l.rdb.XRevRangeN(ctx, l.cfg.Stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("xrevrange %s: %w", l.cfg.Stream, err)
	}
	if len(msgs) == 0 {
		return emptyTail, nil
	}
	return msgs[0].ID, nil
}

func (l *RedisStreamLog) Read(ctx context.Context, cursor string) ([]Entry, error) {
	if cursor == "" {
		cursor = NewOnly
	}
	streams, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.cfg.Stream, cursor},
		Count:   l.cfg.Batch,
		Block:   time.Duration(l.cfg.BlockMs) * time.Millisecond,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread %s from %s: %w", l.cfg.Stream, cursor, err)
	}

	var out []Entry
	for _, s := range streams {
		out = make([]Entry, 0, len(s.Messages))
		for _, m := range s.Messages {
			out = append(out, Entry{
				ID:      m.ID,
				User:    stringField(m.Values, FieldUser),
				Payload: []byte(stringField(m.Values, FieldPayload)),
			})
		}
	}
	return out, nil
}

func (l *RedisStreamLog) Append(ctx context.Context, user string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: l.cfg.Stream,
		Values: []any{FieldUser, user, FieldPayload, string(payload)},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", l.cfg.Stream, err)
	}
	return id, nil
}

// Close is a no-op; the client belongs to whoever built it.
func (l *RedisStreamLog) Close() error { return nil }

func stringField(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

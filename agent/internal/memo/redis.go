package memo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adlens/adlens/agent/internal/config"
)

// redisTTL keeps yesterday's hash around for inspection without letting
// old days accumulate.
const redisTTL = 48 * time.Hour

// RedisStore keeps one hash per job and day at
// adlens:memo:<prefix>:<job>:<yyyymmdd>,
// field = keyword, value = "impressions,position".
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects lazily to cfg.Addr.
func NewRedisStore(cfg config.MemoConfig) *RedisStore {
	return &RedisStore{
		rdb:    redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password()}),
		prefix: cfg.Prefix,
	}
}

func (s *RedisStore) key(jobID string, day time.Time) string {
	return "adlens:memo:" + s.prefix + ":" + jobID + ":" + dayKey(day)
}

// Load returns the job's hash for the day, or ErrNotFound when it does
// not exist.
func (s *RedisStore) Load(ctx context.Context, jobID string, day time.Time) (map[string]Entry, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(jobID, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("memo: hgetall: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]Entry, len(vals))
	for k, v := range vals {
		imp, pos, ok := strings.Cut(v, ",")
		if !ok {
			return nil, fmt.Errorf("memo: field %q: malformed %q", k, v)
		}
		n, err := strconv.ParseInt(imp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("memo: field %q: %w", k, err)
		}
		p, err := strconv.ParseFloat(pos, 64)
		if err != nil {
			return nil, fmt.Errorf("memo: field %q: %w", k, err)
		}
		out[k] = Entry{Impressions: n, Position: p}
	}
	return out, nil
}

// Save replaces the job's hash for the day in one transaction and
// refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, jobID string, day time.Time, entries map[string]Entry) error {
	key := s.key(jobID, day)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) == 0 {
			return nil
		}
		fields := make(map[string]any, len(entries))
		for k, e := range entries {
			fields[k] = strconv.FormatInt(e.Impressions, 10) + "," + strconv.FormatFloat(e.Position, 'f', -1, 64)
		}
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, redisTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("memo: save: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

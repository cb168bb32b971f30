package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRecordTTL = 7 * 24 * time.Hour
	recentLimit      = 200
)

// RedisStore keeps finished game records and per-move evaluations in Redis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// NewRedisClient connects to url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) keyGame(id string) string  { return "match:game:" + strings.TrimSpace(id) }
func (s *RedisStore) keyEvals(id string) string { return s.keyGame(id) + ":evals" }
func (s *RedisStore) keyRecent() string         { return "match:recent" }

func (s *RedisStore) SaveRecord(ctx context.Context, rec *Record) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyGame(rec.ID), raw, s.ttl)
	pipe.Expire(ctx, s.keyEvals(rec.ID), s.ttl)
	pipe.LPush(ctx, s.keyRecent(), rec.ID)
	pipe.LTrim(ctx, s.keyRecent(), 0, recentLimit-1)
	pipe.Expire(ctx, s.keyRecent(), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadRecord returns nil without an error when the game is unknown or expired.
func (s *RedisStore) LoadRecord(ctx context.Context, id string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) AppendEvaluation(ctx context.Context, gameID string, ev MoveEval) error {
	if strings.TrimSpace(gameID) == "" {
		return nil
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, s.keyEvals(gameID), raw).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyEvals(gameID), s.ttl).Err()
}

// Evaluations returns the live evaluations of a game in move order.
func (s *RedisStore) Evaluations(ctx context.Context, gameID string) ([]MoveEval, error) {
	raws, err := s.rdb.LRange(ctx, s.keyEvals(gameID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]MoveEval, 0, len(raws))
	for _, raw := range raws {
		var ev MoveEval
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Recent lists up to n most recent games, newest first. Expired records are skipped.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]*Record, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.LRange(ctx, s.keyRecent(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, id := range ids {
		rec, err := s.LoadRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

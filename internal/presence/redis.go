package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"letschat/internal/models"
)

const keyPrefix = "presence:"

// RedisMirror keeps a presence:<id> hash per user.
type RedisMirror struct {
	cli *redis.Client
	ttl time.Duration
}

// ConnectRedis connects to the Redis server and pings it to ensure the
// connection is working.
func ConnectRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisMirror, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisMirror{cli: cli, ttl: ttl}, nil
}

func (r *RedisMirror) set(ctx context.Context, userID string, online bool, at time.Time) error {
	key := keyPrefix + userID
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "online", online, "lastSeen", at.UnixMilli())
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

func (r *RedisMirror) SetOnline(ctx context.Context, userID string, at time.Time) error {
	return r.set(ctx, userID, true, at)
}

func (r *RedisMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return r.set(ctx, userID, false, lastSeen)
}

// Get reads a user's mirrored presence. ok is false when nothing is stored.
func (r *RedisMirror) Get(ctx context.Context, userID string) (p models.Presence, ok bool, err error) {
	vals, err := r.cli.HGetAll(ctx, keyPrefix+userID).Result()
	if err != nil {
		return models.Presence{}, false, fmt.Errorf("read presence: %w", err)
	}
	if len(vals) == 0 {
		return models.Presence{}, false, nil
	}
	p = models.Presence{
		UserID:   userID,
		IsOnline: cast.ToBool(vals["online"]),
	}
	if ms := cast.ToInt64(vals["lastSeen"]); ms > 0 {
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	return p, true, nil
}

func (r *RedisMirror) Close() error {
	return r.cli.Close()
}

package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis commands used by RedisSession.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient connects to cfg.Addr and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisSession stores one session binding as a Redis hash keyed by the
// session id. Every write refreshes the TTL.
type RedisSession struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

var _ SessionStore = (*RedisSession)(nil)

func NewRedisSession(client RedisClient, cfg RedisConfig, sessionID string) *RedisSession {
	return &RedisSession{
		client: client,
		key:    cfg.KeyPrefix + sessionID,
		ttl:    cfg.SessionTTL,
	}
}

func (r *RedisSession) CurrentUser(ctx context.Context) (SessionBinding, bool, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return SessionBinding{}, false, err
	}

	raw, ok := values["user_id"]
	if !ok || raw == "" {
		return SessionBinding{}, false, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return SessionBinding{}, false, fmt.Errorf("invalid session user id: %w", err)
	}

	kind := BindingKind(values["kind"])
	if kind == "" {
		kind = BindingCredentials
	}
	return SessionBinding{UserID: id, Kind: kind, ResetKeyDigest: values["reset_key_digest"]}, true, nil
}

func (r *RedisSession) SetCurrentUser(ctx context.Context, binding SessionBinding) error {
	if err := r.client.HSet(ctx, r.key,
		"user_id", binding.UserID.String(),
		"kind", string(binding.Kind),
		"reset_key_digest", binding.ResetKeyDigest,
	).Err(); err != nil {
		return err
	}
	if r.ttl > 0 {
		return r.client.Expire(ctx, r.key, r.ttl).Err()
	}
	return nil
}

func (r *RedisSession) Abandon(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

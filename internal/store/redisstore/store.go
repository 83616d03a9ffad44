package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the redis client used for chat session credentials and
// short-lived password-reset tokens.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Chat credential store. Satisfies botchat.KeyStore: a missing key is
// "" with no error, matching the secure-store semantics the client expects.

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	// chat keys have no expiry; they are invalidated explicitly on 403
	// or logout
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Password-reset tokens, single use with a TTL.

const resetTokenPrefix = "pw_reset_"

func (s *Store) SetResetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, resetTokenPrefix+token, userID, ttl).Err()
}

// ConsumeResetToken returns the user id the token was issued for and
// deletes it, so a token can be redeemed at most once. A missing or
// expired token yields "".
func (s *Store) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	userID, err := s.rdb.GetDel(ctx, resetTokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

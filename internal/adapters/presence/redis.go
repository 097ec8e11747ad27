// Package presence mirrors relay room membership into Redis sets keyed
// room:<session>:peers, the layout session services already read.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/domain"
)

const peerSetTTL = 24 * time.Hour

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Add(ctx context.Context, session domain.SessionID, peer domain.PeerID) error {
	key := peerSetKey(session)
	if err := s.client.SAdd(ctx, key, string(peer)).Err(); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	if err := s.client.Expire(ctx, key, peerSetTTL).Err(); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("session", string(session)).Msg("expire failed")
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, session domain.SessionID, peer domain.PeerID) error {
	if err := s.client.SRem(ctx, peerSetKey(session), string(peer)).Err(); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func peerSetKey(session domain.SessionID) string {
	return fmt.Sprintf("room:%s:peers", session)
}

package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
)

// FailoverStore routes to a primary backend and falls back to a secondary
// one when the primary errors, so a full disk or a dead Redis never
// crashes a booking submission. The primary is re-probed after a minute.
//
// Shared by the HTTP handlers, the drain goroutine and the monitor, so
// all state is atomic; lastCheck is kept as UnixNano.
type FailoverStore struct {
	primary   domain.KeyValueStore
	fallback  domain.KeyValueStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStore(primary, fallback domain.KeyValueStore, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FailoverStore) Put(ctx context.Context, key string, value []byte) error {
	if !s.isDown.Load() {
		err := s.primary.Put(ctx, key, value)
		if err == nil {
			return nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("primary store failed, falling back to memory")
		s.markDown()
	}

	return s.fallback.Put(ctx, key, value)
}

func (s *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.isDown.Load() {
		val, err := s.primary.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("primary store failed, falling back to memory")
		s.markDown()
	}

	// Try to recover after 1 minute
	if s.isDown.Load() && time.Since(time.Unix(0, s.lastCheck.Load())) > time.Minute {
		val, err := s.primary.Get(ctx, key)
		if err == nil {
			s.isDown.Store(false)
			return val, nil
		}
		s.markDown()
	}

	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Remove(ctx context.Context, key string) error {
	if !s.isDown.Load() {
		err := s.primary.Remove(ctx, key)
		if err == nil {
			return nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("primary store failed, falling back to memory")
		s.markDown()
	}

	return s.fallback.Remove(ctx, key)
}

func (s *FailoverStore) markDown() {
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().UnixNano())
}

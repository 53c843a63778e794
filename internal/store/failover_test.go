package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

// brokenStore fails every call, pinning the failover on its error paths.
type brokenStore struct{}

func (brokenStore) Put(ctx context.Context, key string, value []byte) error {
	return errors.New("primary down")
}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("primary down")
}

func (brokenStore) Remove(ctx context.Context, key string) error {
	return errors.New("primary down")
}

func (m *mockStore) Put(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestFailoverStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	fo := NewFailoverStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "k1").Return([]byte("v1"), nil).Once()

		got, err := fo.Get(ctx, "k1")
		assert.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Get", ctx, "k2").Return(nil, errors.New("fail")).Once()
		fallback.On("Get", ctx, "k2").Return([]byte("v2"), nil).Once()

		got, err := fo.Get(ctx, "k2")
		assert.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
		assert.True(t, fo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		fo.isDown.Store(true)
		fo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		primary.On("Get", ctx, "k3").Return([]byte("v3"), nil).Once()

		got, err := fo.Get(ctx, "k3")
		assert.NoError(t, err)
		assert.Equal(t, []byte("v3"), got)
		assert.False(t, fo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		fo.isDown.Store(true)
		fo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		primary.On("Get", ctx, "k4").Return(nil, errors.New("still fail")).Once()
		fallback.On("Get", ctx, "k4").Return(nil, nil).Once()

		_, err := fo.Get(ctx, "k4")
		assert.NoError(t, err)
		assert.True(t, fo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("PutFailover", func(t *testing.T) {
		fo.isDown.Store(false)
		primary.On("Put", ctx, "k5", []byte("v5")).Return(errors.New("fail")).Once()
		fallback.On("Put", ctx, "k5", []byte("v5")).Return(nil).Once()

		err := fo.Put(ctx, "k5", []byte("v5"))
		assert.NoError(t, err)
		assert.True(t, fo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RemoveFailover", func(t *testing.T) {
		fo.isDown.Store(false)
		primary.On("Remove", ctx, "k6").Return(errors.New("fail")).Once()
		fallback.On("Remove", ctx, "k6").Return(nil).Once()

		err := fo.Remove(ctx, "k6")
		assert.NoError(t, err)
		assert.True(t, fo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ConcurrentFailingPrimary", func(t *testing.T) {
		logger := zerolog.New(io.Discard)
		fo := NewFailoverStore(brokenStore{}, NewMemoryStore(), &logger)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				key := fmt.Sprintf("k-%d", g)
				for i := 0; i < 50; i++ {
					_ = fo.Put(ctx, key, []byte("v"))
					_, _ = fo.Get(ctx, key)
					_ = fo.Remove(ctx, key)
				}
			}(g)
		}
		wg.Wait()

		assert.True(t, fo.isDown.Load())
	})

	t.Run("PutAlreadyDown", func(t *testing.T) {
		fo.isDown.Store(true)
		fo.lastCheck.Store(time.Now().UnixNano())
		fallback.On("Put", ctx, "k7", []byte("v7")).Return(nil).Once()

		err := fo.Put(ctx, "k7", []byte("v7"))
		assert.NoError(t, err)
		fallback.AssertExpectations(t)
	})
}

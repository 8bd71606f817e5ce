package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

func configuredRepo() *mockConfigRepo {
	return &mockConfigRepo{cfg: &domain.GeminiConfig{APIKey: "key", ModelName: "gemini-1.5-flash", MaxHistoryPerThread: 10}}
}

func TestReadiness_NotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  *domain.GeminiConfig
	}{
		{"missing row", nil},
		{"empty key", &domain.GeminiConfig{ModelName: "gemini-1.5-flash"}},
		{"empty model", &domain.GeminiConfig{APIKey: "key"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var built int32
			r := NewReadinessUsecase(&mockConfigRepo{cfg: tt.cfg}, func(domain.GeminiConfig) (repo.Generator, error) {
				atomic.AddInt32(&built, 1)
				return &mockGenerator{}, nil
			}, zerolog.Nop())

			_, err := r.EnsureReady(context.Background())
			assert.ErrorIs(t, err, domain.ErrNotConfigured)
			assert.Equal(t, StateFailed, r.State())
			assert.Zero(t, atomic.LoadInt32(&built))
		})
	}
}

func TestReadiness_ConcurrentCallersShareInitialization(t *testing.T) {
	var built int32
	release := make(chan struct{})
	r := NewReadinessUsecase(configuredRepo(), func(domain.GeminiConfig) (repo.Generator, error) {
		atomic.AddInt32(&built, 1)
		<-release
		return &mockGenerator{}, nil
	}, zerolog.Nop())

	const callers = 10
	var wg sync.WaitGroup
	handles := make([]*ModelHandle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = r.EnsureReady(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.Equal(t, StateReady, r.State())
}

func TestReadiness_FailedIsRetried(t *testing.T) {
	var built int32
	r := NewReadinessUsecase(configuredRepo(), func(domain.GeminiConfig) (repo.Generator, error) {
		if atomic.AddInt32(&built, 1) == 1 {
			return nil, errors.New("dial failed")
		}
		return &mockGenerator{}, nil
	}, zerolog.Nop())

	_, err := r.EnsureReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, r.State())

	h, err := r.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h.Generator)
	assert.Equal(t, StateReady, r.State())
}

func TestReadiness_Reinitialize(t *testing.T) {
	cfgRepo := configuredRepo()
	var built int32
	r := NewReadinessUsecase(cfgRepo, func(domain.GeminiConfig) (repo.Generator, error) {
		atomic.AddInt32(&built, 1)
		return &mockGenerator{}, nil
	}, zerolog.Nop())

	h1, err := r.EnsureReady(context.Background())
	require.NoError(t, err)
	_, err = r.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&built), "ready handle is cached")

	require.NoError(t, cfgRepo.Save(context.Background(), &domain.GeminiConfig{APIKey: "key2", ModelName: "gemini-1.5-pro"}))
	h2, err := r.Reinitialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&built))
	assert.Equal(t, "gemini-1.5-flash", h1.Config.ModelName)
	assert.Equal(t, "gemini-1.5-pro", h2.Config.ModelName)
}

func TestReadyState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", ReadyState(42).String())
}

package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// ReadyState is the lifecycle state of the remote model client
type ReadyState int

const (
	StateUninitialized ReadyState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s ReadyState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ModelHandle is a ready generator plus the config it was built from
type ModelHandle struct {
	Generator repo.Generator
	Config    domain.GeminiConfig
}

// ReadinessUsecase owns the remote client lifecycle. Concurrent EnsureReady
// calls share a single initialization attempt; Failed is retried on the next call.
type ReadinessUsecase struct {
	configRepo repo.ConfigRepo
	factory    repo.GeneratorFactory
	log        zerolog.Logger

	group singleflight.Group

	mu     sync.Mutex
	state  ReadyState
	handle *ModelHandle
	gen    uint64 // bumped by Reinitialize so stale attempts are not cached
}

// NewReadinessUsecase creates a new readiness usecase
func NewReadinessUsecase(configRepo repo.ConfigRepo, factory repo.GeneratorFactory, log zerolog.Logger) *ReadinessUsecase {
	return &ReadinessUsecase{
		configRepo: configRepo,
		factory:    factory,
		log:        log.With().Str("component", "readiness").Logger(),
	}
}

// State returns the current state
func (uc *ReadinessUsecase) State() ReadyState {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state
}

// EnsureReady returns the cached handle or initializes one
func (uc *ReadinessUsecase) EnsureReady(ctx context.Context) (*ModelHandle, error) {
	uc.mu.Lock()
	if uc.state == StateReady && uc.handle != nil {
		h := uc.handle
		uc.mu.Unlock()
		return h, nil
	}
	gen := uc.gen
	uc.mu.Unlock()

	ch := uc.group.DoChan(fmt.Sprintf("init-%d", gen), func() (any, error) {
		return uc.initialize(context.WithoutCancel(ctx), gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ModelHandle), nil
	}
}

func (uc *ReadinessUsecase) initialize(ctx context.Context, gen uint64) (*ModelHandle, error) {
	uc.mu.Lock()
	if gen == uc.gen && uc.state == StateReady && uc.handle != nil {
		h := uc.handle
		uc.mu.Unlock()
		return h, nil
	}
	uc.mu.Unlock()

	uc.setState(gen, StateInitializing, nil)

	cfg, err := uc.configRepo.Get(ctx)
	if err != nil {
		uc.setState(gen, StateFailed, nil)
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.IsConfigured() {
		uc.setState(gen, StateFailed, nil)
		return nil, domain.ErrNotConfigured
	}

	g, err := uc.factory(*cfg)
	if err != nil {
		uc.setState(gen, StateFailed, nil)
		return nil, fmt.Errorf("build generator: %w", err)
	}

	h := &ModelHandle{Generator: g, Config: *cfg}
	uc.setState(gen, StateReady, h)
	uc.log.Info().Str("model", cfg.ModelName).Int("max_history", cfg.HistoryCap()).Msg("model client ready")
	return h, nil
}

func (uc *ReadinessUsecase) setState(gen uint64, s ReadyState, h *ModelHandle) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if gen != uc.gen {
		return
	}
	uc.state = s
	uc.handle = h
}

// Reinitialize drops the cached client and builds a new one from the current config
func (uc *ReadinessUsecase) Reinitialize(ctx context.Context) (*ModelHandle, error) {
	uc.mu.Lock()
	uc.gen++
	uc.state = StateUninitialized
	uc.handle = nil
	uc.mu.Unlock()

	uc.log.Info().Msg("reinitializing model client")
	return uc.EnsureReady(ctx)
}

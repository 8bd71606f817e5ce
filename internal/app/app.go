// Package app assembles the stores, usecases and services of replybridge.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/repo"
	"github.com/whatsuit/replybridge/internal/biz/usecase"
	"github.com/whatsuit/replybridge/internal/conf"
	"github.com/whatsuit/replybridge/internal/data"
	"github.com/whatsuit/replybridge/internal/service"
)

const (
	echoGuardTTL  = 5 * time.Minute
	echoGuardSize = 20
)

// App holds every long-lived component
type App struct {
	Config *conf.Config
	DB     *sql.DB
	Repos  *data.Repositories

	Limiter  *usecase.RateLimiter
	Dedup    *usecase.Deduper
	Throttle *usecase.ConversationThrottle
	Echo     *usecase.EchoGuard

	Readiness     *usecase.ReadinessUsecase
	Prompts       *usecase.PromptUsecase
	Builder       *usecase.ContextBuilderUsecase
	Reply         *usecase.ReplyUsecase
	Analysis      *usecase.AnalysisUsecase
	Notifications *usecase.NotificationUsecase

	Metrics     *service.Metrics
	Service     *service.AutoReplyService
	Maintenance *service.MaintenanceRunner

	log zerolog.Logger
}

// Option customizes New
type Option func(*options)

type options struct {
	factory repo.GeneratorFactory
}

// WithGeneratorFactory replaces the Gemini client factory
func WithGeneratorFactory(f repo.GeneratorFactory) Option {
	return func(o *options) { o.factory = f }
}

// New opens the database and wires all components
func New(cfg *conf.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	o := options{factory: data.NewGeminiFactory(cfg.Gemini.BaseURL)}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = conf.DefaultPromptsConfig()
	}

	db, err := data.OpenDB(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	repos := data.NewRepositories(db)
	p := cfg.Prompts

	a := &App{
		Config:   cfg,
		DB:       db,
		Repos:    repos,
		Limiter:  usecase.NewRateLimiter(cfg.ToRateLimiterConfig()),
		Dedup:    usecase.NewDeduper(p.Limits.DedupTTL),
		Throttle: usecase.NewConversationThrottle(p.Limits.ThrottleWindow),
		Echo:     usecase.NewEchoGuard(echoGuardTTL, echoGuardSize),
		Metrics:  service.NewMetrics(),
		log:      log,
	}

	a.Readiness = usecase.NewReadinessUsecase(repos.Config, o.factory, log)
	a.Prompts = usecase.NewPromptUsecase(repos.Prompt, p.Reply.DefaultTemplateName, p.Reply.DefaultTemplate)
	a.Builder = usecase.NewContextBuilderUsecase(repos.Notification, repos.History, cfg.ToContextConfig())
	a.Reply = usecase.NewReplyUsecase(
		repos.Notification, repos.History,
		a.Builder, a.Prompts, a.Readiness, a.Limiter, a.Dedup,
		cfg.ToReplyConfig(), log,
	)
	a.Analysis = usecase.NewAnalysisUsecase(repos.History, a.Readiness, a.Limiter, cfg.ToAnalysisConfig(), log)
	a.Notifications = usecase.NewNotificationUsecase(repos.Notification, repos.History, repos.OptOut, a.Throttle, a.Echo, log)

	a.Service = service.NewAutoReplyService(a.Reply, a.Analysis, a.Readiness, a.Metrics, p.Reply.RateLimitedMessage, log)
	a.Maintenance = service.NewMaintenanceRunner(a.Dedup, a.Throttle, a.Echo, a.Notifications, service.MaintenanceConfig{
		Retention: cfg.Retention(),
	}, log)

	if err := a.SeedConfig(context.Background()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// SeedConfig stores the Gemini settings from the environment, if any
func (a *App) SeedConfig(ctx context.Context) error {
	seed := a.Config.SeedGeminiConfig()
	if seed == nil {
		return nil
	}
	current, err := a.Repos.Config.Get(ctx)
	if err != nil {
		return err
	}
	if current != nil && current.APIKey == seed.APIKey && current.ModelName == seed.ModelName &&
		current.MaxHistoryPerThread == seed.MaxHistoryPerThread {
		return nil
	}
	if err := a.Repos.Config.Save(ctx, seed); err != nil {
		return fmt.Errorf("failed to seed gemini config: %w", err)
	}
	a.log.Info().Str("model", seed.ModelName).Msg("gemini config seeded from environment")
	return nil
}

// ApplyPrompts pushes reloaded prompt texts into the running usecases.
// Limits are read once at startup; a reload that changes them only logs a
// warning.
func (a *App) ApplyPrompts(p *conf.PromptsConfig) {
	if a.Config.Prompts != nil && p.Limits != a.Config.Prompts.Limits {
		a.log.Warn().Str("path", p.Path).Msg("prompts limits changed, restart to apply them")
	}
	a.Prompts.SetDefaultTemplate(p.Reply.DefaultTemplateName, p.Reply.DefaultTemplate)
	a.Reply.SetDuplicateMessage(p.Reply.DuplicateMessage)
	a.Analysis.SetMessages(p.Analysis.Template, p.Analysis.NoHistoryMessage, p.Analysis.FallbackMessage)
	a.Service.SetRateLimitedMessage(p.Reply.RateLimitedMessage)
}

// Close shuts down the service and closes the database
func (a *App) Close() error {
	a.Service.Shutdown()
	return a.DB.Close()
}

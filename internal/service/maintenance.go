package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/whatsuit/replybridge/internal/biz/usecase"
)

// MaintenanceConfig contains the schedules of housekeeping jobs
type MaintenanceConfig struct {
	SweepSpec     string        // dedup, throttle and echo sweeps
	RetentionSpec string        // notification cleanup
	Retention     time.Duration // 0 disables cleanup
}

// DefaultMaintenanceConfig returns the default schedules
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		SweepSpec:     "@every 1m",
		RetentionSpec: "@daily",
	}
}

// MaintenanceRunner runs periodic housekeeping on the in-memory guards and the store
type MaintenanceRunner struct {
	dedup         *usecase.Deduper
	throttle      *usecase.ConversationThrottle
	echo          *usecase.EchoGuard
	notifications *usecase.NotificationUsecase
	cfg           MaintenanceConfig
	log           zerolog.Logger

	c *cron.Cron
}

// NewMaintenanceRunner creates a new maintenance runner
func NewMaintenanceRunner(
	dedup *usecase.Deduper,
	throttle *usecase.ConversationThrottle,
	echo *usecase.EchoGuard,
	notifications *usecase.NotificationUsecase,
	cfg MaintenanceConfig,
	log zerolog.Logger,
) *MaintenanceRunner {
	def := DefaultMaintenanceConfig()
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = def.SweepSpec
	}
	if cfg.RetentionSpec == "" {
		cfg.RetentionSpec = def.RetentionSpec
	}
	log = log.With().Str("component", "maintenance").Logger()
	cl := cronLogger{log: log}
	return &MaintenanceRunner{
		dedup:         dedup,
		throttle:      throttle,
		echo:          echo,
		notifications: notifications,
		cfg:           cfg,
		log:           log,
		c:             cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// Start schedules the jobs and starts the cron
func (r *MaintenanceRunner) Start() error {
	if _, err := r.c.AddFunc(r.cfg.SweepSpec, r.Sweep); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	if r.cfg.Retention > 0 && r.notifications != nil {
		if _, err := r.c.AddFunc(r.cfg.RetentionSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			r.Cleanup(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule retention cleanup: %w", err)
		}
	}
	r.c.Start()
	r.log.Info().
		Str("sweep", r.cfg.SweepSpec).
		Dur("retention", r.cfg.Retention).
		Msg("maintenance started")
	return nil
}

// Stop stops the cron and waits for running jobs
func (r *MaintenanceRunner) Stop() {
	<-r.c.Stop().Done()
	r.log.Info().Msg("maintenance stopped")
}

// Sweep drops expired dedup, throttle and echo entries
func (r *MaintenanceRunner) Sweep() {
	var dedup, throttle int
	if r.dedup != nil {
		dedup = r.dedup.Sweep()
	}
	if r.throttle != nil {
		throttle = r.throttle.Sweep()
	}
	if r.echo != nil {
		r.echo.Prune()
	}
	if dedup+throttle > 0 {
		r.log.Debug().Int("dedup", dedup).Int("throttle", throttle).Msg("expired entries swept")
	}
}

// Cleanup deletes notifications beyond the retention period
func (r *MaintenanceRunner) Cleanup(ctx context.Context) int64 {
	if r.notifications == nil || r.cfg.Retention <= 0 {
		return 0
	}
	n, err := r.notifications.CleanupOlderThan(ctx, r.cfg.Retention)
	if err != nil {
		r.log.Error().Err(err).Msg("retention cleanup failed")
		return 0
	}
	return n
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

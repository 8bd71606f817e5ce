package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/whatsuit/replybridge/internal/api"
	"github.com/whatsuit/replybridge/internal/conf"
	"github.com/whatsuit/replybridge/internal/data"
	"github.com/whatsuit/replybridge/internal/infra/feishu"
	"github.com/whatsuit/replybridge/internal/server"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Feishu source and housekeeping",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := c.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.EnsureReady(ctx); err != nil {
		// replies report the error until the config is set through the API
		c.log.Warn().Err(err).Msg("model client not ready")
	}

	if err := a.Maintenance.Start(); err != nil {
		return err
	}
	defer a.Maintenance.Stop()

	httpServer := api.NewServer(api.Deps{
		Replies:       a.Service,
		Notifications: a.Notifications,
		Prompts:       a.Prompts,
		Config:        a.Repos.Config,
		Metrics:       a.Metrics,
	}, c.cfg.API.Port, c.cfg.API.Key, c.log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Stop(shutdownCtx)
	})

	if path := c.cfg.Prompts.Path; path != "" {
		g.Go(func() error {
			if err := conf.WatchPrompts(gctx, path, c.log, a.ApplyPrompts); err != nil {
				c.log.Warn().Err(err).Msg("prompts hot reload disabled")
			}
			return nil
		})
	}

	if c.cfg.Feishu.Enabled() {
		client := feishu.NewClient(c.cfg.Feishu.AppID, c.cfg.Feishu.AppSecret, c.log)
		fs := server.NewFeishuServer(
			client,
			data.NewFeishuRepo(client, c.cfg.Feishu.SendQPS),
			a.Notifications,
			a.Service,
			a.Metrics,
			c.log,
		)
		// the websocket client does not return on cancel, keep it out of the group
		go func() {
			if err := fs.Start(gctx); err != nil {
				c.log.Error().Err(err).Msg("feishu source stopped")
			}
		}()
	}

	c.log.Info().
		Int("port", c.cfg.API.Port).
		Bool("feishu", c.cfg.Feishu.Enabled()).
		Str("db", c.cfg.Storage.DBPath).
		Msg("replybridge started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.log.Info().Msg("replybridge stopped")
	return nil
}

// Command replybridge-mcp serves replybridge tools to MCP clients over stdio.
// It talks to a running `replybridge serve` through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/whatsuit/replybridge/internal/conf"
	"github.com/whatsuit/replybridge/internal/logx"
	"github.com/whatsuit/replybridge/internal/mcp"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cfg, err := conf.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the protocol
	log := logx.New(cfg.Log)

	baseURL := os.Getenv("REPLYBRIDGE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.API.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewClient(baseURL, cfg.API.Key), version)
	log.Info().Str("api", baseURL).Msg("mcp server starting on stdio")
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("mcp server stopped")
		os.Exit(1)
	}
}

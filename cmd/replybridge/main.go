// Command replybridge runs the notification auto-reply service and its admin commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/whatsuit/replybridge/internal/app"
	"github.com/whatsuit/replybridge/internal/conf"
	"github.com/whatsuit/replybridge/internal/logx"
)

const version = "0.1.0"

// cli holds state shared by all subcommands
type cli struct {
	envFile  string
	dbPath   string
	logLevel string

	cfg *conf.Config
	log zerolog.Logger
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "replybridge",
		Short:         "Notification-driven auto-reply service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file to load")
	cmd.PersistentFlags().StringVar(&c.dbPath, "db", "", "Database path (overrides DB_PATH)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	cmd.AddCommand(
		serveCmd(c),
		replyCmd(c),
		analyzeCmd(c),
		configCmd(c),
		templateCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("replybridge %s\n", version)
			},
		},
	)
	return cmd
}

// load reads the environment file and configuration
func (c *cli) load() error {
	if err := godotenv.Load(c.envFile); err != nil && c.envFile != ".env" {
		return fmt.Errorf("failed to load %s: %w", c.envFile, err)
	}

	cfg, err := conf.LoadFromEnv()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.Storage.DBPath = c.dbPath
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.cfg = cfg
	c.log = logx.New(cfg.Log)
	return nil
}

// open wires the application for a one-shot command
func (c *cli) open() (*app.App, error) {
	return app.New(c.cfg, c.log)
}

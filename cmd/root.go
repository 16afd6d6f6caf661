package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agnosto/instawebhooks/config"
	"github.com/agnosto/instawebhooks/logger"
)

const Version = "v1.0.0"

var rootCmd = &cobra.Command{
	Use:   "instawebhooks [USERNAME] [WEBHOOK_URL]",
	Short: "Send new Instagram posts to a Discord webhook",
	Long: `Checks one or more Instagram accounts on a fixed interval and forwards each
new post to a Discord webhook exactly once. Progress is kept per account in the
state directory so restarts neither resend nor skip posts.

USERNAME may be a comma-separated list. Both arguments override the config file.`,
	Args:          cobra.MaximumNArgs(2),
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMonitor,
}

func init() {
	registerFlags(rootCmd)
}

// Execute runs the command line and returns the error that should end the
// process, if any.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the effective configuration: defaults, config file,
// .env and environment, then command-line flags and arguments.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Logger.Printf("[WARN] Failed to load .env: %v", err)
	}

	cfg, err := config.LoadConfig(flags.configPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	flags.apply(cmd, cfg, args)
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	logger.Logger.Printf("Starting InstaWebhooks %s", Version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.monitor.Run(ctx)
	if ctx.Err() != nil && err == nil {
		logger.Logger.Printf("Received interrupt signal, shutting down")
	}
	return err
}

// runContext is the context used by commands started outside cobra's
// Execute, e.g. by the service manager.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

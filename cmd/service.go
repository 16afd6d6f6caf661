package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	ksvc "github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/agnosto/instawebhooks/config"
	"github.com/agnosto/instawebhooks/logger"
)

type Program struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *Program) Start(s ksvc.Service) error {
	a, err := newApp(p.cfg)
	if err != nil {
		return err
	}
	ctx, cancel := runContext()
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, a)
	return nil
}

func (p *Program) run(ctx context.Context, a *app) {
	defer close(p.done)
	defer a.Close()
	if err := a.monitor.Run(ctx); err != nil {
		logger.Logger.Printf("[ERROR] Monitor stopped: %v", err)
	}
}

func (p *Program) Stop(s ksvc.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		select {
		case <-p.done:
		case <-time.After(10 * time.Second):
			logger.Logger.Printf("[WARN] Monitor did not stop within 10s")
		}
	}
	return nil
}

var serviceCmd = &cobra.Command{
	Use:       "service <install|uninstall|start|stop|restart|run>",
	Short:     "Run InstaWebhooks as an OS service",
	Long:      "Installs and controls a system service that runs the monitor with the current config file.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "run"},
	RunE:      runService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}

func serviceConfig() (*ksvc.Config, error) {
	configPath, err := filepath.Abs(flags.configPath())
	if err != nil {
		return nil, err
	}
	return &ksvc.Config{
		Name:        "InstaWebhooks",
		DisplayName: "InstaWebhooks",
		Description: "Sends new Instagram posts to a Discord webhook.",
		Arguments:   []string{"service", "run", "--config", configPath},
	}, nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	action := args[0]
	if action == "install" || action == "run" {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}

	svcConfig, err := serviceConfig()
	if err != nil {
		return err
	}
	s, err := ksvc.New(&Program{cfg: cfg}, svcConfig)
	if err != nil {
		return fmt.Errorf("error creating service: %w", err)
	}

	if action == "run" {
		if err := s.Run(); err != nil {
			return fmt.Errorf("error running service: %w", err)
		}
		return nil
	}

	if err := ksvc.Control(s, action); err != nil {
		return fmt.Errorf("service %s failed: %w", action, err)
	}
	fmt.Printf("Service %s: done\n", action)
	return nil
}

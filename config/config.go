package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRefreshInterval = 3600
	DefaultStateDir        = ".memory"
)

var (
	webhookPattern  = regexp.MustCompile(`^https://(?:(?:canary|ptb)\.)?discord(?:app)?\.com/api/webhooks/\d+/[A-Za-z0-9_\-]+$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)
)

type Config struct {
	Account       AccountConfig       `toml:"account" yaml:"account"`
	Monitor       MonitorConfig       `toml:"monitor" yaml:"monitor"`
	Discord       DiscordConfig       `toml:"discord" yaml:"discord"`
	Options       OptionsConfig       `toml:"options" yaml:"options"`
	Notifications NotificationsConfig `toml:"notifications" yaml:"notifications"`
}

type AccountConfig struct {
	SessionID string `toml:"session_id" yaml:"session_id"`
	UserAgent string `toml:"user_agent" yaml:"user_agent"` // Optional, overrides the built-in browser user agent
}

type MonitorConfig struct {
	Usernames       []string `toml:"usernames" yaml:"usernames"`
	RefreshInterval int      `toml:"refresh_interval" yaml:"refresh_interval"` // seconds
	CatchUp         int      `toml:"catchup" yaml:"catchup"`
	Once            bool     `toml:"once" yaml:"once"`
}

type DiscordConfig struct {
	WebhookURL     string `toml:"webhook_url" yaml:"webhook_url"`
	MessageContent string `toml:"message_content" yaml:"message_content"`
	NoEmbed        bool   `toml:"no_embed" yaml:"no_embed"`
}

type OptionsConfig struct {
	StateDir string `toml:"state_dir" yaml:"state_dir"`
	LogDir   string `toml:"log_dir" yaml:"log_dir"` // Optional, defaults to state_dir
	History  bool   `toml:"history" yaml:"history"`
	Verbose  bool   `toml:"verbose" yaml:"verbose"`
	Quiet    bool   `toml:"quiet" yaml:"quiet"`
}

type NotificationsConfig struct {
	SystemNotify bool `toml:"system_notify" yaml:"system_notify"`
}

// RefreshDuration returns the polling interval as a time.Duration.
func (c *Config) RefreshDuration() time.Duration {
	return time.Duration(c.Monitor.RefreshInterval) * time.Second
}

// ResolvedLogDir returns where the log file is written.
func (c *Config) ResolvedLogDir() string {
	if c.Options.LogDir != "" {
		return c.Options.LogDir
	}
	return c.Options.StateDir
}

func GetConfigPath() string {
	currentDirConfig := "config.toml"
	if _, err := os.Stat(currentDirConfig); err == nil {
		return currentDirConfig
	}
	return filepath.Join(GetConfigDir(), "config.toml")
}

func GetConfigDir() string {
	var configDir string
	if runtime.GOOS == "darwin" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		configDir = filepath.Join(homeDir, ".config")
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "."
		}
		configDir = dir
	}
	return filepath.Join(configDir, "instawebhooks")
}

// LoadConfig decodes the file at configPath on top of the defaults. A missing
// file is not an error. The result is not validated; call Validate once all
// overrides have been applied.
func LoadConfig(configPath string) (*Config, error) {
	cfg := CreateDefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	usernames := make([]string, 0, len(c.Monitor.Usernames))
	seen := make(map[string]struct{}, len(c.Monitor.Usernames))
	for _, name := range c.Monitor.Usernames {
		name = strings.TrimPrefix(strings.TrimSpace(name), "@")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		usernames = append(usernames, name)
	}
	c.Monitor.Usernames = usernames
	c.Discord.WebhookURL = strings.TrimSpace(c.Discord.WebhookURL)
	c.Account.SessionID = strings.TrimSpace(c.Account.SessionID)
	if c.Options.StateDir == "" {
		c.Options.StateDir = DefaultStateDir
	}
	c.Options.StateDir = filepath.ToSlash(c.Options.StateDir)
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("INSTAWEBHOOKS_WEBHOOK_URL"); v != "" {
		c.Discord.WebhookURL = v
	}
	if v := os.Getenv("INSTAWEBHOOKS_SESSION_ID"); v != "" {
		c.Account.SessionID = v
	}
	c.normalize()
}

func (c *Config) Validate() error {
	c.normalize()

	if len(c.Monitor.Usernames) == 0 {
		return fmt.Errorf("no instagram username to monitor")
	}
	for _, name := range c.Monitor.Usernames {
		if !usernamePattern.MatchString(name) {
			return fmt.Errorf("invalid instagram username %q", name)
		}
	}
	if c.Discord.WebhookURL == "" {
		return fmt.Errorf("discord webhook_url is empty")
	}
	if !webhookPattern.MatchString(c.Discord.WebhookURL) {
		return fmt.Errorf("invalid discord webhook url %q", c.Discord.WebhookURL)
	}
	if c.Monitor.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive, got %d", c.Monitor.RefreshInterval)
	}
	if c.Monitor.CatchUp < 0 {
		return fmt.Errorf("catchup must not be negative, got %d", c.Monitor.CatchUp)
	}
	if c.Discord.NoEmbed && strings.TrimSpace(c.Discord.MessageContent) == "" {
		return fmt.Errorf("cannot send an empty message: no_embed is set but message_content is empty")
	}
	if c.Options.Quiet && c.Options.Verbose {
		return fmt.Errorf("quiet and verbose are mutually exclusive")
	}
	return nil
}

func CreateDefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			RefreshInterval: DefaultRefreshInterval,
		},
		Options: OptionsConfig{
			StateDir: DefaultStateDir,
			History:  true,
		},
	}
}

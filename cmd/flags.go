package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agnosto/instawebhooks/config"
)

type Flags struct {
	ConfigPath      string
	StateDir        string
	RefreshInterval int
	MessageContent  string
	NoEmbed         bool
	CatchUp         int
	Once            bool
	Verbose         bool
	Quiet           bool
}

var flags Flags

func registerFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "Path to the config file (TOML or YAML)")
	pf.StringVar(&flags.StateDir, "state-dir", "", "Directory holding per-account state files")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "Only log fatal errors")

	f := root.Flags()
	f.IntVarP(&flags.RefreshInterval, "refresh-interval", "i", config.DefaultRefreshInterval, "Seconds between checks for new posts")
	f.StringVarP(&flags.MessageContent, "message-content", "c", "", "Message sent with each post; supports {post_url}, {owner_url}, {owner_name}, {owner_username}, {post_caption}, {post_shortcode}, {post_image_url}")
	f.BoolVar(&flags.NoEmbed, "no-embed", false, "Send only the message content, without an embed")
	f.IntVar(&flags.CatchUp, "catchup", 0, "On a first run, send this many of the newest posts")
	f.BoolVar(&flags.Once, "once", false, "Check each account once and exit")
}

// configPath returns the config file in use.
func (f Flags) configPath() string {
	if f.ConfigPath != "" {
		return f.ConfigPath
	}
	return config.GetConfigPath()
}

// apply overrides cfg with the flags set on the command line and with the
// positional USERNAME and WEBHOOK_URL arguments.
func (f Flags) apply(cmd *cobra.Command, cfg *config.Config, args []string) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if len(args) > 0 {
		cfg.Monitor.Usernames = strings.Split(args[0], ",")
	}
	if len(args) > 1 {
		cfg.Discord.WebhookURL = args[1]
	}
	if changed("state-dir") {
		cfg.Options.StateDir = f.StateDir
	}
	if changed("refresh-interval") {
		cfg.Monitor.RefreshInterval = f.RefreshInterval
	}
	if changed("message-content") {
		cfg.Discord.MessageContent = f.MessageContent
	}
	if changed("no-embed") {
		cfg.Discord.NoEmbed = f.NoEmbed
	}
	if changed("catchup") {
		cfg.Monitor.CatchUp = f.CatchUp
	}
	if changed("once") {
		cfg.Monitor.Once = f.Once
	}
	if changed("verbose") {
		cfg.Options.Verbose = f.Verbose
	}
	if changed("quiet") {
		cfg.Options.Quiet = f.Quiet
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agnosto/instawebhooks/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  "Creates the config file with default values if it does not exist yet. An existing file is left untouched.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flags.configPath()
		created, err := config.EnsureConfigExists(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\nAdd your usernames and webhook_url, then run instawebhooks.\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agnosto/instawebhooks/config"
	"github.com/agnosto/instawebhooks/db"
	"github.com/agnosto/instawebhooks/db/repository"
	dbservice "github.com/agnosto/instawebhooks/db/service"
	"github.com/agnosto/instawebhooks/memory"
	"github.com/agnosto/instawebhooks/ui"
)

var statusRecent int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what has been sent for each account",
	Long:  "Reads the state directory and send history and prints a summary per account. Nothing is fetched or sent.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusRecent, "recent", 5, "Number of recent sends to list per account")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	accounts, err := collectStatus(cfg, statusRecent)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), ui.RenderStatus(cfg.Options.StateDir, accounts))
	return nil
}

// collectStatus reads the state of every configured or previously checked
// account. The history database is only opened if it already exists.
func collectStatus(cfg *config.Config, recent int) ([]ui.AccountStatus, error) {
	store := memory.NewStore(cfg.Options.StateDir)
	known, err := store.Entities()
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}
	names := mergeNames(cfg.Monitor.Usernames, known)

	var history *dbservice.HistoryService
	if _, err := os.Stat(filepath.Join(cfg.Options.StateDir, db.FileName)); err == nil {
		database, err := db.NewDatabase(cfg.Options.StateDir)
		if err == nil {
			defer database.Close()
			history = dbservice.NewHistoryService(repository.NewSentPostRepository(database.DB))
		}
	}

	accounts := make([]ui.AccountStatus, 0, len(names))
	for _, name := range names {
		acc := ui.AccountStatus{Entity: name, HistoryTotal: -1}

		record, err := store.Load(name)
		var corrupt *memory.StateCorruptError
		switch {
		case errors.As(err, &corrupt):
			acc.Problem = fmt.Sprintf("State file is unreadable and will be reset on the next check: %v", corrupt.Err)
			record = memory.NewSyncRecord()
		case err != nil:
			acc.Problem = err.Error()
			record = memory.NewSyncRecord()
		}

		if record.LastCheck != nil {
			last := record.LastCheck.Time
			acc.LastCheck = fmt.Sprintf("%s (%s)", last.Local().Format("2006-01-02 15:04:05 MST"), humanize.Time(last))
		}
		acc.Checkpoint = record.ResumeAnchor()
		acc.Retained = len(record.SentPosts)
		acc.TotalSent = record.Stats.TotalSent
		acc.TypeCounts = record.Stats.TypeCounts

		if history != nil {
			if summary, err := history.Summary(name, recent); err == nil {
				acc.HistoryTotal = summary.Total
				for _, p := range summary.Recent {
					acc.Recent = append(acc.Recent, fmt.Sprintf("%s  %-8s %s", p.SentAt.Local().Format("2006-01-02 15:04"), p.TypeDisplay, p.URL))
				}
			}
		} else {
			for i, entry := range record.SentPosts {
				if i >= recent {
					break
				}
				acc.Recent = append(acc.Recent, fmt.Sprintf("%s  %-8s %s", entry.SentAt.Local().Format("2006-01-02 15:04"), entry.TypeDisplay, entry.URL))
			}
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func mergeNames(configured, known []string) []string {
	seen := make(map[string]struct{}, len(configured)+len(known))
	var names []string
	for _, list := range [][]string{configured, known} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

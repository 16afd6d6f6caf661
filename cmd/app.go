package cmd

import (
	"github.com/agnosto/instawebhooks/config"
	"github.com/agnosto/instawebhooks/db"
	"github.com/agnosto/instawebhooks/db/repository"
	dbservice "github.com/agnosto/instawebhooks/db/service"
	"github.com/agnosto/instawebhooks/headers"
	"github.com/agnosto/instawebhooks/logger"
	"github.com/agnosto/instawebhooks/memory"
	"github.com/agnosto/instawebhooks/notifications"
	"github.com/agnosto/instawebhooks/posts"
	"github.com/agnosto/instawebhooks/service"
)

// app holds the wired components for one validated configuration.
type app struct {
	cfg      *config.Config
	client   *posts.InstagramClient
	store    *memory.Store
	database *db.Database
	history  *dbservice.HistoryService
	monitor  *service.Monitor
}

func newApp(cfg *config.Config) (*app, error) {
	hdrs := headers.NewInstagramHeaders(cfg.Account.UserAgent, cfg.Account.SessionID)
	client := posts.NewInstagramClient(hdrs, posts.ClientOptions{})
	notifier := notifications.NewDiscordNotifier(notifications.DiscordOptions{
		WebhookURL:     cfg.Discord.WebhookURL,
		MessageContent: cfg.Discord.MessageContent,
		NoEmbed:        cfg.Discord.NoEmbed,
	})
	store := memory.NewStore(cfg.Options.StateDir)

	a := &app{cfg: cfg, client: client, store: store}
	opts := []service.Option{
		service.WithAlerter(notifications.NewSystemNotifier(cfg.Notifications.SystemNotify)),
	}

	if cfg.Options.History {
		database, err := db.NewDatabase(cfg.Options.StateDir)
		if err != nil {
			// The ledger is for reporting only; monitoring works without it.
			logger.Logger.Printf("[WARN] Send history disabled: %v", err)
		} else {
			a.database = database
			a.history = dbservice.NewHistoryService(repository.NewSentPostRepository(database.DB))
			opts = append(opts, service.WithHistory(a.history))
		}
	}
	if logger.Quiet() {
		opts = append(opts, service.WithConsole(nil))
	}

	a.monitor = service.NewMonitor(service.MonitorConfigFrom(cfg), client, notifier, store, opts...)
	return a, nil
}

func (a *app) Close() error {
	if a.database != nil {
		return a.database.Close()
	}
	return nil
}

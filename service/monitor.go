package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/agnosto/instawebhooks/config"
	"github.com/agnosto/instawebhooks/logger"
	"github.com/agnosto/instawebhooks/memory"
	"github.com/agnosto/instawebhooks/posts"
	"github.com/agnosto/instawebhooks/reconcile"
)

// DefaultSendDelay is the pause between two webhook sends of one batch.
const DefaultSendDelay = 2 * time.Second

// Notifier delivers one post.
type Notifier interface {
	Send(ctx context.Context, item posts.FeedItem) error
}

// HistoryRecorder keeps the permanent send history.
type HistoryRecorder interface {
	RecordSent(entity string, item posts.FeedItem, sentAt time.Time) error
}

type Alerter interface {
	AlertFatal(title, message string)
}

type MonitorConfig struct {
	Usernames       []string
	RefreshInterval time.Duration
	CatchUp         int
	Once            bool
	SendDelay       time.Duration
}

func MonitorConfigFrom(cfg *config.Config) MonitorConfig {
	return MonitorConfig{
		Usernames:       append([]string(nil), cfg.Monitor.Usernames...),
		RefreshInterval: cfg.RefreshDuration(),
		CatchUp:         cfg.Monitor.CatchUp,
		Once:            cfg.Monitor.Once,
		SendDelay:       DefaultSendDelay,
	}
}

// LoginRequiredError ends the monitor: Instagram no longer accepts the
// session and nothing can be fetched until it is replaced.
type LoginRequiredError struct {
	Entity string
	Err    error
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("instagram requires a login to read %s; set account.session_id in the config file or INSTAWEBHOOKS_SESSION_ID to a valid sessionid cookie and restart: %v", e.Entity, e.Err)
}

func (e *LoginRequiredError) Unwrap() error {
	return e.Err
}

// CycleReport describes one polling cycle of one account.
type CycleReport struct {
	Entity string
	Mode   reconcile.Mode
	Stop   reconcile.StopReason
	Found  int
	Sent   int
	// Failed is set when a send failed and the rest of the batch was left
	// for the next cycle.
	Failed bool
}

type Option func(*Monitor)

func WithHistory(h HistoryRecorder) Option {
	return func(m *Monitor) { m.history = h }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// WithSleep replaces the timer used between cycles and between sends.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithConsole sets where cycle summaries and progress bars are drawn. A nil
// writer disables both.
func WithConsole(w io.Writer) Option {
	return func(m *Monitor) { m.console = w }
}

// Monitor polls each configured account and forwards new posts.
type Monitor struct {
	cfg        MonitorConfig
	source     posts.Source
	notifier   Notifier
	store      *memory.Store
	history    HistoryRecorder
	alerter    Alerter
	reconciler *reconcile.Reconciler
	logger     *log.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	console    io.Writer
}

func NewMonitor(cfg MonitorConfig, source posts.Source, notifier Notifier, store *memory.Store, opts ...Option) *Monitor {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = DefaultSendDelay
	}
	m := &Monitor{
		cfg:      cfg,
		source:   source,
		notifier: notifier,
		store:    store,
		logger:   logger.Logger,
		sleep:    sleepContext,
		now:      time.Now,
		console:  os.Stdout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reconciler = reconcile.New(reconcile.Options{
		SafetyWindow:    reconcile.DefaultSafetyWindow,
		Limit:           reconcile.DefaultLimit,
		CatchUp:         cfg.CatchUp,
		RefreshInterval: cfg.RefreshInterval,
		Now:             m.now,
	}, m.logger)
	return m
}

// Run polls every account until ctx is cancelled, or once each in run-once
// mode. Accounts are polled concurrently; each account's cycles never
// overlap. A *LoginRequiredError stops all of them.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.cfg.Usernames) == 0 {
		return fmt.Errorf("no accounts to monitor")
	}

	m.logger.Printf("Starting InstaWebhooks for %d account(s)", len(m.cfg.Usernames))
	g, gctx := errgroup.WithContext(ctx)
	for _, username := range m.cfg.Usernames {
		username := username
		g.Go(func() error {
			return m.loop(gctx, username)
		})
	}

	err := g.Wait()
	var loginErr *LoginRequiredError
	switch {
	case errors.As(err, &loginErr):
		m.logger.Printf("[ERROR] %v", loginErr)
		if m.alerter != nil {
			m.alerter.AlertFatal("InstaWebhooks stopped", fmt.Sprintf("Instagram requires a login to read %s.", loginErr.Entity))
		}
		return err
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		return err
	}
	if ctx.Err() == nil {
		m.logger.Printf("All accounts checked, exiting")
	}
	return nil
}

func (m *Monitor) loop(ctx context.Context, entity string) error {
	for {
		if _, err := m.RunCycle(ctx, entity); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if m.cfg.Once {
			return nil
		}
		logger.Debugf("Sleeping %s before checking %s again", m.cfg.RefreshInterval, entity)
		if err := m.sleep(ctx, m.cfg.RefreshInterval); err != nil {
			return nil
		}
	}
}

// RunCycle fetches entity's feed once and sends what has not been sent yet,
// oldest first. Each post is checkpointed only after it was delivered.
// Profile errors are logged and leave the state untouched. The returned error
// is non-nil only on cancellation or a *LoginRequiredError.
func (m *Monitor) RunCycle(ctx context.Context, entity string) (CycleReport, error) {
	report := CycleReport{Entity: entity}
	logger.Debugf("Checking %s for new posts", entity)

	profile, err := m.source.GetProfile(ctx, entity)
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		switch {
		case errors.Is(err, posts.ErrProfileNotFound):
			m.logger.Printf("[ERROR] Profile %s does not exist: %v", entity, err)
		case errors.Is(err, posts.ErrLoginRequired):
			m.logger.Printf("[ERROR] Instagram requires a login to view %s, skipping this check: %v", entity, err)
		default:
			m.logger.Printf("[ERROR] Failed to fetch profile %s: %v", entity, err)
		}
		return report, nil
	}

	record, err := m.store.Load(entity)
	if err != nil {
		var corrupt *memory.StateCorruptError
		if !errors.As(err, &corrupt) {
			m.logger.Printf("[ERROR] Failed to load state for %s: %v", entity, err)
			return report, nil
		}
		m.logger.Printf("[WARN] %v; treating %s as never checked", err, entity)
		record = memory.NewSyncRecord()
	}

	res, err := m.reconciler.Reconcile(ctx, profile.Posts(), record.ResumeAnchor(), memory.NewIndex(record))
	if err != nil {
		if errors.Is(err, posts.ErrLoginRequired) {
			return report, &LoginRequiredError{Entity: entity, Err: err}
		}
		return report, err
	}
	report.Mode, report.Stop, report.Found = res.Mode, res.Stop, len(res.Items)
	logger.Debugf("%s: %d new post(s) (%s, stopped on %s)", entity, len(res.Items), res.Mode, res.Stop)

	bar := m.newProgressBar(entity, len(res.Items))
	for i, item := range res.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		withOwner(&item, profile)

		if err := m.notifier.Send(ctx, item); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			m.logger.Printf("[ERROR] Failed to send post %s of %s, %d post(s) left for the next check: %v", item.Shortcode, entity, len(res.Items)-i, err)
			report.Failed = true
			break
		}
		m.logger.Printf("Sent %s %s of %s to Discord", item.TypeDisplay(), item.Shortcode, entity)
		m.commit(entity, item)
		report.Sent++
		if bar != nil {
			bar.Add(1)
		}

		if err := m.sleep(ctx, m.cfg.SendDelay); err != nil {
			return report, err
		}
	}
	if bar != nil {
		bar.Finish()
	}

	m.printSummary(report)
	return report, nil
}

// commit records a delivered post. Failures are logged only: the post is
// already out and the worst outcome is a repeat on the next cycle.
func (m *Monitor) commit(entity string, item posts.FeedItem) {
	if _, err := m.store.AddSentPost(entity, item); err != nil {
		m.logger.Printf("[ERROR] Failed to save state for %s after sending %s: %v", entity, item.Shortcode, err)
	}
	if m.history != nil {
		if err := m.history.RecordSent(entity, item, m.now()); err != nil {
			m.logger.Printf("[WARN] Failed to record %s in history: %v", item.Shortcode, err)
		}
	}
}

func withOwner(item *posts.FeedItem, profile *posts.Profile) {
	if item.OwnerUsername == "" {
		item.OwnerUsername = profile.Username
	}
	if item.OwnerFullName == "" {
		item.OwnerFullName = profile.FullName
	}
	if item.OwnerProfilePicURL == "" {
		item.OwnerProfilePicURL = profile.ProfilePicURL
	}
}

func (m *Monitor) newProgressBar(entity string, n int) *progressbar.ProgressBar {
	if n < 2 || m.console == nil || logger.Quiet() {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(m.console),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription(fmt.Sprintf("[green]Sending %s[reset]", entity)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(15*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (m *Monitor) printSummary(r CycleReport) {
	if m.console == nil || logger.Quiet() {
		return
	}
	stamp := m.now().Format("15:04:05")
	switch {
	case r.Failed:
		color.New(color.FgRed).Fprintf(m.console, "[%s] %s: sent %d of %d new post(s), retrying the rest next check\n", stamp, r.Entity, r.Sent, r.Found)
	case r.Sent > 0:
		color.New(color.FgGreen).Fprintf(m.console, "[%s] %s: sent %d new post(s)\n", stamp, r.Entity, r.Sent)
	default:
		color.New(color.Faint).Fprintf(m.console, "[%s] %s: no new posts\n", stamp, r.Entity)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agnosto/instawebhooks/config"
	"github.com/agnosto/instawebhooks/headers"
	"github.com/agnosto/instawebhooks/memory"
	"github.com/agnosto/instawebhooks/posts"
	"github.com/agnosto/instawebhooks/utils"
)

type DiagnosisFlags struct {
	Level       int
	OutputFile  string
	SkipNetwork bool
}

var diagnosisFlags DiagnosisFlags

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check the config, state files, Instagram access and the webhook",
	Long:  "Runs a series of read-only checks and writes a redacted report that can be attached to bug reports. No post is sent.",
	Args:  cobra.NoArgs,
	RunE:  runDiagnose,
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().IntVar(&diagnosisFlags.Level, "level", 1, "Report verbosity (2 includes the redacted config)")
	diagnoseCmd.Flags().StringVarP(&diagnosisFlags.OutputFile, "output", "o", "", "Where to save the report")
	diagnoseCmd.Flags().BoolVar(&diagnosisFlags.SkipNetwork, "skip-network", false, "Skip the Instagram and Discord checks")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	suite := NewDiagnosisSuite(diagnosisFlags, cfg, err)
	suite.httpClient = &http.Client{Timeout: 30 * time.Second}
	suite.Run(cmd.Context())
	return nil
}

type DiagnosisSuite struct {
	flags      DiagnosisFlags
	cfg        *config.Config
	loadErr    error
	report     *strings.Builder
	httpClient *http.Client
	client     posts.Source
	failures   int
}

func NewDiagnosisSuite(flags DiagnosisFlags, cfg *config.Config, loadErr error) *DiagnosisSuite {
	return &DiagnosisSuite{
		flags:   flags,
		cfg:     cfg,
		loadErr: loadErr,
		report:  &strings.Builder{},
	}
}

func (ds *DiagnosisSuite) Run(ctx context.Context) {
	ds.log("Starting diagnosis suite...")
	ds.log(fmt.Sprintf("Verbosity Level: %d", ds.flags.Level))
	ds.log("----------------------------------")

	ds.testConfig()
	ds.testState()
	if ds.cfg != nil && !ds.flags.SkipNetwork {
		ds.testInstagram(ctx)
		ds.testWebhook(ctx)
	}

	ds.log("----------------------------------")
	ds.log(fmt.Sprintf("Diagnosis suite finished with %d failure(s).", ds.failures))

	ds.saveReport()
}

func (ds *DiagnosisSuite) log(message string) {
	fmt.Println(message)
	ds.report.WriteString(message + "\n")
}

func (ds *DiagnosisSuite) fail(message string) {
	ds.failures++
	ds.log(" - FAIL: " + message)
}

func (ds *DiagnosisSuite) sanitizePath(path string) string {
	re := regexp.MustCompile(`(?i)(C:\\Users\\[^\\]+|/home/[^/]+|/Users/[^/]+)`)
	return re.ReplaceAllString(path, "[REDACTED_USER_PATH]")
}

func (ds *DiagnosisSuite) testConfig() {
	ds.log("\n[1] Testing Configuration")
	ds.log(fmt.Sprintf(" - Config path: %s", ds.sanitizePath(flags.configPath())))
	if ds.loadErr != nil || ds.cfg == nil {
		ds.fail(fmt.Sprintf("Configuration could not be loaded: %v", ds.loadErr))
		ds.cfg = nil
		return
	}
	if err := ds.cfg.Validate(); err != nil {
		ds.fail(fmt.Sprintf("Configuration is invalid: %v", err))
	} else {
		ds.log(" - PASS: Config loaded and valid.")
	}
	ds.log(fmt.Sprintf(" - INFO: Monitoring %d account(s) every %s", len(ds.cfg.Monitor.Usernames), ds.cfg.RefreshDuration()))
	if ds.cfg.Account.SessionID == "" {
		ds.log(" - INFO: No session_id set; Instagram may require a login for some accounts.")
	}

	if ds.flags.Level > 1 {
		redactedCfg := *ds.cfg
		redactedCfg.Account.SessionID = "[REDACTED]"
		redactedCfg.Discord.WebhookURL = utils.RedactWebhookURL(redactedCfg.Discord.WebhookURL)
		redactedCfg.Options.StateDir = ds.sanitizePath(redactedCfg.Options.StateDir)
		redactedCfg.Options.LogDir = ds.sanitizePath(redactedCfg.Options.LogDir)
		ds.log(fmt.Sprintf(" - Loaded config (redacted): %+v", redactedCfg))
	}
}

func (ds *DiagnosisSuite) testState() {
	ds.log("\n[2] Testing State Directory")
	if ds.cfg == nil {
		ds.log(" - SKIP: Cannot test state without a valid config.")
		return
	}

	dir := ds.cfg.Options.StateDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ds.fail(fmt.Sprintf("Cannot create state directory %s: %v", ds.sanitizePath(dir), err))
		return
	}
	probe, err := os.CreateTemp(dir, ".diagnose-*")
	if err != nil {
		ds.fail(fmt.Sprintf("State directory %s is not writable: %v", ds.sanitizePath(dir), err))
		return
	}
	probe.Close()
	os.Remove(probe.Name())
	ds.log(fmt.Sprintf(" - PASS: State directory %s is writable.", ds.sanitizePath(dir)))

	store := memory.NewStore(dir)
	known, err := store.Entities()
	if err != nil {
		ds.fail(fmt.Sprintf("Cannot list state files: %v", err))
		return
	}
	for _, name := range mergeNames(ds.cfg.Monitor.Usernames, known) {
		record, err := store.Load(name)
		if err != nil {
			ds.fail(fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if record.ResumeAnchor() == "" {
			ds.log(fmt.Sprintf(" - INFO: %s has no checkpoint yet; the first check seeds it.", name))
			continue
		}
		ds.log(fmt.Sprintf(" - PASS: %s resumes after %s (%d sent).", name, record.ResumeAnchor(), record.Stats.TotalSent))
	}
}

func (ds *DiagnosisSuite) testInstagram(ctx context.Context) {
	ds.log("\n[3] Testing Instagram Access")
	client := ds.client
	if client == nil {
		hdrs := headers.NewInstagramHeaders(ds.cfg.Account.UserAgent, ds.cfg.Account.SessionID)
		client = posts.NewInstagramClient(hdrs, posts.ClientOptions{HTTPClient: ds.httpClient})
	}

	for _, name := range ds.cfg.Monitor.Usernames {
		profile, err := client.GetProfile(ctx, name)
		if err != nil {
			switch {
			case errors.Is(err, posts.ErrLoginRequired):
				ds.fail(fmt.Sprintf("%s: Instagram requires a login. Set account.session_id. (%v)", name, err))
			case errors.Is(err, posts.ErrProfileNotFound):
				ds.fail(fmt.Sprintf("%s: profile does not exist.", name))
			default:
				ds.fail(fmt.Sprintf("%s: %v", name, err))
			}
			continue
		}
		ds.log(fmt.Sprintf(" - PASS: Found %s (%s), %d posts, private=%v", profile.Username, profile.FullName, profile.PostCount, profile.IsPrivate))

		item, err := profile.Posts().Next(ctx)
		switch {
		case errors.Is(err, posts.ErrEndOfFeed):
			ds.log(fmt.Sprintf(" - INFO: %s has no posts.", name))
		case err != nil:
			ds.fail(fmt.Sprintf("%s: could not read the feed: %v", name, err))
		default:
			ds.log(fmt.Sprintf(" - PASS: Newest post %s (%s) from %s", item.Shortcode, item.TypeDisplay(), item.UTCDate().Format(time.RFC3339)))
		}
	}
}

// testWebhook fetches the webhook object; Discord answers GET without
// posting anything to the channel.
func (ds *DiagnosisSuite) testWebhook(ctx context.Context) {
	ds.log("\n[4] Testing Discord Webhook")
	if ds.cfg.Discord.WebhookURL == "" {
		ds.fail("No webhook_url configured.")
		return
	}
	ds.log(fmt.Sprintf(" - Webhook: %s", utils.RedactWebhookURL(ds.cfg.Discord.WebhookURL)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.cfg.Discord.WebhookURL, nil)
	if err != nil {
		ds.fail(fmt.Sprintf("Invalid webhook URL: %v", err))
		return
	}
	client := ds.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		ds.fail(fmt.Sprintf("Webhook unreachable: %v", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ds.fail(fmt.Sprintf("Webhook returned status %d; it may have been deleted.", resp.StatusCode))
		return
	}
	ds.log(" - PASS: Webhook exists.")
}

func (ds *DiagnosisSuite) saveReport() {
	outputFile := ds.flags.OutputFile
	if outputFile == "" {
		outputFile = fmt.Sprintf("diagnosis-report-%s.txt", time.Now().Format("2006-01-02_15-04-05"))
	}

	err := os.WriteFile(outputFile, []byte(ds.report.String()), 0644)
	if err != nil {
		fmt.Printf("\nCould not save report to %s: %v\n", outputFile, err)
	} else {
		fmt.Printf("\nDiagnosis report saved to %s\n", outputFile)
	}
}

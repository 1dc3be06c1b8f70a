package commands

import (
	"log/slog"
	"os"
	"time"

	"checkind-backend/lib/browser"
	"checkind-backend/lib/configutil"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/telemetry"
	"checkind-backend/lib/util/serviceutil"
	"checkind-backend/services/checkin"

	"github.com/spf13/cobra"
)

// optional notification channels, read from checkind.json5 when the
// file exists
type NotifyConfig struct {
	Smtp       *checkin.SmtpConfig `json:"smtp"`
	WebhookUrl string              `json:"webhook_url"`
}

var (
	runPlatform    *string
	runDryRun      *bool
	runConcurrency *int
	runTimeout     *time.Duration
)

func init() {
	runPlatform = runCmd.Flags().String("platform", "", "Only process accounts of this provider id.")
	runDryRun = runCmd.Flags().Bool("dry-run", false, "Resolve and print the accounts without touching the network.")
	runConcurrency = runCmd.Flags().Int("concurrency", 3, "How many accounts to process at once.")
	runTimeout = runCmd.Flags().Duration("timeout", 0, "Abort the run after this long (0 means no limit).")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--platform <id>] [--dry-run] [--concurrency <n>] [--timeout <duration>]",
	Short: "Signs in on every configured account and prints the report.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env := envMap()

		registry := providers.NewRegistry()
		if overrides := checkin.ProviderOverrides(env); overrides != "" {
			err := registry.RegisterOverrides(overrides)
			if err != nil {
				serviceutil.Fatal("failed to parse provider overrides", err)
			}
		}

		accounts, err := checkin.ResolveAccounts(env)
		if err != nil {
			serviceutil.Fatal("failed to resolve accounts", err)
		}

		if *runDryRun {
			printAccounts(cmd.OutOrStdout(), accounts, registry)
			return
		}

		telemetry.InstrumentPerfStats(ctx)

		sessions := browser.NewChromedpFactory(browser.DetectRuntimeEnvironment(env))
		service, err := checkin.NewService(registry, sessions, checkin.Options{
			Concurrency: *runConcurrency,
			RunTimeout:  *runTimeout,
			Platform:    *runPlatform,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize service", err)
		}

		report := service.Run(ctx, accounts)

		notifiers := []checkin.Notifier{checkin.ConsoleNotifier{Out: os.Stdout}}
		notifiers = append(notifiers, configuredNotifiers()...)
		err = checkin.FanOut(ctx, report, notifiers)
		if err != nil {
			slog.Error("some notifications failed", "err", err)
		}
	},
}

func configuredNotifiers() []checkin.Notifier {
	cfg, err := configutil.ReadConfig[NotifyConfig]("checkind.json5")
	if err != nil {
		slog.Debug("no notification config, console only", "err", err)
		return nil
	}

	var notifiers []checkin.Notifier
	if cfg.Smtp != nil {
		notifiers = append(notifiers, checkin.EmailNotifier{Config: *cfg.Smtp})
	}
	if cfg.WebhookUrl != "" {
		notifiers = append(notifiers, checkin.NewWebhookNotifier(cfg.WebhookUrl))
	}
	return notifiers
}

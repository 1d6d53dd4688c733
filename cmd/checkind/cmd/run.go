package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	"checkin-backend/lib/accounts"
	"checkin-backend/lib/captcha"
	"checkin-backend/lib/engine"
	"checkin-backend/lib/notify"
	"checkin-backend/lib/osutil"
	"checkin-backend/lib/report"
	"checkin-backend/lib/sites"
	"checkin-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

var runSite string

func init() {
	runCmd.Flags().StringVar(&runSite, "site", "", "only run the named site")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the checkin workflow for every configured site and account.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := osutil.SignalContext()

		telemetry.InitSlog(debug)
		err := telemetry.SetupFromEnv(ctx, "checkind")
		if err != nil {
			osutil.Fatal("setup telemetry", err)
		}
		defer telemetry.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)

		cfg := loadConfig()
		if len(cfg.Sites) == 0 {
			osutil.Fatal("validate config", errors.New("no sites configured"))
		}
		store := openStore(cfg)

		eng := engine.New(engine.Options{
			Ocr:        captcha.NewClient(captcha.ClientOptions{ServiceUrl: cfg.OcrService}),
			Store:      store,
			MaxRetry:   cfg.MaxRetry,
			RetryDelay: time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		})

		names := make([]string, 0, len(cfg.Sites))
		for name := range cfg.Sites {
			names = append(names, name)
		}
		sort.Strings(names)

		var runs []engine.RunReport
		for _, name := range names {
			if runSite != "" && runSite != name {
				continue
			}
			siteCfg := cfg.Sites[name]

			site, err := sites.New(name, siteCfg)
			if err != nil {
				osutil.Fatal("configure site", err)
			}
			directory := accounts.Parse(siteCfg.Accounts)
			if len(directory) == 0 {
				osutil.Fatal("validate config", errors.New("site "+name+" has no valid accounts"))
			}

			run := eng.Run(ctx, site, directory, engine.RunOptions{
				MaxInFlight:  cfg.MaxInFlight,
				AccountDelay: time.Duration(cfg.AccountDelayMs) * time.Millisecond,
			})
			report.Render(os.Stdout, run)
			runs = append(runs, run)
		}

		if runSite != "" && len(runs) == 0 {
			osutil.Fatal("validate config", errors.New("site "+runSite+" is not configured"))
		}

		if cfg.Smtp.Enabled() {
			err := notify.SendSummary(ctx, cfg.Smtp, runs)
			if err != nil {
				slog.Error("failed to send summary email", "err", err)
			}
		}
	},
}

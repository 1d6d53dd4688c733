package cmd

import (
	"fmt"
	"os"

	"checkin-backend/lib/configutil"
	configlibsql "checkin-backend/lib/configutil/libsql"
	"checkin-backend/lib/notify"
	"checkin-backend/lib/osutil"
	"checkin-backend/lib/sessionstore"
	"checkin-backend/lib/sites"

	"github.com/spf13/cobra"
)

var configFile string
var debug bool

type Config struct {
	Database   configlibsql.Struct `json:"database"`
	OcrService string              `json:"ocr_service"`
	// site name -> site entry; the name keys the session store
	Sites map[string]sites.Config `json:"sites"`

	MaxRetry       int `json:"max_retry"`
	RetryDelayMs   int `json:"retry_delay_ms"`
	MaxInFlight    int `json:"max_in_flight"`
	AccountDelayMs int `json:"account_delay_ms"`

	Smtp notify.SmtpConfig `json:"smtp"`
}

var rootCmd = &cobra.Command{
	Use:   "checkind",
	Short: "checkind logs into configured sites and performs their daily checkin for every account.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.json5", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config](configFile)
	if err != nil {
		osutil.Fatal("read config", err)
	}
	return cfg
}

func openStore(cfg Config) *sessionstore.Store {
	db, err := cfg.Database.OpenDB(sessionstore.Schema)
	if err != nil {
		osutil.Fatal("open session database", err)
	}
	return sessionstore.NewStore(db)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

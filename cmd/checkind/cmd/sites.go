package cmd

import (
	"os"
	"sort"

	"checkin-backend/lib/accounts"
	"checkin-backend/lib/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sitesCmd)
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Lists the configured sites and how many accounts each carries.",
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(debug)
		cfg := loadConfig()

		names := make([]string, 0, len(cfg.Sites))
		for name := range cfg.Sites {
			names = append(names, name)
		}
		sort.Strings(names)

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Site", "Kind", "Base URL", "Accounts"})
		for _, name := range names {
			siteCfg := cfg.Sites[name]
			t.AppendRow(table.Row{name, siteCfg.Kind, siteCfg.BaseUrl, len(accounts.Parse(siteCfg.Accounts))})
		}
		t.Render()
	},
}

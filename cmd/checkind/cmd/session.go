package cmd

import (
	"context"
	"fmt"

	"checkin-backend/lib/osutil"
	"checkin-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

func init() {
	sessionCmd.AddCommand(sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manages stored login sessions.",
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <site> <identity>",
	Short: "Discards a stored session so the next run performs a full login.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(debug)

		cfg := loadConfig()
		store := openStore(cfg)

		err := store.Delete(context.Background(), args[0], args[1])
		if err != nil {
			osutil.Fatal("clear session", err)
		}
		fmt.Printf("cleared session for %s on %s\n", args[1], args[0])
	},
}

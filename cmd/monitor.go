package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"mailroom/pkg/status"
	"mailroom/pkg/ui/monitor"
)

var (
	monitorRefresh time.Duration
	monitorLimit   int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch status records in a live terminal table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, closeStore, err := openStore(cmd, "cmd.monitor")
		if err != nil {
			return err
		}
		defer closeStore()

		backend, _ := status.ParseTarget(cfg.Status.Target)
		return monitor.Run(cmd.Context(), store.List, monitor.Options{
			Refresh: monitorRefresh,
			Limit:   monitorLimit,
			Source:  string(backend) + " · " + cfg.Mailbox.Root,
		})
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorRefresh, "refresh", time.Second, "refresh interval")
	monitorCmd.Flags().IntVar(&monitorLimit, "limit", 200, "maximum records to load")
	rootCmd.AddCommand(monitorCmd)
}

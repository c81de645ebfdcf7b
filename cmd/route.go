package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailroom/pkg/mailbox"
	"mailroom/pkg/router"
)

var routeCmd = &cobra.Command{
	Use:   "route <endpoint> [type]",
	Short: "Show which handler a message would be routed to",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		log, err := setupLogger(cfg, "cmd.route")
		if err != nil {
			return err
		}

		endpoint, msgType := args[0], ""
		if len(args) > 1 {
			msgType = args[1]
		}
		if !cfg.Mailbox.Has(endpoint) {
			return fmt.Errorf("%w: %q", mailbox.ErrUnknownEndpoint, endpoint)
		}

		rt, err := router.New(cfg.Routing, cfg.Mailbox, router.NewHandlers(), log)
		if err != nil {
			return err
		}

		ref, matched := rt.Resolve(endpoint, msgType)
		source := "route"
		if !matched {
			source = "default"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", ref, source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
}

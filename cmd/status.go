package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mailroom/pkg/config"
	"mailroom/pkg/status"
)

var (
	statusFilter string
	statusLimit  int
	statusYes    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect message processing status",
}

var statusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List status records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := status.Filter{Limit: statusLimit}
		if raw := strings.TrimSpace(statusFilter); raw != "" {
			state, err := status.ParseState(raw)
			if err != nil {
				return err
			}
			filter.Status = state
		}

		return withStore(cmd, func(store status.Store) error {
			records, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, time.Now())
		})
	},
}

var statusGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one status record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store status.Store) error {
			record, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(record)
		})
	},
}

var statusClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every status record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !statusYes {
			return errors.New("refusing to clear statuses without --yes")
		}

		return withStore(cmd, func(store status.Store) error {
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status records cleared")
			return nil
		})
	},
}

func init() {
	statusListCmd.Flags().StringVarP(&statusFilter, "status", "s", "", "only show records in this state (pending|processing|completed|failed)")
	statusListCmd.Flags().IntVarP(&statusLimit, "limit", "n", 50, "maximum records to show (0 for all)")
	statusClearCmd.Flags().BoolVar(&statusYes, "yes", false, "confirm deletion")

	statusCmd.AddCommand(statusListCmd, statusGetCmd, statusClearCmd)
	rootCmd.AddCommand(statusCmd)
}

// withStore opens the configured status store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(status.Store) error) error {
	store, _, closeStore, err := openStore(cmd, "cmd.status")
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(store)
}

func openStore(cmd *cobra.Command, component string) (status.Store, *config.Config, func(), error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := setupLogger(cfg, component)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := status.Open(cmd.Context(), cfg.Status.Target, log)
	if err != nil {
		return nil, nil, nil, err
	}

	return store, cfg, func() {
		if err := store.Close(); err != nil {
			log.Warn("Status store close failed", "error", err)
		}
	}, nil
}

func printRecords(out io.Writer, records []status.Record, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no status records")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tENDPOINT\tFILE\tCREATED\tNOTE")
	for _, record := range records {
		note := record.Summary
		if record.Status == status.Failed {
			note = record.Error
		}
		note, _, _ = strings.Cut(strings.TrimSpace(note), "\n")

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.ID,
			record.Status,
			record.Endpoint,
			record.Filename,
			humanize.RelTime(record.CreatedAt, now, "ago", "from now"),
			note,
		)
	}

	return tw.Flush()
}

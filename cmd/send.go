package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mailroom/pkg/message"
	"mailroom/pkg/writer"
)

var (
	sendMeta     []string
	sendID       string
	sendFilename string
)

var sendCmd = &cobra.Command{
	Use:   "send <endpoint> [body]",
	Short: "Write a message into an endpoint",
	Long:  "Writes a message file with generated metadata into an endpoint. The body is read from stdin when omitted.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		log, err := setupLogger(cfg, "cmd.send")
		if err != nil {
			return err
		}

		body, err := sendBody(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		extra, err := parseMeta(sendMeta)
		if err != nil {
			return err
		}
		if id := strings.TrimSpace(sendID); id != "" {
			extra[message.FieldID] = id
		}

		path, err := writer.New(cfg.Mailbox, writer.WithLogger(log)).Write(cmd.Context(), args[0], body, extra, sendFilename)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringArrayVarP(&sendMeta, "meta", "m", nil, "extra metadata as key=value; JSON values are decoded")
	sendCmd.Flags().StringVar(&sendID, "id", "", "message id (defaults to a generated UUID)")
	sendCmd.Flags().StringVar(&sendFilename, "filename", "", "file name (defaults to <id> plus the endpoint extension)")
	rootCmd.AddCommand(sendCmd)
}

func sendBody(stdin io.Reader, args []string) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}

	content, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read body from stdin: %w", err)
	}

	return strings.TrimRight(string(content), "\n"), nil
}

// parseMeta turns key=value pairs into metadata. Values that parse as JSON
// keep their JSON type so numbers and booleans survive the round trip.
func parseMeta(pairs []string) (message.Metadata, error) {
	metadata := message.Metadata{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", pair)
		}
		if err := message.ValidKey(key); err != nil {
			return nil, fmt.Errorf("invalid --meta %q: %w", pair, err)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		metadata[key] = value
	}

	return metadata, nil
}

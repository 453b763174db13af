package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emersion/go-mbox"
	"github.com/spf13/cobra"

	"github.com/shineum/mail-relay-webhook/internal/config"
)

var replayDryRun bool

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "print messages with the stdout transport instead of relaying them")
}

var replayCmd = &cobra.Command{
	Use:   "replay <mbox>",
	Short: "feed every message of an mbox file through the relay pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open mbox: %w", err)
		}
		defer f.Close()

		var overrides []func(*config.Config)
		if replayDryRun {
			overrides = append(overrides, func(c *config.Config) { c.Transport.Type = "stdout" })
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, overrides...)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := replay(ctx, f, a.pipeline, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		slog.Info("replay finished",
			"mbox", args[0],
			"total", summary.Total,
			"by_status", summary.ByStatus,
		)
		return nil
	},
}

// replaySummary counts processed messages by status.
type replaySummary struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// replay processes each message of the mbox in r in order and writes one
// JSON line per message to w. Unreadable messages are counted and skipped.
func replay(ctx context.Context, r io.Reader, p processor, w io.Writer) (replaySummary, error) {
	summary := replaySummary{ByStatus: map[string]int{}}
	reader := mbox.NewReader(r)
	enc := json.NewEncoder(w)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		msg, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("failed to read mbox: %w", err)
		}

		requestID := newRequestID()
		raw, err := io.ReadAll(msg)
		if err != nil {
			slog.Warn("could not read mbox message", "request_id", requestID, "error", err)
			summary.Total++
			summary.ByStatus["unreadable"]++
			continue
		}

		res := processOne(ctx, p, requestID, raw)
		summary.Total++
		summary.ByStatus[res.Status]++
		if err := enc.Encode(res); err != nil {
			return summary, err
		}
	}

	return summary, enc.Encode(summary)
}

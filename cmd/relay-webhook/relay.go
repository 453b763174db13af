package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shineum/mail-relay-webhook/internal/relay"
	"github.com/shineum/mail-relay-webhook/internal/scoring"
)

func init() {
	rootCmd.AddCommand(relayCmd)
}

var relayCmd = &cobra.Command{
	Use:   "relay [file]",
	Short: "relay one message read from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open message: %w", err)
			}
			defer f.Close()
			in = f
		}

		raw, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res := processOne(ctx, a.pipeline, newRequestID(), raw)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.Status != string(relay.StatusRelayed) {
			return fmt.Errorf("message not relayed: %s", res.Status)
		}
		return nil
	},
}

// processor is the part of relay.Pipeline the commands depend on.
type processor interface {
	Process(ctx context.Context, requestID string, raw []byte) (*relay.Outcome, error)
}

// result is the printed form of one processed message.
type result struct {
	RequestID  string          `json:"requestId"`
	Status     string          `json:"status"`
	EmailID    string          `json:"emailId,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	Validation *scoring.Result `json:"validation,omitempty"`
}

func processOne(ctx context.Context, p processor, requestID string, raw []byte) result {
	res := result{RequestID: requestID}

	out, err := p.Process(ctx, requestID, raw)
	if err != nil {
		res.Status = relay.KindOf(err).String()
		res.Error = err.Error()
		return res
	}

	res.Status = string(out.Status)
	res.EmailID = out.MessageID
	res.Reason = out.Reason
	res.Error = out.Diagnostic
	res.Validation = &out.Validation
	return res
}

func newRequestID() string {
	return uuid.NewString()[:8]
}

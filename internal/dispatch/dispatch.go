// Package dispatch hands relay envelopes to the outbound transport through a
// transient on-disk artifact.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shineum/mail-relay-webhook/internal/email"
	"github.com/shineum/mail-relay-webhook/internal/logging"
	"github.com/shineum/mail-relay-webhook/internal/provider"
	"github.com/shineum/mail-relay-webhook/internal/recipients"
)

// DiagnosticLimit bounds the transport output carried in errors and logs.
const DiagnosticLimit = 500

// DefaultTimeout is used when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures a Dispatcher.
type Options struct {
	Transport     provider.Transport
	TempDir       string
	RecipientList string
	Mode          string
	Timeout       time.Duration
}

// Dispatcher serializes envelopes, invokes the transport and always removes
// the artifact afterwards.
type Dispatcher struct {
	transport     provider.Transport
	tempDir       string
	recipientList string
	mode          string
	timeout       time.Duration
}

// Delivery describes a successful relay.
type Delivery struct {
	MessageID string
	Output    string
}

// TransportError reports that the transport ran and failed, or did not
// finish in time. Setup failures before the transport is invoked are
// returned as plain errors.
type TransportError struct {
	Reason     string
	Diagnostic string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Reason, e.Err, e.Diagnostic)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		transport:     opts.Transport,
		tempDir:       opts.TempDir,
		recipientList: opts.RecipientList,
		mode:          opts.Mode,
		timeout:       opts.Timeout,
	}
}

// ArtifactPath returns where the artifact for envelope id is written.
func ArtifactPath(tempDir, id string) string {
	return filepath.Join(tempDir, "relay_"+id+".eml")
}

// Dispatch relays env. A *TransportError means the transport failed; any
// other error means the relay could not be set up.
func (d *Dispatcher) Dispatch(ctx context.Context, env *email.RelayEnvelope) (*Delivery, error) {
	log := logging.FromContext(ctx)
	path := ArtifactPath(d.tempDir, env.ID)

	if err := writeArtifact(path, Serialize(env)); err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("could not clean up relay artifact",
				"path", path,
				"error", err,
			)
		}
	}()
	log.Info("relay artifact created",
		"path", path,
		"message_id", env.MessageID,
	)

	created, err := recipients.EnsureExists(d.recipientList)
	if err != nil {
		return nil, err
	}
	if created {
		log.Warn("recipient list not found, created placeholder",
			"email_list", d.recipientList,
		)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	res, err := d.transport.Send(sendCtx, path, d.mode)
	elapsed := time.Since(start)
	diagnostic := provider.Truncate(res.Diagnostic(), DiagnosticLimit)

	if err != nil {
		reason := "transport failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			reason = "transport timed out"
		}
		if diagnostic == "" {
			diagnostic = provider.Truncate(reason+": "+err.Error(), DiagnosticLimit)
		}
		log.Error("email relay failed",
			"transport", d.transport.Name(),
			"reason", reason,
			"error", err,
			"stdout", provider.Truncate(res.Stdout, DiagnosticLimit),
			"stderr", provider.Truncate(res.Stderr, DiagnosticLimit),
			"duration", elapsed,
		)
		return nil, &TransportError{Reason: reason, Diagnostic: diagnostic, Err: err}
	}

	output := provider.Truncate(res.Stdout, DiagnosticLimit)
	log.Info("email relayed successfully",
		"transport", d.transport.Name(),
		"message_id", env.MessageID,
		"stdout", output,
		"duration", elapsed,
	)
	return &Delivery{MessageID: env.MessageID, Output: output}, nil
}

// writeArtifact creates path exclusively so two requests can never share an
// artifact.
func writeArtifact(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create relay artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write relay artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close relay artifact: %w", err)
	}
	return nil
}

// Serialize renders env in the transport's wire format: newline-terminated
// header lines, a blank line, then the body.
func Serialize(env *email.RelayEnvelope) []byte {
	var b strings.Builder

	writeHeader(&b, "From", env.From)
	if env.ReplyTo != "" {
		writeHeader(&b, "Reply-To", env.ReplyTo)
	}
	writeHeader(&b, "Subject", env.Subject)
	writeHeader(&b, "Message-ID", env.MessageID)
	writeHeader(&b, "Date", env.Date)
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", env.ContentType)
	if env.HasContent {
		writeHeader(&b, "Content-Transfer-Encoding", "8bit")
	}
	b.WriteString("\n")
	b.WriteString(env.Body)

	return []byte(b.String())
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

// Package stdout implements a Transport that prints relay artifacts to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mail-relay-webhook/internal/provider"
)

const separator = "========================================\n"

// Provider prints relay artifacts in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the artifact framed by separator lines. It fails only when
// the artifact cannot be read.
func (p *Provider) Send(_ context.Context, artifactPath, mode string) (provider.Result, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return provider.Result{}, fmt.Errorf("failed to read relay artifact: %w", err)
	}

	var b strings.Builder
	b.WriteString(separator)
	b.WriteString(fmt.Sprintf("Mode: %s\n", mode))
	b.WriteString(fmt.Sprintf("Size: %s\n", formatSize(len(data))))
	b.WriteString(separator)
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString(separator)

	// A failed write to stdout does not fail the relay.
	_, _ = fmt.Fprint(p.writer, b.String())

	return provider.Result{Stdout: fmt.Sprintf("printed %s\n", artifactPath)}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

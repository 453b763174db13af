// Package provider defines the interface for outbound relay transports.
package provider

import (
	"context"
	"strings"
)

// Transport is the interface that outbound delivery backends must implement.
// A transport receives the path of a serialized relay message and a mode
// token, and reports success or failure together with its diagnostics. The
// pipeline treats it as a black box.
type Transport interface {
	// Send hands the artifact at artifactPath to the backend.
	// It returns an error if the relay did not succeed.
	Send(ctx context.Context, artifactPath, mode string) (Result, error)

	// Name returns the human-readable name of this transport.
	Name() string
}

// Result holds the textual diagnostics of one transport invocation.
type Result struct {
	Stdout string
	Stderr string
}

// Diagnostic joins stderr and stdout into one trimmed string, stderr first.
func (r Result) Diagnostic() string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(r.Stderr); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.Stdout); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

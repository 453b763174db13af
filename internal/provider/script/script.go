// Package script implements a Transport that runs an external bulk-send
// program for every relay.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/shineum/mail-relay-webhook/internal/provider"
)

// waitDelay bounds how long Send waits for output pipes after the process
// was killed on context expiry.
const waitDelay = 5 * time.Second

// Provider invokes `<path> <artifactPath> <mode>` and maps the exit status
// to the result.
type Provider struct {
	path string
	dir  string
}

// New creates a script Provider. dir is the working directory of the
// program; empty means the current directory.
func New(path, dir string) *Provider {
	return &Provider{path: path, dir: dir}
}

// Send runs the program and waits for it to exit. A non-zero exit status or
// an expired context is reported as an error; stdout and stderr are always
// returned.
func (p *Provider) Send(ctx context.Context, artifactPath, mode string) (provider.Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, p.path, artifactPath, mode)
	cmd.Dir = p.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res := provider.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("relay script interrupted: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("relay script exited with status %d: %w", exitErr.ExitCode(), err)
		}
		return res, fmt.Errorf("failed to run relay script: %w", err)
	}
	return res, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "script"
}

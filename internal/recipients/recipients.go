// Package recipients manages the line-delimited recipient list handed to the
// outbound transport.
package recipients

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Placeholder is written when the list does not exist yet.
const Placeholder = "# Add recipient email addresses here\n# example@domain.com\n"

// Exists reports whether the list file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureExists creates a placeholder list at path when none exists. It
// reports whether a placeholder was written. An existing list is never
// touched.
func EnsureExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat recipient list: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create recipient list directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Created concurrently by another request.
			return false, nil
		}
		return false, fmt.Errorf("failed to create recipient list: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(Placeholder); err != nil {
		return false, fmt.Errorf("failed to write recipient list placeholder: %w", err)
	}
	return true, nil
}

// Load reads the list, skipping blank lines and "#" comments. Entries are
// returned as written; they are not validated.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient list: %w", err)
	}
	defer f.Close()

	var list []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list = append(list, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipient list: %w", err)
	}
	return list, nil
}

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/dazzy/internal/defaults"
)

// runInit prepares a working directory with the bundled config and
// knowledge files. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Dazzy workspace in %s\n", dir)

	for _, sub := range []string{"data", filepath.Join("data", "pages")} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config may hold an API key.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	knowledgePath := filepath.Join(dir, "knowledge.yaml")
	if err := writeIfMissing(knowledgePath, defaults.KnowledgeYAML, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", knowledgePath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to add a completion API key and knowledge.yaml to teach Dazzy answers.")
	return nil
}

// writeIfMissing writes content to path only if nothing is there yet.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

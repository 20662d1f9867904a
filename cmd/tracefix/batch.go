package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"tracefix/internal/changes"
)

// loadBatch reads a change batch file, or stdin when path is "-".
func loadBatch(path string) (*changes.Batch, error) {
	if path != "-" {
		return changes.LoadBatch(path)
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	ext := ".yaml"
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		ext = ".json"
	}
	return changes.ParseBatch(data, ext)
}

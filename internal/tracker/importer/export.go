package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// Export encodes state in format. JSON and YAML hold the whole state in the
// persisted layout; JSONL holds one job per line.
func Export(state schema.State, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal state: %w", err)
		}
		return append(data, '\n'), nil

	case FormatJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, job := range state.Jobs.Jobs {
			if err := enc.Encode(job); err != nil {
				return nil, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
			}
		}
		return buf.Bytes(), nil

	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(state); err != nil {
			return nil, fmt.Errorf("failed to marshal state: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// WriteFile exports state to path, replacing it atomically.
func WriteFile(path string, state schema.State, format Format) error {
	data, err := Export(state, format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

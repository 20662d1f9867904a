// Package changes defines the FileChange record exchanged between the
// validator, impact analyzer and apply engine, plus diff helpers.
package changes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChangeType classifies a proposed edit.
type ChangeType string

const (
	PromptModification      ChangeType = "prompt_modification"
	EvalModification        ChangeType = "eval_modification"
	ConfigChange            ChangeType = "config_change"
	OrchestrationSuggestion ChangeType = "orchestration_suggestion"
)

// AllChangeTypes lists the accepted change types in display order.
var AllChangeTypes = []ChangeType{
	PromptModification,
	EvalModification,
	ConfigChange,
	OrchestrationSuggestion,
}

// ParseChangeType accepts both "config_change" and "config-change" spellings.
func ParseChangeType(s string) (ChangeType, error) {
	normalized := ChangeType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, ct := range AllChangeTypes {
		if ct == normalized {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown change type %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and YAML.
func (c *ChangeType) UnmarshalText(text []byte) error {
	ct, err := ParseChangeType(string(text))
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// FileChange is a single proposed edit. It is passed by value and never
// mutated after construction.
type FileChange struct {
	FilePath        string     `json:"file_path" yaml:"file_path"`
	OriginalContent string     `json:"original_content" yaml:"original_content"`
	NewContent      string     `json:"new_content" yaml:"new_content"`
	ChangeType      ChangeType `json:"change_type" yaml:"change_type"`
	Description     string     `json:"description" yaml:"description"`
}

// IsNewFile reports whether the change creates a file.
func (c FileChange) IsNewFile() bool {
	return c.OriginalContent == ""
}

// Paths returns the file paths of a batch in input order.
func Paths(batch []FileChange) []string {
	out := make([]string, 0, len(batch))
	for _, c := range batch {
		out = append(out, c.FilePath)
	}
	return out
}

// Batch is the on-disk shape accepted by the CLI: either a bare list of
// changes or an object with a commit message.
type Batch struct {
	Message string       `json:"message,omitempty" yaml:"message,omitempty"`
	Changes []FileChange `json:"changes" yaml:"changes"`
}

// LoadBatch reads a batch from a .json, .yaml or .yml file.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	batch, err := ParseBatch(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return batch, nil
}

// ParseBatch decodes a batch. ext selects the decoder; anything other than
// ".json" is treated as YAML.
func ParseBatch(data []byte, ext string) (*Batch, error) {
	var batch Batch
	trimmed := strings.TrimSpace(string(data))

	if strings.EqualFold(ext, ".json") {
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(data, &batch.Changes); err != nil {
				return nil, fmt.Errorf("decoding changes: %w", err)
			}
		} else if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decoding changes: %w", err)
		}
	} else {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("decoding changes: %w", err)
		}
		var err error
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Content[0].Decode(&batch.Changes)
		} else if len(node.Content) > 0 {
			err = node.Content[0].Decode(&batch)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding changes: %w", err)
		}
	}

	if len(batch.Changes) == 0 {
		return nil, fmt.Errorf("no changes found")
	}
	for i, c := range batch.Changes {
		if c.ChangeType == "" {
			return nil, fmt.Errorf("change %d (%s): missing change_type", i, c.FilePath)
		}
	}
	return &batch, nil
}

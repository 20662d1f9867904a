package changes

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseChangeType(t *testing.T) {
	tests := []struct {
		in      string
		want    ChangeType
		wantErr bool
	}{
		{"prompt_modification", PromptModification, false},
		{"prompt-modification", PromptModification, false},
		{"Config-Change", ConfigChange, false},
		{" eval_modification ", EvalModification, false},
		{"orchestration-suggestion", OrchestrationSuggestion, false},
		{"rewrite", "", true},
	}
	for _, tt := range tests {
		got, err := ParseChangeType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChangeType(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChangeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseBatch_YAMLList(t *testing.T) {
	data := []byte(`
- file_path: prompts/system.txt
  original_content: "old\n"
  new_content: "new\n"
  change_type: prompt-modification
  description: tighten instructions
`)
	batch, err := ParseBatch(data, ".yaml")
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(batch.Changes) != 1 {
		t.Fatalf("got %d changes", len(batch.Changes))
	}
	c := batch.Changes[0]
	if c.FilePath != "prompts/system.txt" || c.ChangeType != PromptModification || c.NewContent != "new\n" {
		t.Errorf("unexpected change: %+v", c)
	}
}

func TestParseBatch_JSONObject(t *testing.T) {
	data := []byte(`{"message": "fix retry", "changes": [
		{"file_path": "config.yaml", "new_content": "retries: 3\n", "change_type": "config_change"}
	]}`)
	batch, err := ParseBatch(data, ".json")
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if batch.Message != "fix retry" {
		t.Errorf("Message = %q", batch.Message)
	}
	if !batch.Changes[0].IsNewFile() {
		t.Error("change without original content should be new")
	}
}

func TestParseBatch_Errors(t *testing.T) {
	tests := map[string]struct {
		data string
		ext  string
	}{
		"empty list":   {"[]", ".json"},
		"bad type":     {`[{"file_path": "a.py", "change_type": "nope"}]`, ".json"},
		"missing type": {"- file_path: a.py\n  new_content: x\n", ".yml"},
		"bad yaml":     {"- [unclosed", ".yaml"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseBatch([]byte(tt.data), tt.ext); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.json")
	body := `[{"file_path": "a.py", "new_content": "x = 1\n", "change_type": "eval_modification"}]`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	batch, err := LoadBatch(path)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if got := Paths(batch.Changes); len(got) != 1 || got[0] != "a.py" {
		t.Errorf("Paths = %v", got)
	}
}

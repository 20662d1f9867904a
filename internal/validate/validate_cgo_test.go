//go:build cgo

package validate

import (
	"context"
	"strings"
	"testing"

	"tracefix/internal/changes"
)

const mainPy = `def hello_world():
    return "Hello"


def greet(name, punctuation):
    return name + punctuation
`

func TestValidate_PythonSyntaxError(t *testing.T) {
	v := newValidator(t, Options{})

	res := v.Validate(context.Background(), changes.FileChange{
		FilePath:   "broken.py",
		NewContent: "def f(:\n",
		ChangeType: changes.PromptModification,
	})
	if res.IsValid {
		t.Fatal("expected syntax error to invalidate the change")
	}
	if !hasMessage(res.Issues, "Syntax error") || !hasMessage(res.Issues, "line") {
		t.Errorf("Issues = %v, want syntax error with location", res.Issues)
	}
	if len(res.Breaking) != 0 {
		t.Errorf("breaking analysis should be skipped for unparsable source: %v", res.Breaking)
	}
}

func TestValidate_RemovedDefinitionWarns(t *testing.T) {
	v := newValidator(t, Options{})

	res := v.Validate(context.Background(), changes.FileChange{
		FilePath:        "main.py",
		OriginalContent: mainPy,
		NewContent:      "def greet(name, punctuation):\n    return name + punctuation\n",
		ChangeType:      changes.PromptModification,
	})
	if !res.IsValid {
		t.Fatalf("removal is a warning, not an issue: %v", res.Issues)
	}
	if !hasMessage(res.Warnings, "Removed definitions: hello_world") {
		t.Errorf("Warnings = %v, want removed hello_world", res.Warnings)
	}
	if len(res.Breaking) != 1 || res.Breaking[0].Kind != BreakingRemoved {
		t.Errorf("Breaking = %+v", res.Breaking)
	}
}

func TestValidate_SignatureChangeWarns(t *testing.T) {
	v := newValidator(t, Options{})

	res := v.Validate(context.Background(), changes.FileChange{
		FilePath:        "main.py",
		OriginalContent: mainPy,
		NewContent:      "def hello_world():\n    return \"Hello\"\n\n\ndef greet(name):\n    return name\n",
	})
	if !res.IsValid {
		t.Fatalf("unexpected issues: %v", res.Issues)
	}
	if !hasMessage(res.Warnings, "Signature changed: greet(name, punctuation) -> greet(name)") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestValidate_UnchangedDefinitionsNoWarnings(t *testing.T) {
	v := newValidator(t, Options{})

	res := v.Validate(context.Background(), changes.FileChange{
		FilePath:        "main.py",
		OriginalContent: mainPy,
		NewContent:      strings.Replace(mainPy, `"Hello"`, `"Hello, world"`, 1),
	})
	if !res.IsValid || len(res.Warnings) != 0 {
		t.Errorf("body-only edit should be clean: %+v", res)
	}
}

func TestValidate_LintWarnings(t *testing.T) {
	v := newValidator(t, Options{})

	src := `import os

x = 1
import json


def run():
    try:
        print(os.getcwd())
    except:
        pass
    try:
        json.dumps(x)
    except Exception:
        pass
`
	res := v.Validate(context.Background(), changes.FileChange{FilePath: "agent.py", NewContent: src})
	if !res.IsValid {
		t.Fatalf("lints must not block: %v", res.Issues)
	}

	for _, want := range []string{
		"Line 4: module-level import not at top of file",
		"debug call print()",
		"bare except clause",
		"overly broad exception handler: except Exception",
	} {
		if !hasMessage(res.Warnings, want) {
			t.Errorf("Warnings = %v, missing %q", res.Warnings, want)
		}
	}
}

func TestValidate_ComplexityWarning(t *testing.T) {
	v := newValidator(t, Options{ComplexityWarnThreshold: 2})

	src := `def route(a, b):
    if a:
        return 1
    elif b:
        return 2
    for i in range(3):
        if i and a:
            return i
    return 0
`
	res := v.Validate(context.Background(), changes.FileChange{FilePath: "router.py", NewContent: src})
	if !res.IsValid {
		t.Fatalf("complexity must not block: %v", res.Issues)
	}
	if !hasMessage(res.Warnings, "Function route at line 1 has cyclomatic complexity") {
		t.Errorf("Warnings = %v, want complexity warning", res.Warnings)
	}

	res = v.Validate(context.Background(), changes.FileChange{
		FilePath:        "router.py",
		OriginalContent: src,
		NewContent:      src,
	})
	if hasMessage(res.Warnings, "complexity") {
		t.Errorf("unchanged complexity should not warn: %v", res.Warnings)
	}
}

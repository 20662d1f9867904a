package syntax

import (
	"errors"
	"testing"
)

func TestLanguageFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Language
		ok   bool
	}{
		{"main.py", LangPython, true},
		{"stubs/mod.pyi", LangPython, true},
		{"MAIN.PY", LangPython, true},
		{"config.yaml", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		got, ok := LanguageFromPath(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LanguageFromPath(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSignatureSameParams(t *testing.T) {
	a := Signature{Name: "f", Params: []string{"x", "y"}}
	if !a.SameParams(Signature{Name: "f", Params: []string{"x", "y"}}) {
		t.Error("identical params should match")
	}
	if a.SameParams(Signature{Name: "f", Params: []string{"y", "x"}}) {
		t.Error("reordered params should not match")
	}
	if a.SameParams(Signature{Name: "f", Params: []string{"x"}}) {
		t.Error("shorter params should not match")
	}
}

func TestModuleRefString(t *testing.T) {
	if got := (ModuleRef{Module: "pkg.mod", Level: 2}).String(); got != "..pkg.mod" {
		t.Errorf("String() = %q", got)
	}
	if got := (ModuleRef{Level: 1}).String(); got != "." {
		t.Errorf("String() = %q", got)
	}
}

func TestParseErrorUnwrap(t *testing.T) {
	err := &ParseError{First: SyntaxError{Line: 3, Column: 7, Message: "unexpected \":\""}}
	if !errors.Is(err, ErrSyntax) {
		t.Error("ParseError should unwrap to ErrSyntax")
	}
	if got := err.Error(); got != `syntax error at line 3, column 7: unexpected ":"` {
		t.Errorf("Error() = %q", got)
	}
}

func TestForPath(t *testing.T) {
	a, ok := ForPath("pkg/mod.py")
	if !ok || a.Language() != LangPython {
		t.Fatalf("ForPath(py) = %v, %v", a, ok)
	}
	if _, ok := ForPath("README.md"); ok {
		t.Error("markdown should have no analyzer")
	}
}

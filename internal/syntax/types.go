// Package syntax extracts imports, top-level definitions, syntax errors and
// complexity from source files using tree-sitter.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Language identifies a source language with structural analysis support.
type Language string

const (
	LangPython Language = "python"
)

// LanguageFromExtension maps a file extension to a supported language.
func LanguageFromExtension(ext string) (Language, bool) {
	switch strings.ToLower(ext) {
	case ".py", ".pyi":
		return LangPython, true
	default:
		return "", false
	}
}

// LanguageFromPath maps a file path to a supported language.
func LanguageFromPath(path string) (Language, bool) {
	return LanguageFromExtension(filepath.Ext(path))
}

// ModuleRef is one import target named by a source file.
type ModuleRef struct {
	// Module is the dotted module path without leading dots.
	Module string `json:"module"`
	// Names lists the names imported by a from-import.
	Names []string `json:"names,omitempty"`
	// Level counts leading dots of a relative import; 0 is absolute.
	Level int `json:"level,omitempty"`
	Line  int `json:"line"`
}

// String renders the reference the way it appears in source.
func (m ModuleRef) String() string {
	return strings.Repeat(".", m.Level) + m.Module
}

// DefinitionKind distinguishes top-level functions from classes.
type DefinitionKind string

const (
	KindFunction DefinitionKind = "function"
	KindClass    DefinitionKind = "class"
)

// Signature is a top-level definition and its ordered parameter names.
type Signature struct {
	Name   string         `json:"name"`
	Kind   DefinitionKind `json:"kind"`
	Params []string       `json:"params"`
	Line   int            `json:"line"`
}

// SameParams reports whether two signatures have identical parameter lists.
func (s Signature) SameParams(other Signature) bool {
	if len(s.Params) != len(other.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != other.Params[i] {
			return false
		}
	}
	return true
}

// SyntaxError locates a parse failure. Line and Column are 1-based.
type SyntaxError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Lint rule identifiers.
const (
	RuleDebugCall      = "debug-call"
	RuleBroadExcept    = "broad-except"
	RuleImportNotAtTop = "import-not-at-top"
)

// Lint is a non-blocking finding.
type Lint struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CheckResult is the outcome of a structural check.
type CheckResult struct {
	Errors []SyntaxError `json:"errors"`
	Lints  []Lint        `json:"lints"`
}

// Valid reports whether the source parsed cleanly.
func (r *CheckResult) Valid() bool {
	return len(r.Errors) == 0
}

// FunctionComplexity is the cyclomatic complexity of one function.
type FunctionComplexity struct {
	Name       string `json:"name"`
	StartLine  int    `json:"startLine"`
	Cyclomatic int    `json:"cyclomatic"`
}

// ErrNoCGO is returned when structural analysis is unavailable because the
// binary was built without CGO (tree-sitter).
var ErrNoCGO = errors.New("structural analysis requires CGO (tree-sitter)")

// ErrSyntax is wrapped by extraction errors caused by unparsable source.
var ErrSyntax = errors.New("syntax error")

// ParseError reports the first syntax error that blocked extraction.
type ParseError struct {
	First SyntaxError
}

func (e *ParseError) Error() string {
	return "syntax error at " + e.First.Error()
}

func (e *ParseError) Unwrap() error {
	return ErrSyntax
}

// Analyzer is the per-language structural analysis capability.
type Analyzer interface {
	Language() Language
	Extensions() []string
	// Imports returns import targets in source order.
	Imports(ctx context.Context, src []byte) ([]ModuleRef, error)
	// Definitions returns top-level functions and classes in source order.
	Definitions(ctx context.Context, src []byte) ([]Signature, error)
	// Check reports syntax errors and lint findings. The error return is
	// reserved for analyzer failures, not syntax problems.
	Check(ctx context.Context, src []byte) (*CheckResult, error)
	// Complexity returns cyclomatic complexity for every function.
	Complexity(ctx context.Context, src []byte) ([]FunctionComplexity, error)
}

// For returns the analyzer registered for lang.
func For(lang Language) (Analyzer, bool) {
	switch lang {
	case LangPython:
		return NewPythonAnalyzer(), true
	default:
		return nil, false
	}
}

// ForPath returns the analyzer for a file path's extension.
func ForPath(path string) (Analyzer, bool) {
	lang, ok := LanguageFromPath(path)
	if !ok {
		return nil, false
	}
	return For(lang)
}

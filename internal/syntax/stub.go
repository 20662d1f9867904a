//go:build !cgo

package syntax

import "context"

// PythonAnalyzer is a stub for non-CGO builds.
type PythonAnalyzer struct{}

// NewPythonAnalyzer returns the stub analyzer.
func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{}
}

func (a *PythonAnalyzer) Language() Language {
	return LangPython
}

func (a *PythonAnalyzer) Extensions() []string {
	return []string{".py", ".pyi"}
}

func (a *PythonAnalyzer) Imports(ctx context.Context, src []byte) ([]ModuleRef, error) {
	return nil, ErrNoCGO
}

func (a *PythonAnalyzer) Definitions(ctx context.Context, src []byte) ([]Signature, error) {
	return nil, ErrNoCGO
}

func (a *PythonAnalyzer) Check(ctx context.Context, src []byte) (*CheckResult, error) {
	return nil, ErrNoCGO
}

func (a *PythonAnalyzer) Complexity(ctx context.Context, src []byte) ([]FunctionComplexity, error) {
	return nil, ErrNoCGO
}

// IsAvailable returns whether tree-sitter analysis is compiled in.
func IsAvailable() bool {
	return false
}

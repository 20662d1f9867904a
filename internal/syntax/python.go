//go:build cgo

package syntax

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonAnalyzer implements Analyzer for Python with tree-sitter-python.
type PythonAnalyzer struct{}

// NewPythonAnalyzer creates a Python analyzer. Each call parses with its
// own tree-sitter parser, so the analyzer is safe for concurrent use.
func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{}
}

func (a *PythonAnalyzer) Language() Language {
	return LangPython
}

func (a *PythonAnalyzer) Extensions() []string {
	return []string{".py", ".pyi"}
}

// IsAvailable returns whether tree-sitter analysis is compiled in.
func IsAvailable() bool {
	return true
}

func (a *PythonAnalyzer) parse(ctx context.Context, src []byte) (*sitter.Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return tree.RootNode(), nil
}

// parseStrict parses and fails with *ParseError if the tree has errors.
func (a *PythonAnalyzer) parseStrict(ctx context.Context, src []byte) (*sitter.Node, error) {
	root, err := a.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	if root.HasError() {
		errs := collectSyntaxErrors(root, src, 1)
		first := SyntaxError{Line: 1, Column: 1, Message: "invalid syntax"}
		if len(errs) > 0 {
			first = errs[0]
		}
		return nil, &ParseError{First: first}
	}
	return root, nil
}

// Imports walks the whole tree so imports nested in functions or
// try/except blocks are included.
func (a *PythonAnalyzer) Imports(ctx context.Context, src []byte) ([]ModuleRef, error) {
	root, err := a.parseStrict(ctx, src)
	if err != nil {
		return nil, err
	}

	refs := make([]ModuleRef, 0)
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			refs = append(refs, importStatement(node, src)...)
			return
		case "import_from_statement":
			if ref, ok := importFromStatement(node, src); ok {
				refs = append(refs, ref)
			}
			return
		case "future_import_statement":
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
	return refs, nil
}

// importStatement handles `import a.b, c as d`.
func importStatement(node *sitter.Node, src []byte) []ModuleRef {
	var refs []ModuleRef
	line := int(node.StartPoint().Row) + 1
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			refs = append(refs, ModuleRef{Module: text(child, src), Line: line})
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				refs = append(refs, ModuleRef{Module: text(name, src), Line: line})
			}
		}
	}
	return refs
}

// importFromStatement handles `from a.b import c`, `from . import x` and
// `from ..pkg import y as z`.
func importFromStatement(node *sitter.Node, src []byte) (ModuleRef, bool) {
	ref := ModuleRef{Line: int(node.StartPoint().Row) + 1, Names: []string{}}
	sawModule := false
	sawImport := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			sawModule = true
			for j := 0; j < int(child.ChildCount()); j++ {
				part := child.Child(j)
				switch part.Type() {
				case "import_prefix":
					ref.Level = strings.Count(text(part, src), ".")
				case "dotted_name":
					ref.Module = text(part, src)
				}
			}
		case "dotted_name":
			if !sawImport {
				sawModule = true
				ref.Module = text(child, src)
			} else {
				ref.Names = append(ref.Names, text(child, src))
			}
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				ref.Names = append(ref.Names, text(name, src))
			}
		case "wildcard_import":
			ref.Names = append(ref.Names, "*")
		}
	}
	return ref, sawModule
}

// Definitions returns top-level def, async def and class statements,
// unwrapping decorators.
func (a *PythonAnalyzer) Definitions(ctx context.Context, src []byte) ([]Signature, error) {
	root, err := a.parseStrict(ctx, src)
	if err != nil {
		return nil, err
	}

	defs := make([]Signature, 0)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node.Type() == "decorated_definition" {
			def := node.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			if sig, ok := definition(def, src); ok {
				// Report the decorator line, where the statement starts.
				sig.Line = int(node.StartPoint().Row) + 1
				defs = append(defs, sig)
			}
			continue
		}
		if sig, ok := definition(node, src); ok {
			defs = append(defs, sig)
		}
	}
	return defs, nil
}

func definition(node *sitter.Node, src []byte) (Signature, bool) {
	name := node.ChildByFieldName("name")
	if name == nil {
		return Signature{}, false
	}
	sig := Signature{Name: text(name, src), Line: int(node.StartPoint().Row) + 1, Params: []string{}}

	switch node.Type() {
	case "function_definition":
		sig.Kind = KindFunction
		if params := node.ChildByFieldName("parameters"); params != nil {
			sig.Params = paramNames(params, src)
		}
	case "class_definition":
		sig.Kind = KindClass
	default:
		return Signature{}, false
	}
	return sig, true
}

// paramNames returns parameter names in order. Splats keep their stars and
// the bare `*` and `/` separators are kept as-is.
func paramNames(params *sitter.Node, src []byte) []string {
	names := make([]string, 0, params.NamedChildCount())
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "comment":
			continue
		case "default_parameter", "typed_default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				names = append(names, text(n, src))
			}
		case "typed_parameter":
			if p.NamedChildCount() > 0 {
				names = append(names, text(p.NamedChild(0), src))
			}
		default:
			// identifier, list_splat_pattern, dictionary_splat_pattern,
			// keyword_separator, positional_separator
			names = append(names, text(p, src))
		}
	}
	return names
}

var debugCalls = map[string]bool{
	"print":          true,
	"breakpoint":     true,
	"pdb.set_trace":  true,
	"ipdb.set_trace": true,
	"pprint.pprint":  true,
}

// Check parses src and reports syntax errors plus lint findings. Lints are
// only computed for sources that parse.
func (a *PythonAnalyzer) Check(ctx context.Context, src []byte) (*CheckResult, error) {
	root, err := a.parse(ctx, src)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Errors: []SyntaxError{}, Lints: []Lint{}}
	if root.HasError() {
		result.Errors = collectSyntaxErrors(root, src, maxSyntaxErrors)
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, SyntaxError{Line: 1, Column: 1, Message: "invalid syntax"})
		}
		return result, nil
	}

	result.Lints = append(result.Lints, lateImports(root)...)

	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "call":
			if fn := node.ChildByFieldName("function"); fn != nil {
				name := text(fn, src)
				if debugCalls[name] {
					result.Lints = append(result.Lints, Lint{
						Rule:    RuleDebugCall,
						Line:    int(node.StartPoint().Row) + 1,
						Message: fmt.Sprintf("debug call %s()", name),
					})
				}
			}
		case "except_clause":
			if caught, broad := broadExcept(node, src); broad {
				msg := "bare except clause"
				if caught != "" {
					msg = "overly broad exception handler: except " + caught
				}
				result.Lints = append(result.Lints, Lint{
					Rule:    RuleBroadExcept,
					Line:    int(node.StartPoint().Row) + 1,
					Message: msg,
				})
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)

	return result, nil
}

// broadExcept reports whether an except clause catches everything. caught
// is empty for a bare `except:`.
func broadExcept(node *sitter.Node, src []byte) (string, bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "block", "comment":
			continue
		case "as_pattern":
			if child.NamedChildCount() == 0 {
				return "", false
			}
			child = child.NamedChild(0)
		}
		caught := text(child, src)
		return caught, caught == "Exception" || caught == "BaseException"
	}
	return "", true
}

// lateImports flags module-level imports that follow other statements. A
// leading docstring, comments and __future__ imports do not count.
func lateImports(root *sitter.Node) []Lint {
	lints := []Lint{}
	seenStmt := false
	seenCode := false
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "comment":
			continue
		case "future_import_statement":
		case "import_statement", "import_from_statement":
			if seenCode {
				lints = append(lints, Lint{
					Rule:    RuleImportNotAtTop,
					Line:    int(stmt.StartPoint().Row) + 1,
					Message: "module-level import not at top of file",
				})
			}
		case "expression_statement":
			isDocstring := stmt.NamedChildCount() == 1 && stmt.NamedChild(0).Type() == "string"
			if !isDocstring || seenStmt {
				seenCode = true
			}
		default:
			seenCode = true
		}
		seenStmt = true
	}
	return lints
}

const maxSyntaxErrors = 20

// collectSyntaxErrors gathers ERROR and MISSING nodes in document order.
func collectSyntaxErrors(root *sitter.Node, src []byte, limit int) []SyntaxError {
	errs := []SyntaxError{}
	var walk func(*sitter.Node, int)
	walk = func(node *sitter.Node, depth int) {
		if depth > 1000 || len(errs) >= limit {
			return
		}
		if node.IsError() || node.IsMissing() {
			p := node.StartPoint()
			msg := "invalid syntax"
			if node.IsMissing() {
				msg = fmt.Sprintf("missing %q", node.Type())
			} else if t := strings.TrimSpace(text(node, src)); t != "" {
				msg = fmt.Sprintf("unexpected %q", truncate(firstLine(t), 40))
			}
			errs = append(errs, SyntaxError{Line: int(p.Row) + 1, Column: int(p.Column) + 1, Message: msg})
			// Children of an ERROR node repeat the same failure.
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i), depth+1)
		}
	}
	walk(root, 0)
	return errs
}

var pythonDecisionTypes = map[string]bool{
	"if_statement":             true,
	"elif_clause":              true,
	"for_statement":            true,
	"while_statement":          true,
	"except_clause":            true,
	"with_statement":           true,
	"boolean_operator":         true,
	"conditional_expression":   true,
	"list_comprehension":       true,
	"dictionary_comprehension": true,
	"set_comprehension":        true,
	"generator_expression":     true,
	"case_clause":              true,
}

// Complexity computes cyclomatic complexity (decision points + 1) for every
// function in the file, nested ones included.
func (a *PythonAnalyzer) Complexity(ctx context.Context, src []byte) ([]FunctionComplexity, error) {
	root, err := a.parseStrict(ctx, src)
	if err != nil {
		return nil, err
	}

	out := make([]FunctionComplexity, 0)
	for _, fn := range findNodes(root, "function_definition") {
		name := "<unknown>"
		if n := fn.ChildByFieldName("name"); n != nil {
			name = text(n, src)
		}
		complexity := 1
		for _, dn := range findNodes(fn, "") {
			if pythonDecisionTypes[dn.Type()] {
				complexity++
			}
		}
		out = append(out, FunctionComplexity{
			Name:       name,
			StartLine:  int(fn.StartPoint().Row) + 1,
			Cyclomatic: complexity,
		})
	}
	return out, nil
}

// findNodes returns all descendants of root (root included) with the given
// type, or every node when nodeType is empty.
func findNodes(root *sitter.Node, nodeType string) []*sitter.Node {
	var result []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if nodeType == "" || node.Type() == nodeType {
			result = append(result, node)
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
	return result
}

func text(node *sitter.Node, src []byte) string {
	end := node.EndByte()
	if end > uint32(len(src)) {
		end = uint32(len(src))
	}
	return string(src[node.StartByte():end])
}

package related

import (
	"os"
	"path"
	"strings"

	"tracefix/internal/paths"
	"tracefix/internal/syntax"
)

// sourceExt is the on-disk extension import targets resolve to.
const sourceExt = ".py"

// importBases returns the directories an import is resolved against.
// importer is the slash path of the importing file.
func importBases(importer string, ref syntax.ModuleRef) []string {
	if ref.Level > 0 {
		base := path.Dir(importer)
		for i := 1; i < ref.Level; i++ {
			if base == "." {
				return nil
			}
			base = path.Dir(base)
		}
		return []string{base}
	}

	// Package-root imports, plus sibling imports of a script run from its
	// own directory
	bases := []string{"."}
	if dir := path.Dir(importer); dir != "." {
		bases = append(bases, dir)
	}
	return bases
}

// resolveRef returns the on-disk files one import statement names: the
// module itself and any submodules named by a from-import.
func resolveRef(root, importer string, ref syntax.ModuleRef) []string {
	bases := importBases(importer, ref)
	if len(bases) == 0 {
		return nil
	}
	modPath := strings.ReplaceAll(ref.Module, ".", "/")

	var out []string
	for _, name := range ref.Names {
		if name == "*" {
			continue
		}
		if p, ok := firstExisting(root, bases, path.Join(modPath, name)); ok {
			out = append(out, p)
		}
	}

	if modPath != "" {
		if p, ok := firstExisting(root, bases, modPath); ok {
			out = append(out, p)
		}
	} else if len(out) == 0 {
		// "from . import name" where name is not a submodule binds the
		// package itself
		for _, base := range bases {
			if base == "." {
				continue
			}
			if init := path.Join(base, "__init__"+sourceExt); isFile(root, init) {
				out = append(out, init)
				break
			}
		}
	}
	return out
}

// firstExisting tries mod as <mod>.py then <mod>/__init__.py under each
// base in order.
func firstExisting(root string, bases []string, mod string) (string, bool) {
	for _, base := range bases {
		p := path.Join(base, mod)
		for _, c := range []string{p + sourceExt, path.Join(p, "__init__"+sourceExt)} {
			if isFile(root, c) {
				return c, true
			}
		}
	}
	return "", false
}

func isFile(root, rel string) bool {
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}
	info, err := os.Stat(paths.JoinRepoPath(root, rel))
	return err == nil && info.Mode().IsRegular()
}

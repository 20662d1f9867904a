package codebase

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
)

// AnyVersion is recorded for dependencies without a version constraint.
const AnyVersion = "*"

// pyproject holds the parts of pyproject.toml that declare dependencies
type pyproject struct {
	Project struct {
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies    map[string]interface{} `toml:"dependencies"`
			DevDependencies map[string]interface{} `toml:"dev-dependencies"`
			Group           map[string]struct {
				Dependencies map[string]interface{} `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// ManifestError records a dependency manifest that could not be read.
type ManifestError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// LoadDependencies merges dependencies declared in requirements*.txt,
// pyproject.toml, package.json and go.mod at the repository root. Unreadable
// manifests are reported, not fatal. Later manifests do not override
// earlier entries.
func LoadDependencies(root string) (map[string]string, []ManifestError) {
	deps := make(map[string]string)
	var problems []ManifestError

	merge := func(src map[string]string) {
		for name, ver := range src {
			if _, exists := deps[name]; !exists {
				deps[name] = ver
			}
		}
	}

	reqFiles, _ := filepath.Glob(filepath.Join(root, "requirements*.txt"))
	sort.Strings(reqFiles)
	for _, f := range reqFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			problems = append(problems, ManifestError{Path: filepath.Base(f), Err: err.Error()})
			continue
		}
		merge(ParseRequirements(data))
	}

	parsers := []struct {
		name  string
		parse func([]byte) (map[string]string, error)
	}{
		{"pyproject.toml", ParsePyproject},
		{"package.json", ParsePackageJSON},
		{"go.mod", ParseGoMod},
	}
	for _, p := range parsers {
		data, err := os.ReadFile(filepath.Join(root, p.name))
		if err != nil {
			if !os.IsNotExist(err) {
				problems = append(problems, ManifestError{Path: p.name, Err: err.Error()})
			}
			continue
		}
		parsed, err := p.parse(data)
		if err != nil {
			problems = append(problems, ManifestError{Path: p.name, Err: err.Error()})
			continue
		}
		merge(parsed)
	}

	return deps, problems
}

// ParseRequirements reads a pip requirements file. Options, includes and
// comments are ignored.
func ParseRequirements(data []byte) map[string]string {
	deps := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if name, ver, ok := ParseRequirement(line); ok {
			deps[name] = ver
		}
	}
	return deps
}

// ParseRequirement splits a PEP 508 requirement into name and constraint.
// Extras and environment markers are dropped.
func ParseRequirement(req string) (name, constraint string, ok bool) {
	if i := strings.IndexByte(req, ';'); i >= 0 {
		req = req[:i]
	}
	req = strings.TrimSpace(req)

	end := 0
	for end < len(req) && isNameByte(req[end]) {
		end++
	}
	if end == 0 {
		return "", "", false
	}
	name = req[:end]
	rest := strings.TrimSpace(req[end:])

	if strings.HasPrefix(rest, "[") {
		if close := strings.IndexByte(rest, ']'); close >= 0 {
			rest = strings.TrimSpace(rest[close+1:])
		}
	}
	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")"))
	if rest == "" {
		rest = AnyVersion
	}
	return name, rest, true
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.'
}

// ParsePyproject reads PEP 621 and Poetry dependency tables.
func ParsePyproject(data []byte) (map[string]string, error) {
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pyproject.toml: %w", err)
	}

	deps := make(map[string]string)
	add := func(reqs []string) {
		for _, r := range reqs {
			if name, ver, ok := ParseRequirement(r); ok {
				deps[name] = ver
			}
		}
	}
	add(doc.Project.Dependencies)
	for _, group := range sortedKeys(doc.Project.OptionalDependencies) {
		add(doc.Project.OptionalDependencies[group])
	}

	poetry := doc.Tool.Poetry
	addPoetry := func(table map[string]interface{}) {
		for name, spec := range table {
			if strings.EqualFold(name, "python") {
				continue
			}
			if _, exists := deps[name]; !exists {
				deps[name] = poetryVersion(spec)
			}
		}
	}
	addPoetry(poetry.Dependencies)
	addPoetry(poetry.DevDependencies)
	for _, g := range poetry.Group {
		addPoetry(g.Dependencies)
	}
	return deps, nil
}

// poetryVersion renders a Poetry dependency value: a version string or a
// table with a version key.
func poetryVersion(spec interface{}) string {
	switch v := spec.(type) {
	case string:
		if v == "" {
			return AnyVersion
		}
		return v
	case map[string]interface{}:
		if ver, ok := v["version"].(string); ok && ver != "" {
			return ver
		}
		if _, ok := v["git"]; ok {
			return "git"
		}
		if _, ok := v["path"]; ok {
			return "path"
		}
	}
	return AnyVersion
}

// ParsePackageJSON reads dependencies and devDependencies.
func ParsePackageJSON(data []byte) (map[string]string, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}
	deps := make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for name, ver := range pkg.Dependencies {
		deps[name] = ver
	}
	for name, ver := range pkg.DevDependencies {
		if _, exists := deps[name]; !exists {
			deps[name] = ver
		}
	}
	return deps, nil
}

// ParseGoMod returns the direct requirements of a go.mod file.
func ParseGoMod(data []byte) (map[string]string, error) {
	f, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing go.mod: %w", err)
	}
	deps := make(map[string]string, len(f.Require))
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		deps[req.Mod.Path] = req.Mod.Version
	}
	return deps, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package codebase

import (
	"path"
	"sort"
	"strings"
)

// LangUnknown is reported when no source file is recognised.
const LangUnknown = "unknown"

var extLanguages = map[string]string{
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".go":    "go",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
}

var configExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".ini":  true,
	".cfg":  true,
	".conf": true,
	".env":  true,
}

// Lock files and generated manifests are not configuration.
var notConfig = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"poetry.lock":       true,
	"Pipfile.lock":      true,
	"composer.lock":     true,
}

// LanguageOf maps a path to a language name by extension.
func LanguageOf(p string) (string, bool) {
	lang, ok := extLanguages[strings.ToLower(path.Ext(p))]
	return lang, ok
}

// DetectLanguage returns the language with the most files and the per
// language counts. Ties resolve alphabetically.
func DetectLanguage(files []string) (string, map[string]int) {
	counts := make(map[string]int)
	for _, f := range files {
		if lang, ok := LanguageOf(f); ok {
			counts[lang]++
		}
	}
	if len(counts) == 0 {
		return LangUnknown, counts
	}

	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs[0], counts
}

// LooksConfigRelated reports whether a path names configuration by
// substring ("config" or "settings").
func LooksConfigRelated(p string) bool {
	lower := strings.ToLower(p)
	return strings.Contains(lower, "config") || strings.Contains(lower, "settings")
}

// IsConfigFile reports whether a path is a configuration file: a structured
// config format, a dotenv file, or a file whose name looks config related.
func IsConfigFile(p string) bool {
	base := path.Base(p)
	if notConfig[base] {
		return false
	}
	if strings.HasPrefix(base, ".env") {
		return true
	}
	if configExtensions[strings.ToLower(path.Ext(base))] {
		return true
	}
	return LooksConfigRelated(base)
}

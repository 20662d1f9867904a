package codebase

import "strings"

// knownFrameworks is checked in order; the first match wins. Each entry
// lists normalised distribution or module names.
var knownFrameworks = []struct {
	name     string
	packages []string
}{
	{"langgraph", []string{"langgraph"}},
	{"langchain", []string{"langchain"}},
	{"llama_index", []string{"llama_index"}},
	{"crewai", []string{"crewai"}},
	{"autogen", []string{"autogen", "pyautogen", "autogen_agentchat"}},
	{"dspy", []string{"dspy", "dspy_ai"}},
	{"haystack", []string{"haystack", "haystack_ai", "farm_haystack"}},
	{"semantic_kernel", []string{"semantic_kernel"}},
	{"openai", []string{"openai"}},
	{"anthropic", []string{"anthropic"}},
}

// normalizePackage lowercases and maps '-' and '.' to '_'.
func normalizePackage(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToLower(strings.TrimSpace(name)))
}

func matchesPackage(name, pkg string) bool {
	return name == pkg || strings.HasPrefix(name, pkg+"_")
}

// DetectFramework picks a framework from dependency names first, then from
// top-level imported modules. It returns "" when nothing matches.
func DetectFramework(deps map[string]string, importedModules []string) string {
	names := make([]string, 0, len(deps))
	for d := range deps {
		names = append(names, normalizePackage(d))
	}
	if fw := firstFramework(names); fw != "" {
		return fw
	}

	mods := make([]string, 0, len(importedModules))
	for _, m := range importedModules {
		top, _, _ := strings.Cut(m, ".")
		mods = append(mods, normalizePackage(top))
	}
	return firstFramework(mods)
}

func firstFramework(names []string) string {
	for _, fw := range knownFrameworks {
		for _, pkg := range fw.packages {
			for _, n := range names {
				if matchesPackage(n, pkg) {
					return fw.name
				}
			}
		}
	}
	return ""
}

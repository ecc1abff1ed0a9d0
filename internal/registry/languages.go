// Package registry holds the compiled-in table of known languages: their
// file extensions, default LSP server command, and default timeouts. The
// tool dispatcher uses it to pick a target language from a file path; the
// client manager uses it to seed defaults for languages missing an
// explicit [server.<language-id>] block in configuration.
package registry

import (
	"sort"
	"time"
)

// LanguageInfo describes one language the gateway knows about out of the
// box. A language can still be used if it is absent here, as long as the
// configuration file supplies an explicit server block.
type LanguageInfo struct {
	ID                string
	Extensions        []string
	Filenames         []string // exact filename matches, e.g. "BUILD.bazel"
	DefaultCommand    string
	DefaultArgs       []string
	InitializeTimeout time.Duration
	RequestTimeout    time.Duration
}

var languages = map[string]LanguageInfo{
	"go": {
		ID:                "go",
		Extensions:        []string{".go"},
		DefaultCommand:    "gopls",
		DefaultArgs:       []string{"serve"},
		InitializeTimeout: 15 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
	"python": {
		ID:                "python",
		Extensions:        []string{".py", ".pyi"},
		DefaultCommand:    "pyright-langserver",
		DefaultArgs:       []string{"--stdio"},
		InitializeTimeout: 20 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
	"rust": {
		ID:                "rust",
		Extensions:        []string{".rs"},
		DefaultCommand:    "rust-analyzer",
		DefaultArgs:       []string{},
		InitializeTimeout: 30 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
	"typescript": {
		ID:                "typescript",
		Extensions:        []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"},
		DefaultCommand:    "typescript-language-server",
		DefaultArgs:       []string{"--stdio"},
		InitializeTimeout: 20 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
	"java": {
		ID:                "java",
		Extensions:        []string{".java"},
		DefaultCommand:    "jdtls",
		DefaultArgs:       []string{},
		InitializeTimeout: 45 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
	"c": {
		ID:                "c",
		Extensions:        []string{".c", ".h"},
		DefaultCommand:    "clangd",
		DefaultArgs:       []string{},
		InitializeTimeout: 15 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
	"cpp": {
		ID:                "cpp",
		Extensions:        []string{".cc", ".cpp", ".cxx", ".hpp", ".hh"},
		DefaultCommand:    "clangd",
		DefaultArgs:       []string{},
		InitializeTimeout: 15 * time.Second,
		RequestTimeout:    30 * time.Second,
	},
}

// ByID returns the compiled-in entry for language, if any.
func ByID(id string) (LanguageInfo, bool) {
	info, ok := languages[id]
	return info, ok
}

// All returns every compiled-in language, sorted by ID for deterministic
// iteration (used by eager_start and doctor).
func All() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(languages))
	for _, info := range languages {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DetectByExtension returns the language ID whose Extensions list contains
// ext (a lowercase, dot-prefixed extension such as ".go"), or "" if none
// matches.
func DetectByExtension(ext string) string {
	for id, info := range languages {
		for _, e := range info.Extensions {
			if e == ext {
				return id
			}
		}
	}
	return ""
}

// DetectByFilename returns the language ID whose Filenames list contains
// name exactly, or "" if none matches.
func DetectByFilename(name string) string {
	for id, info := range languages {
		for _, f := range info.Filenames {
			if f == name {
				return id
			}
		}
	}
	return ""
}

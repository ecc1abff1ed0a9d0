package dispatcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// defaultIgnorePatterns mirrors the conventions most gitignore-aware tools
// bake in even before reading a project's own .gitignore: VCS metadata,
// dependency caches, and build output directories.
var defaultIgnorePatterns = []string{
	".git/**", "**/.git/**",
	"node_modules/**", "**/node_modules/**",
	"target/**", "**/target/**",
	"vendor/**", "**/vendor/**",
	"__pycache__/**", "**/__pycache__/**",
	".venv/**", "**/.venv/**",
	"dist/**", "**/dist/**",
	"build/**", "**/build/**",
}

// ignoreSet compiles gitignore-style glob patterns once so repeated walks
// don't recompile them per file.
type ignoreSet struct {
	globs []glob.Glob
}

func newIgnoreSet(root string) *ignoreSet {
	patterns := append([]string(nil), defaultIgnorePatterns...)
	patterns = append(patterns, readGitignore(root)...)

	is := &ignoreSet{}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		is.globs = append(is.globs, g)
	}
	return is
}

func readGitignore(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pattern := strings.TrimPrefix(line, "/")
		if !strings.Contains(pattern, "/") {
			pattern = "**/" + pattern
		}
		if strings.HasSuffix(pattern, "/") {
			pattern += "**"
		} else {
			pattern += "/**"
		}
		patterns = append(patterns, pattern, strings.TrimSuffix(pattern, "/**"))
	}
	return patterns
}

func (is *ignoreSet) matches(relPath string) bool {
	if strings.HasPrefix(filepath.Base(relPath), ".") {
		return true
	}
	for _, g := range is.globs {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}

// walkFile is one non-ignored, symlink-resolved file found under a
// workspace root during a filesystem walk.
type walkFile struct {
	AbsolutePath string
	RelativePath string
}

// walkWorkspace walks root, skipping ignored paths per .gitignore-style
// conventions. Symlinks are resolved and the resulting path re-validated
// against roots; entries that escape are skipped per §4.6.
func (d *Dispatcher) walkWorkspace(root string, visit func(walkFile) error) error {
	is := newIgnoreSet(root)

	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		if is.matches(rel) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if _, err := d.validator.ValidateRead(resolved); err != nil {
			return nil // symlink escapes every workspace root; skip per §4.6
		}

		return visit(walkFile{AbsolutePath: resolved, RelativePath: rel})
	})
}

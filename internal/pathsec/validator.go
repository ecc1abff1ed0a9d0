// Package pathsec implements §4.3: canonicalize and validate every path
// that reaches the filesystem from an external source (tool arguments, LSP
// response URIs, hook JSON) against the configured workspace roots, and
// protect known Catenary configuration files from writes.
package pathsec

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
)

// Validator holds the current set of canonical workspace roots and the set
// of protected configuration file paths, both mutable at runtime (roots
// change as the client manager adds/removes them; config paths are fixed
// at startup).
type Validator struct {
	mu             sync.RWMutex
	roots          []string // canonical, absolute, no trailing separator
	protectedFiles map[string]struct{}
}

// New builds a Validator from an initial set of workspace roots (which
// must already exist as directories) and the set of Catenary configuration
// file paths to protect from writes.
func New(roots []string, protectedFiles []string) (*Validator, error) {
	v := &Validator{protectedFiles: map[string]struct{}{}}
	canon, err := canonicalizeRoots(roots)
	if err != nil {
		return nil, err
	}
	v.roots = canon
	for _, p := range protectedFiles {
		if canonical, err := canonicalizeExisting(p); err == nil {
			v.protectedFiles[canonical] = struct{}{}
		} else {
			// A config file that doesn't exist yet still can't be written to
			// under a different resolved name; protect the literal path too.
			v.protectedFiles[p] = struct{}{}
		}
	}
	return v, nil
}

func canonicalizeRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		c, err := canonicalizeExisting(r)
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimRight(c, string(filepath.Separator)))
	}
	return out, nil
}

func canonicalizeExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Roots returns a snapshot of the current canonical workspace roots.
func (v *Validator) Roots() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}

// AddRoot canonicalizes and appends a new workspace root.
func (v *Validator) AddRoot(path string) (string, error) {
	canonical, err := canonicalizeExisting(path)
	if err != nil {
		return "", err
	}
	canonical = strings.TrimRight(canonical, string(filepath.Separator))
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.roots {
		if r == canonical {
			return canonical, nil
		}
	}
	v.roots = append(v.roots, canonical)
	return canonical, nil
}

// RemoveRoot drops a previously-added root. It is a no-op if the root
// isn't currently present.
func (v *Validator) RemoveRoot(path string) (string, error) {
	canonical, err := canonicalizeExisting(path)
	if err != nil {
		canonical = path
	}
	canonical = strings.TrimRight(canonical, string(filepath.Separator))
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.roots[:0:0]
	for _, r := range v.roots {
		if r != canonical {
			kept = append(kept, r)
		}
	}
	v.roots = kept
	return canonical, nil
}

// resolve canonicalizes path, tolerating a not-yet-existing leaf (needed
// for write validation, where the file being created doesn't exist yet):
// it canonicalizes the longest existing prefix and rejoins the remainder.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if canonical, err := filepath.EvalSymlinks(abs); err == nil {
		return canonical, nil
	}

	// Walk up until we find an existing ancestor, canonicalize that, then
	// rejoin the non-existent suffix untouched.
	dir := filepath.Dir(abs)
	suffix := []string{filepath.Base(abs)}
	for {
		if canonicalDir, err := filepath.EvalSymlinks(dir); err == nil {
			result := canonicalDir
			for i := len(suffix) - 1; i >= 0; i-- {
				result = filepath.Join(result, suffix[i])
			}
			return result, nil
		}
		if _, err := os.Stat(dir); err == nil {
			// exists but EvalSymlinks failed for another reason; give up.
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent
	}
	return abs, nil
}

// isDescendant reports whether candidate is root itself or a
// component-boundary-aware descendant of it.
func isDescendant(root, candidate string) bool {
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(candidate, root+sep)
}

// containedIn reports whether path is a descendant of any of roots.
func containedIn(roots []string, path string) bool {
	for _, r := range roots {
		if isDescendant(r, path) {
			return true
		}
	}
	return false
}

// ValidateRead resolves and checks a path intended for a read-only
// operation: it must canonicalize to a descendant of some workspace root.
// A rejection carries neither the resolved path nor the caller-supplied
// input (§4.3 information-leakage rule).
func (v *Validator) ValidateRead(input string) (string, error) {
	resolved, err := resolve(input)
	if err != nil {
		return "", catenaryerrors.OutsideWorkspace(input)
	}
	v.mu.RLock()
	roots := v.roots
	v.mu.RUnlock()
	if !containedIn(roots, resolved) {
		return "", catenaryerrors.OutsideWorkspace(input)
	}
	return resolved, nil
}

// ValidateWrite is ValidateRead plus the protected-config-file check.
func (v *Validator) ValidateWrite(input string) (string, error) {
	resolved, err := v.ValidateRead(input)
	if err != nil {
		return "", err
	}
	v.mu.RLock()
	_, protected := v.protectedFiles[resolved]
	v.mu.RUnlock()
	if protected {
		return "", catenaryerrors.ProtectedConfig(input)
	}
	return resolved, nil
}

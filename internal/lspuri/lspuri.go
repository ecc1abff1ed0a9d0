// Package lspuri converts between filesystem paths and the file:// URIs the
// Language Server Protocol uses on the wire, via go.lsp.dev/uri rather than
// hand-rolled string concatenation, so platform-specific escaping (spaces,
// drive letters) is handled the same way go.lsp.dev/protocol expects.
package lspuri

import "go.lsp.dev/uri"

// FromPath returns the file:// URI for an absolute filesystem path.
func FromPath(path string) string {
	return string(uri.File(path))
}

// ToPath returns the filesystem path encoded by a file:// URI.
func ToPath(u string) string {
	return uri.URI(u).Filename()
}

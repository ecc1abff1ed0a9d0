package dispatcher

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// capCompletionItems truncates an LSP completion response to at most max
// items, per §4.6's "capped at 50 items" rule. Accepts either a bare
// CompletionItem[] or a CompletionList{items: [...]} shape.
func capCompletionItems(raw json.RawMessage, max int) interface{} {
	var asList struct {
		IsIncomplete bool              `json:"isIncomplete"`
		Items        []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &asList); err == nil && asList.Items != nil {
		if len(asList.Items) > max {
			asList.Items = asList.Items[:max]
			asList.IsIncomplete = true
		}
		return asList
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(raw, &asArray); err == nil {
		if len(asArray) > max {
			asArray = asArray[:max]
		}
		return asArray
	}

	return raw
}

// capSymbolDepth truncates a textDocument/documentSymbol response's nested
// DocumentSymbol trees to at most max levels, dropping grandchildren below
// the cap rather than erroring, per §4.6's "recursive tree, capped depth".
// A flat SymbolInformation[] response has no "children" key and passes
// through unchanged.
func capSymbolDepth(raw json.RawMessage, max int) interface{} {
	var tree []map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return raw
	}
	for _, node := range tree {
		truncateSymbolChildren(node, 1, max)
	}
	return tree
}

func truncateSymbolChildren(node map[string]interface{}, depth, max int) {
	children, ok := node["children"].([]interface{})
	if !ok {
		return
	}
	if depth >= max {
		delete(node, "children")
		return
	}
	for _, child := range children {
		if m, ok := child.(map[string]interface{}); ok {
			truncateSymbolChildren(m, depth+1, max)
		}
	}
}

// DirEntry describes one filesystem entry for the list_directory tool.
type DirEntry struct {
	Name    string `json:"name"`
	IsDir   bool   `json:"is_dir"`
	IsLink  bool   `json:"is_symlink"`
	SizeB   int64  `json:"size_bytes,omitempty"`
}

// readDirNonFollowing lists dir's immediate entries without following
// symlinks, so a symlinked directory is reported as a link rather than
// silently descended into.
func readDirNonFollowing(dir string) ([]DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := os.Lstat(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, DirEntry{
			Name:   entry.Name(),
			IsDir:  info.IsDir(),
			IsLink: info.Mode()&os.ModeSymlink != 0,
			SizeB:  info.Size(),
		})
	}
	return out, nil
}

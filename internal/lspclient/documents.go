package lspclient

import (
	"context"
	"os"
	"time"
)

// EnsureOpen sends textDocument/didOpen if uri isn't already open, per §3's
// "a document is considered open only if the server has been sent didOpen
// and not yet didClose" invariant. If the document is already open, it
// stats the file and, when the mtime moved, re-reads it and compares
// content against what the server was last told: a genuine change is sent
// as textDocument/didChange rather than silently ignored, so an edit made
// outside this process (by the caller, an editor, a build step) is still
// visible to the server on the next tool call. Returns whether a didChange
// was sent, so callers can decide whether to nudge the server for fresh
// diagnostics before waiting on them.
//
// beforeWrite, if non-nil, is called exactly once, at the point EnsureOpen
// has fully decided whether it is about to write a didOpen/didChange to the
// server's stdin but strictly before that write happens (or immediately, if
// it decides no write is needed). Callers that snapshot the diagnostics
// generation counter for a later wait must do it from inside beforeWrite,
// not after EnsureOpen returns, or the snapshot can land after the write it
// was meant to precede -- see §4.5.
func (c *Client) EnsureOpen(ctx context.Context, uri, path, languageID string, beforeWrite func()) (bool, error) {
	info, statErr := os.Stat(path)

	c.docsMu.Lock()
	doc, exists := c.docs[uri]
	c.docsMu.Unlock()

	if !exists {
		content, err := os.ReadFile(path)
		if err != nil {
			return false, err
		}
		if beforeWrite != nil {
			beforeWrite()
		}
		if err := c.Notify(ctx, "textDocument/didOpen", map[string]interface{}{
			"textDocument": map[string]interface{}{
				"uri":        uri,
				"languageId": languageID,
				"version":    1,
				"text":       string(content),
			},
		}); err != nil {
			return false, err
		}
		var modTime time.Time
		if statErr == nil {
			modTime = info.ModTime()
		}
		c.docsMu.Lock()
		c.docs[uri] = &OpenDocument{URI: uri, LastAccessTime: time.Now(), Version: 1, ModTime: modTime, Content: string(content)}
		c.docsMu.Unlock()
		return false, nil
	}

	c.Touch(uri)
	if statErr != nil {
		if beforeWrite != nil {
			beforeWrite()
		}
		return false, nil
	}

	c.docsMu.Lock()
	unchanged := doc.ModTime.Equal(info.ModTime())
	c.docsMu.Unlock()
	if unchanged {
		if beforeWrite != nil {
			beforeWrite()
		}
		return false, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	c.docsMu.Lock()
	sameContent := doc.Content == string(content)
	if sameContent {
		doc.ModTime = info.ModTime()
	}
	c.docsMu.Unlock()
	if sameContent {
		if beforeWrite != nil {
			beforeWrite()
		}
		return false, nil
	}

	if beforeWrite != nil {
		beforeWrite()
	}
	if _, err := c.Change(ctx, uri, string(content)); err != nil {
		return false, err
	}
	c.docsMu.Lock()
	if doc, ok := c.docs[uri]; ok {
		doc.Content = string(content)
		doc.ModTime = info.ModTime()
	}
	c.docsMu.Unlock()
	return true, nil
}

// Touch records that a tool call referenced uri, resetting its idle clock.
func (c *Client) Touch(uri string) {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	if doc, ok := c.docs[uri]; ok {
		doc.LastAccessTime = time.Now()
	}
}

// Change sends a full-document textDocument/didChange, bumping the
// document's version, and records the version sent so the Version
// diagnostics strategy can compare it against the server's next publish.
func (c *Client) Change(ctx context.Context, uri, newText string) (int32, error) {
	c.docsMu.Lock()
	doc, ok := c.docs[uri]
	if !ok {
		c.docsMu.Unlock()
		return 0, errNotOpen(uri)
	}
	doc.Version++
	version := doc.Version
	doc.LastSentVersion = version
	c.docsMu.Unlock()

	c.progressCycle.Store(false)

	err := c.Notify(ctx, "textDocument/didChange", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri, "version": version},
		"contentChanges": []map[string]interface{}{
			{"text": newText},
		},
	})
	return version, err
}

// LastSentVersion returns the version most recently sent via didChange for
// uri, used by the Version diagnostics strategy's Phase-1 signal.
func (c *Client) LastSentVersion(uri string) (int32, bool) {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	doc, ok := c.docs[uri]
	if !ok {
		return 0, false
	}
	return doc.LastSentVersion, true
}

// SaveCapabilitySuppressesNudge reports whether the server has explicitly
// advertised textDocumentSync.save == false, in which case the
// nudge-and-retry didSave should be skipped.
func (c *Client) SaveCapabilitySuppressesNudge() bool {
	caps := c.Capabilities()
	sync, ok := caps["textDocumentSync"].(map[string]interface{})
	if !ok {
		return false
	}
	save, ok := sync["save"].(bool)
	return ok && !save
}

// Save sends textDocument/didSave.
func (c *Client) Save(ctx context.Context, uri string) error {
	return c.Notify(ctx, "textDocument/didSave", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	})
}

// Close sends textDocument/didClose and forgets the document.
func (c *Client) Close(ctx context.Context, uri string) error {
	c.docsMu.Lock()
	_, ok := c.docs[uri]
	delete(c.docs, uri)
	c.docsMu.Unlock()
	if !ok {
		return nil
	}
	if err := c.Notify(ctx, "textDocument/didClose", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}); err != nil {
		return err
	}
	c.diagMu.Lock()
	delete(c.diagnostics, uri)
	c.diagMu.Unlock()
	return nil
}

// IdleDocuments returns URIs unused since before cutoff, for the manager's
// idle sweep.
func (c *Client) IdleDocuments(cutoff time.Time) []string {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	var idle []string
	for uri, doc := range c.docs {
		if doc.LastAccessTime.Before(cutoff) {
			idle = append(idle, uri)
		}
	}
	return idle
}

// HasOpenDocuments reports whether any document is currently open, used by
// the manager's idle-teardown decision (§4.4).
func (c *Client) HasOpenDocuments() bool {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	return len(c.docs) > 0
}

type notOpenError struct{ uri string }

func (e *notOpenError) Error() string { return "document not open: " + e.uri }

func errNotOpen(uri string) error { return &notOpenError{uri: uri} }

// Generation returns the current generation counter for uri (0 if no
// diagnostics have ever been published for it). Callers use this to
// snapshot g0 strictly before writing the triggering didChange/didSave,
// per §4.5's ordering guarantee.
func (c *Client) Generation(uri string) uint64 {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	if entry, ok := c.diagnostics[uri]; ok {
		return entry.Generation
	}
	return 0
}

// DiagnosticsSnapshot returns a copy of the current cache entry for uri.
func (c *Client) DiagnosticsSnapshot(uri string) DiagnosticEntry {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	if entry, ok := c.diagnostics[uri]; ok {
		return *entry
	}
	return DiagnosticEntry{}
}

// ProgressSnapshot returns a copy of the current progress-token table.
func (c *Client) ProgressSnapshot() map[string]ProgressToken {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	out := make(map[string]ProgressToken, len(c.progress))
	for k, v := range c.progress {
		out[k] = *v
	}
	return out
}

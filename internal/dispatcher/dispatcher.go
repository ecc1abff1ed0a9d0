// Package dispatcher exposes a fixed, declarative tool set to MCP callers,
// following a validate-route-invoke-format shape: per-tool language
// routing, broadcast aggregation across all alive clients, and a
// filesystem-walk fallback for tools with no live client to answer them.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
	"github.com/MarkWells-Dev/Catenary/internal/diagnostics"
	"github.com/MarkWells-Dev/Catenary/internal/lspclient"
	"github.com/MarkWells-Dev/Catenary/internal/lspuri"
	"github.com/MarkWells-Dev/Catenary/internal/manager"
	"github.com/MarkWells-Dev/Catenary/internal/metrics"
	"github.com/MarkWells-Dev/Catenary/internal/pathsec"
	"github.com/MarkWells-Dev/Catenary/internal/registry"
)

// Dispatcher routes tool calls to the right client(s), validating paths
// through the shared pathsec.Validator before anything touches disk or an
// LSP client.
type Dispatcher struct {
	manager   *manager.Manager
	validator *pathsec.Validator
	engine    *diagnostics.Engine
}

// New constructs a Dispatcher.
func New(m *manager.Manager, v *pathsec.Validator, e *diagnostics.Engine) *Dispatcher {
	return &Dispatcher{manager: m, validator: v, engine: e}
}

// ToolName enumerates the fixed tool set from §4.6.
type ToolName string

const (
	ToolHover           ToolName = "hover"
	ToolDefinition      ToolName = "definition"
	ToolTypeDefinition  ToolName = "type_definition"
	ToolImplementation  ToolName = "implementation"
	ToolFindReferences  ToolName = "find_references"
	ToolDocumentSymbols ToolName = "document_symbols"
	ToolSearch          ToolName = "search"
	ToolCompletion      ToolName = "completion"
	ToolSignatureHelp   ToolName = "signature_help"
	ToolDiagnostics     ToolName = "diagnostics"
	ToolFormatting      ToolName = "formatting"
	ToolRangeFormatting ToolName = "range_formatting"
	ToolRename          ToolName = "rename"
	ToolCodeActions     ToolName = "code_actions"
	ToolApplyQuickfix   ToolName = "apply_quickfix"
	ToolCallHierarchy   ToolName = "call_hierarchy"
	ToolTypeHierarchy   ToolName = "type_hierarchy"
	ToolStatus          ToolName = "status"
	ToolCodebaseMap     ToolName = "codebase_map"
	ToolListDirectory   ToolName = "list_directory"
)

// Names returns the full declarative tool set, in a stable order, for the
// MCP server's tools/list response.
func Names() []ToolName {
	return []ToolName{
		ToolHover, ToolDefinition, ToolTypeDefinition, ToolImplementation,
		ToolFindReferences, ToolDocumentSymbols, ToolSearch, ToolCompletion,
		ToolSignatureHelp, ToolDiagnostics, ToolFormatting, ToolRangeFormatting,
		ToolRename, ToolCodeActions, ToolApplyQuickfix, ToolCallHierarchy,
		ToolTypeHierarchy, ToolStatus, ToolCodebaseMap, ToolListDirectory,
	}
}

// Args is the generic argument bag a tool call carries; individual tools
// pick the fields they need.
type Args map[string]interface{}

func (a Args) str(key string) string {
	v, _ := a[key].(string)
	return v
}

func (a Args) intOr(key string, fallback int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func (a Args) boolOr(key string, fallback bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return fallback
}

// Result is what every tool handler returns to the MCP layer for
// serialization; Warnings carries the "results may be incomplete" notices
// required for broadcast tools with partial failures.
type Result struct {
	Value    interface{}
	Warnings []string
}

// Dispatch validates, routes, and invokes tool by name, per the five-step
// algorithm in §4.6. Errors from an LSP client are tagged [<language>];
// errors from the core itself are not.
func (d *Dispatcher) Dispatch(ctx context.Context, tool ToolName, args Args) (Result, error) {
	switch tool {
	case ToolHover:
		return d.positionRequest(ctx, args, "textDocument/hover")
	case ToolDefinition:
		return d.positionRequest(ctx, args, "textDocument/definition")
	case ToolTypeDefinition:
		return d.positionRequest(ctx, args, "textDocument/typeDefinition")
	case ToolImplementation:
		return d.positionRequest(ctx, args, "textDocument/implementation")
	case ToolFindReferences:
		return d.findReferences(ctx, args)
	case ToolDocumentSymbols:
		return d.documentSymbols(ctx, args)
	case ToolSearch:
		return d.search(ctx, args)
	case ToolCompletion:
		return d.completion(ctx, args)
	case ToolSignatureHelp:
		return d.positionRequest(ctx, args, "textDocument/signatureHelp")
	case ToolDiagnostics:
		return d.diagnosticsTool(ctx, args)
	case ToolFormatting:
		return d.formatting(ctx, args)
	case ToolRangeFormatting:
		return d.rangeFormatting(ctx, args)
	case ToolRename:
		return d.rename(ctx, args)
	case ToolCodeActions:
		return d.codeActions(ctx, args)
	case ToolApplyQuickfix:
		return d.applyQuickfix(ctx, args)
	case ToolCallHierarchy:
		return d.callHierarchy(ctx, args)
	case ToolTypeHierarchy:
		return d.typeHierarchy(ctx, args)
	case ToolStatus:
		return d.status(ctx, args)
	case ToolCodebaseMap:
		return d.codebaseMap(ctx, args)
	case ToolListDirectory:
		return d.listDirectory(ctx, args)
	default:
		return Result{}, catenaryerrors.MethodNotSupported("", string(tool))
	}
}

// resolveDocument validates the path argument, detects a target language,
// gets-or-spawns the client, and ensures the document is open. It's the
// shared prelude for every single-file, single-language tool.
//
// The returned generation is the URI's diagnostics generation counter,
// captured from inside EnsureOpen's beforeWrite hook -- strictly before any
// didOpen/didChange this call sends (and, transitively, strictly before the
// didSave nudge that follows a didChange), per §4.5's "snapshot before
// write" correctness anchor. Most callers ignore it; diagnosticsTool uses it
// as the baseline for the two-phase wait.
func (d *Dispatcher) resolveDocument(ctx context.Context, args Args) (*lspclient.Client, string, uint64, error) {
	rawPath := args.str("file")
	if rawPath == "" {
		rawPath = args.str("path")
	}
	canonical, err := d.validator.ValidateRead(rawPath)
	if err != nil {
		return nil, "", 0, err
	}

	language := languageFor(canonical)
	if language == "" {
		return nil, "", 0, catenaryerrors.MethodNotSupported("", "language detection")
	}

	c, err := d.manager.GetOrSpawn(ctx, language)
	if err != nil {
		return nil, "", 0, err
	}
	c.EnsurePublishObserver(func(uri string, sentVersion int32, sawProgress bool) {
		d.engine.ObservePublish(c, uri, sentVersion, sawProgress)
	})

	uri := lspuri.FromPath(canonical)
	var generation uint64
	changed, err := c.EnsureOpen(ctx, uri, canonical, language, func() {
		generation = c.Generation(uri)
	})
	if err != nil {
		return nil, "", 0, attribute(language, err)
	}
	if changed {
		if err := diagnostics.NudgeAndRetry(ctx, c, uri); err != nil {
			return nil, "", 0, attribute(language, err)
		}
	}
	return c, uri, generation, nil
}

func attribute(language string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := catenaryerrors.KindOf(err); ok {
		return err // already a typed core error; core errors are not language-prefixed per §7
	}
	return fmt.Errorf("[%s] %s", language, err)
}

// request wraps client.Request, recording its latency and outcome in the
// process-wide Prometheus metrics of internal/metrics.
func (d *Dispatcher) request(ctx context.Context, c *lspclient.Client, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.Request(ctx, method, params, timeout)
	timedOut := false
	if kind, ok := catenaryerrors.KindOf(err); ok && kind == catenaryerrors.KindRequestTimeout {
		timedOut = true
	}
	metrics.ObserveRequest(c.Language, method, start, err, timedOut)
	return result, err
}

func positionParams(uri string, args Args) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position": map[string]interface{}{
			"line":      args.intOr("line", 0),
			"character": args.intOr("character", 0),
		},
	}
}

func (d *Dispatcher) positionRequest(ctx context.Context, args Args, method string) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	result, err := d.request(ctx, c, method, positionParams(uri, args), 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: result}, nil
}

// findReferences implements §4.6's direct file/line/character form and its
// optional symbol-name form: when the call carries a symbol name and no
// path, a workspace/symbol lookup resolves a position first.
func (d *Dispatcher) findReferences(ctx context.Context, args Args) (Result, error) {
	symbol := args.str("symbol")
	if symbol != "" && args.str("file") == "" && args.str("path") == "" {
		resolved, err := d.resolveSymbolReferenceArgs(ctx, args, symbol)
		if err != nil {
			return Result{}, err
		}
		args = resolved
	}
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	params := positionParams(uri, args)
	params["context"] = map[string]interface{}{"includeDeclaration": args.boolOr("include_declaration", true)}
	result, err := d.request(ctx, c, "textDocument/references", params, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: result}, nil
}

// symbolLocation is the subset of a workspace/symbol SymbolInformation
// entry find_references' symbol-name form needs.
type symbolLocation struct {
	URI   string `json:"uri"`
	Range struct {
		Start struct {
			Line      int `json:"line"`
			Character int `json:"character"`
		} `json:"start"`
	} `json:"range"`
}

// resolveSymbolReferenceArgs runs workspace/symbol across every alive
// client to turn a bare symbol name into the file/line/character form
// resolveDocument expects, mirroring resolve_symbol_position's
// workspace-symbol fallback: never spawns a client, since a symbol can only
// be found in a server that's already indexing the workspace.
func (d *Dispatcher) resolveSymbolReferenceArgs(ctx context.Context, args Args, symbol string) (Args, error) {
	for _, c := range d.manager.AliveClients() {
		raw, err := d.request(ctx, c, "workspace/symbol", map[string]interface{}{"query": symbol}, 30*time.Second)
		if err != nil {
			continue
		}
		var matches []struct {
			Name     string         `json:"name"`
			Location symbolLocation `json:"location"`
		}
		if err := json.Unmarshal(raw, &matches); err != nil || len(matches) == 0 {
			continue
		}
		var match *symbolLocation
		for i, m := range matches {
			if m.Name == symbol {
				match = &matches[i].Location
				break
			}
		}
		if match == nil {
			for i, m := range matches {
				if strings.Contains(m.Name, symbol) {
					match = &matches[i].Location
					break
				}
			}
		}
		if match == nil {
			continue
		}
		path := lspuri.ToPath(match.URI)
		if path == "" {
			continue
		}
		resolved := Args{
			"file":      path,
			"line":      match.Range.Start.Line,
			"character": match.Range.Start.Character,
		}
		if v, ok := args["include_declaration"]; ok {
			resolved["include_declaration"] = v
		}
		return resolved, nil
	}
	return nil, fmt.Errorf("symbol %q not found in workspace", symbol)
}

// documentSymbolDepthCap bounds the nested DocumentSymbol tree §4.6 calls
// for ("recursive tree, capped depth"); flat SymbolInformation[] results
// have no children and are unaffected.
const documentSymbolDepthCap = 8

func (d *Dispatcher) documentSymbols(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	result, err := d.request(ctx, c, "textDocument/documentSymbol", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: capSymbolDepth(result, documentSymbolDepthCap)}, nil
}

// search runs workspace/symbol across every alive client plus a
// filesystem-walk fallback, always running both per §4.6. The fallback
// matches the query case-insensitively against each file's
// workspace-relative path; file contents are not searched.
func (d *Dispatcher) search(ctx context.Context, args Args) (Result, error) {
	query := args.str("query")
	aggregate := make(map[string][]interface{})
	var warnings []string

	for lang, c := range d.manager.AliveClients() {
		result, err := d.request(ctx, c, "workspace/symbol", map[string]interface{}{"query": query}, 30*time.Second)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Warning: [%s] unavailable, results may be incomplete", lang))
			continue
		}
		aggregate[lang] = []interface{}{result}
	}

	var grepMatches []map[string]interface{}
	for _, root := range d.manager.Roots() {
		_ = d.walkWorkspace(root, func(f walkFile) error {
			if query == "" || strings.Contains(strings.ToLower(f.RelativePath), strings.ToLower(query)) {
				grepMatches = append(grepMatches, map[string]interface{}{"path": f.AbsolutePath})
			}
			return nil
		})
	}

	return Result{
		Value:    map[string]interface{}{"symbols": aggregate, "filesystem_matches": grepMatches, "fallback_used": true},
		Warnings: warnings,
	}, nil
}

func (d *Dispatcher) completion(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	result, err := d.request(ctx, c, "textDocument/completion", positionParams(uri, args), 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: capCompletionItems(result, 50)}, nil
}

func (d *Dispatcher) diagnosticsTool(ctx context.Context, args Args) (Result, error) {
	c, uri, snapshot, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	if args.boolOr("wait_for_reanalysis", false) {
		version, _ := c.LastSentVersion(uri)
		outcome := d.engine.WaitForReanalysis(ctx, c, uri, snapshot, version)
		if outcome.ServerDied {
			return Result{}, catenaryerrors.ServerClosed(c.Language, "diagnostics")
		}
		return Result{Value: outcome.Diagnostics}, nil
	}
	return Result{Value: c.DiagnosticsSnapshot(uri)}, nil
}

func (d *Dispatcher) formatting(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	result, err := d.request(ctx, c, "textDocument/formatting", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"options":      map[string]interface{}{"tabSize": 4, "insertSpaces": true},
	}, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: result}, nil
}

func (d *Dispatcher) rangeFormatting(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	result, err := d.request(ctx, c, "textDocument/rangeFormatting", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"range":        args["range"],
		"options":      map[string]interface{}{"tabSize": 4, "insertSpaces": true},
	}, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: result}, nil
}

// rename returns proposed edits only; it never writes to the filesystem,
// per §9's untrusted-output trust boundary.
func (d *Dispatcher) rename(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	params := positionParams(uri, args)
	params["newName"] = args.str("new_name")
	result, err := d.request(ctx, c, "textDocument/rename", params, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: result}, nil
}

func (d *Dispatcher) codeActions(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	result, err := d.request(ctx, c, "textDocument/codeAction", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"range":        args["range"],
		"context":      map[string]interface{}{"diagnostics": []interface{}{}},
	}, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: result}, nil
}

// applyQuickfix looks up code actions and returns the proposed edits; it
// never writes to disk, matching rename's contract.
func (d *Dispatcher) applyQuickfix(ctx context.Context, args Args) (Result, error) {
	return d.codeActions(ctx, args)
}

func (d *Dispatcher) callHierarchy(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	prepared, err := d.request(ctx, c, "textDocument/prepareCallHierarchy", positionParams(uri, args), 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	direction := "incoming"
	if args.boolOr("outgoing", false) {
		direction = "outgoing"
	}
	method := "callHierarchy/incomingCalls"
	if direction == "outgoing" {
		method = "callHierarchy/outgoingCalls"
	}
	calls, err := d.request(ctx, c, method, map[string]interface{}{"item": firstItem(prepared)}, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: map[string]interface{}{"direction": direction, "calls": calls}}, nil
}

func (d *Dispatcher) typeHierarchy(ctx context.Context, args Args) (Result, error) {
	c, uri, _, err := d.resolveDocument(ctx, args)
	if err != nil {
		return Result{}, err
	}
	prepared, err := d.request(ctx, c, "textDocument/prepareTypeHierarchy", positionParams(uri, args), 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	direction := "supertypes"
	if args.boolOr("subtypes", false) {
		direction = "subtypes"
	}
	method := "typeHierarchy/supertypes"
	if direction == "subtypes" {
		method = "typeHierarchy/subtypes"
	}
	related, err := d.request(ctx, c, method, map[string]interface{}{"item": firstItem(prepared)}, 30*time.Second)
	if err != nil {
		return Result{}, attribute(c.Language, err)
	}
	return Result{Value: map[string]interface{}{"direction": direction, "types": related}}, nil
}

// status returns a manager state snapshot: which languages have an alive
// client and their current diagnostics strategy.
func (d *Dispatcher) status(ctx context.Context, args Args) (Result, error) {
	alive := d.manager.AliveClients()
	languages := make([]string, 0, len(alive))
	for lang := range alive {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	clients := make([]map[string]interface{}, 0, len(languages))
	for _, lang := range languages {
		c := alive[lang]
		clients = append(clients, map[string]interface{}{
			"language": lang,
			"strategy": c.Strategy(),
			"alive":    c.IsAlive(),
		})
	}
	return Result{Value: map[string]interface{}{"clients": clients, "roots": d.manager.Roots()}}, nil
}

// codebaseMap walks every workspace root and requests documentSymbol per
// file, respecting ignore rules; a server failure for one file is
// annotated rather than aborting the whole map.
func (d *Dispatcher) codebaseMap(ctx context.Context, args Args) (Result, error) {
	type fileSymbols struct {
		Path    string      `json:"path"`
		Symbols interface{} `json:"symbols,omitempty"`
		Error   string      `json:"error,omitempty"`
	}
	var files []fileSymbols
	var warnings []string

	for _, root := range d.manager.Roots() {
		err := d.walkWorkspace(root, func(f walkFile) error {
			language := languageFor(f.AbsolutePath)
			if language == "" {
				return nil
			}
			c := d.manager.GetIfAlive(language)
			if c == nil {
				return nil // broadcast-style tool: never spawns
			}
			c.EnsurePublishObserver(func(uri string, sentVersion int32, sawProgress bool) {
				d.engine.ObservePublish(c, uri, sentVersion, sawProgress)
			})
			uri := lspuri.FromPath(f.AbsolutePath)
			changed, err := c.EnsureOpen(ctx, uri, f.AbsolutePath, language, nil)
			if err != nil {
				files = append(files, fileSymbols{Path: f.RelativePath, Error: attribute(language, err).Error()})
				return nil
			}
			if changed {
				_ = diagnostics.NudgeAndRetry(ctx, c, uri)
			}
			symbols, err := d.request(ctx, c, "textDocument/documentSymbol", map[string]interface{}{
				"textDocument": map[string]interface{}{"uri": uri},
			}, 30*time.Second)
			if err != nil {
				files = append(files, fileSymbols{Path: f.RelativePath, Error: attribute(language, err).Error()})
				warnings = append(warnings, fmt.Sprintf("Warning: [%s] unavailable, results may be incomplete", language))
				return nil
			}
			files = append(files, fileSymbols{Path: f.RelativePath, Symbols: symbols})
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Value: files, Warnings: warnings}, nil
}

// listDirectory is filesystem-only: it never touches an LSP client and
// uses a non-following stat so a symlinked directory entry is reported as
// a symlink rather than transparently traversed.
func (d *Dispatcher) listDirectory(ctx context.Context, args Args) (Result, error) {
	canonical, err := d.validator.ValidateRead(args.str("path"))
	if err != nil {
		return Result{}, err
	}
	entries, err := readDirNonFollowing(canonical)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: entries}, nil
}

func languageFor(path string) string {
	if lang := registry.DetectByFilename(filepath.Base(path)); lang != "" {
		return lang
	}
	return registry.DetectByExtension(strings.ToLower(filepath.Ext(path)))
}

// firstItem returns the first element of a prepareCallHierarchy /
// prepareTypeHierarchy JSON array result, since both LSP methods return
// zero-or-more matches at a position but the follow-up incoming/outgoing
// or super/subtypes request takes exactly one item.
func firstItem(raw json.RawMessage) json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return raw
	}
	return items[0]
}

// Command mockls is a configurable mock LSP server used by the lspclient
// package's tests. It speaks Content-Length framed JSON-RPC on stdio and
// its behavior (timing, failures, capabilities) is controlled entirely by
// flags, so a test can spawn it as a real child process instead of faking
// the wire protocol.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/MarkWells-Dev/Catenary/internal/transport"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type flags struct {
	workspaceFolders     bool
	indexingDelay        time.Duration
	responseDelay        time.Duration
	diagnosticsDelay     time.Duration
	noDiagnostics        bool
	diagnosticsOnSave    bool
	dropAfter            int
	hangOn               stringList
	failOn               stringList
	malformedOn          stringList
	sendConfigurationReq bool
}

func parseFlags() flags {
	var f flags
	var indexingMs, responseMs, diagMs int
	flag.BoolVar(&f.workspaceFolders, "workspace-folders", false, "advertise workspace folder support with change notifications")
	flag.IntVar(&indexingMs, "indexing-delay", 0, "emit progress begin/end after initialized (milliseconds)")
	flag.IntVar(&responseMs, "response-delay", 0, "sleep before every response (milliseconds)")
	flag.IntVar(&diagMs, "diagnostics-delay", 0, "delay before publishing diagnostics (milliseconds)")
	flag.BoolVar(&f.noDiagnostics, "no-diagnostics", false, "never publish diagnostics")
	flag.BoolVar(&f.diagnosticsOnSave, "diagnostics-on-save", false, "only publish diagnostics on didSave")
	flag.IntVar(&f.dropAfter, "drop-after", 0, "close stdout after n responses (simulate crash); 0 disables")
	flag.Var(&f.hangOn, "hang-on", "never respond to this method (repeatable)")
	flag.Var(&f.failOn, "fail-on", "return InternalError for this method (repeatable)")
	flag.Var(&f.malformedOn, "malformed-result", "return a well-formed JSON-RPC response whose result has the wrong shape for this method, e.g. a string where an array is expected (repeatable)")
	flag.BoolVar(&f.sendConfigurationReq, "send-configuration-request", false, "send workspace/configuration request after initialize")
	flag.Parse()
	f.indexingDelay = time.Duration(indexingMs) * time.Millisecond
	f.responseDelay = time.Duration(responseMs) * time.Millisecond
	f.diagnosticsDelay = time.Duration(diagMs) * time.Millisecond
	return f
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type server struct {
	f             flags
	out           io.Writer
	writeMu       sync.Mutex
	docs          map[string]string
	docsMu        sync.Mutex
	responseCount int64
	nextID        int64
	logger        *log.Logger
}

func newServer(f flags, out io.Writer) *server {
	return &server{
		f:      f,
		out:    out,
		docs:   make(map[string]string),
		nextID: 1,
		logger: log.New(os.Stderr, "[mockls] ", log.LstdFlags),
	}
}

func (s *server) run(r io.Reader) {
	reader := transport.NewReader(r)
	for {
		body, err := reader.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			continue
		}
		if len(req.ID) > 0 {
			s.handleRequest(req)
		} else {
			s.handleNotification(req.Method, req.Params)
		}
	}
}

func decodeRawID(raw json.RawMessage) interface{} {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asNum int64
	if err := json.Unmarshal(raw, &asNum); err == nil {
		return asNum
	}
	return nil
}

func (s *server) handleRequest(req request) {
	for _, m := range s.f.hangOn {
		if m == req.Method {
			return
		}
	}

	if s.f.responseDelay > 0 {
		time.Sleep(s.f.responseDelay)
	}

	id := decodeRawID(req.ID)

	for _, m := range s.f.failOn {
		if m == req.Method {
			s.sendResponse(response{
				JSONRPC: "2.0",
				ID:      id,
				Error:   &rpcError{Code: -32603, Message: fmt.Sprintf("mockls: configured to fail on %s", req.Method)},
			})
			return
		}
	}

	for _, m := range s.f.malformedOn {
		if m == req.Method {
			s.sendResponse(response{JSONRPC: "2.0", ID: id, Result: "mockls: intentionally malformed result"})
			return
		}
	}

	var result interface{}
	var found = true
	switch req.Method {
	case "initialize":
		result = s.handleInitialize()
	case "shutdown":
		result = nil
	case "textDocument/hover":
		result = s.handleHover(req.Params)
	case "textDocument/definition":
		result = s.handleDefinition(req.Params)
	case "textDocument/references":
		result = s.handleReferences(req.Params)
	case "textDocument/documentSymbol":
		result = s.handleDocumentSymbols(req.Params)
	case "workspace/symbol":
		result = s.handleWorkspaceSymbols(req.Params)
	default:
		found = false
	}

	if !found {
		s.sendResponse(response{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: -32601, Message: "mockls: method not found: " + req.Method},
		})
		return
	}

	s.sendResponse(response{JSONRPC: "2.0", ID: id, Result: result})

	if req.Method == "initialize" && s.f.sendConfigurationReq {
		s.sendConfigurationRequest()
	}
}

func (s *server) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "initialized":
		if s.f.indexingDelay > 0 {
			go s.simulateIndexing()
		}
	case "textDocument/didOpen":
		var p struct {
			TextDocument struct {
				URI  string `json:"uri"`
				Text string `json:"text"`
			} `json:"textDocument"`
		}
		if json.Unmarshal(params, &p) == nil && p.TextDocument.URI != "" {
			s.docsMu.Lock()
			s.docs[p.TextDocument.URI] = p.TextDocument.Text
			s.docsMu.Unlock()
			if !s.f.noDiagnostics && !s.f.diagnosticsOnSave {
				s.publishDiagnostics(p.TextDocument.URI)
			}
		}
	case "textDocument/didChange":
		var p struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
			ContentChanges []struct {
				Text string `json:"text"`
			} `json:"contentChanges"`
		}
		if json.Unmarshal(params, &p) == nil && p.TextDocument.URI != "" {
			if n := len(p.ContentChanges); n > 0 {
				s.docsMu.Lock()
				s.docs[p.TextDocument.URI] = p.ContentChanges[n-1].Text
				s.docsMu.Unlock()
			}
			if !s.f.noDiagnostics && !s.f.diagnosticsOnSave {
				s.publishDiagnostics(p.TextDocument.URI)
			}
		}
	case "textDocument/didSave":
		var p struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		if json.Unmarshal(params, &p) == nil && p.TextDocument.URI != "" && !s.f.noDiagnostics {
			s.publishDiagnostics(p.TextDocument.URI)
		}
	case "textDocument/didClose":
		var p struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		if json.Unmarshal(params, &p) == nil {
			s.docsMu.Lock()
			delete(s.docs, p.TextDocument.URI)
			s.docsMu.Unlock()
		}
	case "exit":
		os.Exit(0)
	default:
		// workspace/didChangeWorkspaceFolders and everything else is accepted silently.
	}
}

func (s *server) handleInitialize() interface{} {
	caps := map[string]interface{}{
		"hoverProvider":           true,
		"definitionProvider":      true,
		"referencesProvider":      true,
		"documentSymbolProvider":  true,
		"workspaceSymbolProvider": true,
		"textDocumentSync": map[string]interface{}{
			"openClose": true,
			"change":    1,
			"save":      map[string]interface{}{"includeText": false},
		},
	}
	if s.f.workspaceFolders {
		caps["workspace"] = map[string]interface{}{
			"workspaceFolders": map[string]interface{}{
				"supported":           true,
				"changeNotifications": true,
			},
		}
	}
	return map[string]interface{}{"capabilities": caps}
}

func extractPosition(params json.RawMessage) (uri string, line, col int, ok bool) {
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
		Position struct {
			Line      int `json:"line"`
			Character int `json:"character"`
		} `json:"position"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TextDocument.URI == "" {
		return "", 0, 0, false
	}
	return p.TextDocument.URI, p.Position.Line, p.Position.Character, true
}

func isWordChar(b byte) bool {
	return unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b)) || b == '_'
}

func extractWord(content string, line, col int) (string, bool) {
	lines := strings.Split(content, "\n")
	if line < 0 || line >= len(lines) {
		return "", false
	}
	lineText := lines[line]
	if col < 0 || col >= len(lineText) {
		return "", false
	}
	start := col
	for start > 0 && isWordChar(lineText[start-1]) {
		start--
	}
	end := col
	for end < len(lineText) && isWordChar(lineText[end]) {
		end++
	}
	if start >= end {
		return "", false
	}
	return lineText[start:end], true
}

func locationJSON(uri string, line, start, end int) interface{} {
	return map[string]interface{}{
		"uri": uri,
		"range": map[string]interface{}{
			"start": map[string]interface{}{"line": line, "character": start},
			"end":   map[string]interface{}{"line": line, "character": end},
		},
	}
}

func (s *server) documentText(uri string) (string, bool) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	text, ok := s.docs[uri]
	return text, ok
}

func (s *server) handleHover(params json.RawMessage) interface{} {
	uri, line, col, ok := extractPosition(params)
	if !ok {
		return nil
	}
	content, ok := s.documentText(uri)
	if !ok {
		return nil
	}
	word, ok := extractWord(content, line, col)
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"contents": map[string]interface{}{
			"kind":  "markdown",
			"value": "```\n" + word + "\n```",
		},
	}
}

func (s *server) handleDefinition(params json.RawMessage) interface{} {
	uri, line, col, ok := extractPosition(params)
	if !ok {
		return nil
	}
	content, ok := s.documentText(uri)
	if !ok {
		return nil
	}
	word, ok := extractWord(content, line, col)
	if !ok {
		return nil
	}

	patterns := []string{
		"fn " + word, "function " + word, "def " + word,
		"let " + word, "const " + word, "var " + word,
	}
	lines := strings.Split(content, "\n")
	for lineIdx, lineText := range lines {
		for _, pattern := range patterns {
			if colIdx := strings.Index(lineText, pattern); colIdx >= 0 {
				return locationJSON(uri, lineIdx, colIdx, colIdx+len(pattern))
			}
		}
	}
	for lineIdx, lineText := range lines {
		if colIdx := strings.Index(lineText, word); colIdx >= 0 {
			return locationJSON(uri, lineIdx, colIdx, colIdx+len(word))
		}
	}
	return nil
}

func (s *server) handleReferences(params json.RawMessage) interface{} {
	uri, line, col, ok := extractPosition(params)
	if !ok {
		return nil
	}
	content, ok := s.documentText(uri)
	if !ok {
		return nil
	}
	word, ok := extractWord(content, line, col)
	if !ok {
		return nil
	}

	locations := []interface{}{}
	for lineIdx, lineText := range strings.Split(content, "\n") {
		start := 0
		for {
			pos := strings.Index(lineText[start:], word)
			if pos < 0 {
				break
			}
			colIdx := start + pos
			locations = append(locations, locationJSON(uri, lineIdx, colIdx, colIdx+len(word)))
			start = colIdx + len(word)
		}
	}
	return locations
}

type symbolKeyword struct {
	prefix string
	kind   int
}

var symbolKeywords = []symbolKeyword{
	{"fn ", 12}, {"function ", 12}, {"def ", 12},
	{"let ", 13}, {"const ", 14}, {"var ", 13},
}

func extractSymbols(content string) []map[string]interface{} {
	var symbols []map[string]interface{}
	for lineIdx, lineText := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(lineText, " \t")
		indent := len(lineText) - len(trimmed)

		var kind, prefixLen int
		matched := false
		for _, kw := range symbolKeywords {
			if strings.HasPrefix(trimmed, kw.prefix) {
				kind, prefixLen = kw.kind, len(kw.prefix)
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		afterKeyword := trimmed[prefixLen:]
		name := new(bytes.Buffer)
		for _, r := range afterKeyword {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				name.WriteRune(r)
			} else {
				break
			}
		}
		if name.Len() == 0 {
			continue
		}

		colStart := indent + prefixLen
		symbols = append(symbols, map[string]interface{}{
			"name": name.String(),
			"kind": kind,
			"range": map[string]interface{}{
				"start": map[string]interface{}{"line": lineIdx, "character": indent},
				"end":   map[string]interface{}{"line": lineIdx, "character": len(lineText)},
			},
			"selectionRange": map[string]interface{}{
				"start": map[string]interface{}{"line": lineIdx, "character": colStart},
				"end":   map[string]interface{}{"line": lineIdx, "character": colStart + name.Len()},
			},
		})
	}
	return symbols
}

func (s *server) handleDocumentSymbols(params json.RawMessage) interface{} {
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TextDocument.URI == "" {
		return nil
	}
	content, ok := s.documentText(p.TextDocument.URI)
	if !ok {
		return nil
	}
	out := make([]interface{}, 0)
	for _, sym := range extractSymbols(content) {
		out = append(out, sym)
	}
	return out
}

func (s *server) handleWorkspaceSymbols(params json.RawMessage) interface{} {
	var p struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal(params, &p)

	s.docsMu.Lock()
	docsCopy := make(map[string]string, len(s.docs))
	for k, v := range s.docs {
		docsCopy[k] = v
	}
	s.docsMu.Unlock()

	out := make([]interface{}, 0)
	for uri, content := range docsCopy {
		for _, sym := range extractSymbols(content) {
			name, _ := sym["name"].(string)
			if p.Query != "" && !strings.Contains(name, p.Query) {
				continue
			}
			rng := sym["range"]
			delete(sym, "range")
			delete(sym, "selectionRange")
			sym["location"] = map[string]interface{}{"uri": uri, "range": rng}
			out = append(out, sym)
		}
	}
	return out
}

func (s *server) publishDiagnostics(uri string) {
	if s.f.diagnosticsDelay > 0 {
		go func() {
			time.Sleep(s.f.diagnosticsDelay)
			s.sendDiagnosticsNotification(uri)
		}()
		return
	}
	s.sendDiagnosticsNotification(uri)
}

func (s *server) simulateIndexing() {
	token := "mockls-indexing"
	id := atomic.AddInt64(&s.nextID, 1)
	s.sendMessage(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "window/workDoneProgress/create",
		"params":  map[string]interface{}{"token": token},
	})

	time.Sleep(50 * time.Millisecond)

	s.sendMessage(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "$/progress",
		"params": map[string]interface{}{
			"token": token,
			"value": map[string]interface{}{"kind": "begin", "title": "Indexing", "percentage": 0},
		},
	})

	time.Sleep(s.f.indexingDelay)

	s.sendMessage(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "$/progress",
		"params": map[string]interface{}{
			"token": token,
			"value": map[string]interface{}{"kind": "end", "message": "Indexing complete"},
		},
	})
}

func (s *server) sendConfigurationRequest() {
	id := atomic.AddInt64(&s.nextID, 1)
	s.sendMessage(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "workspace/configuration",
		"params":  map[string]interface{}{"items": []interface{}{map[string]interface{}{"section": "mockls"}}},
	})
}

func (s *server) sendDiagnosticsNotification(uri string) {
	s.sendMessage(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": map[string]interface{}{
			"uri": uri,
			"diagnostics": []interface{}{
				map[string]interface{}{
					"range": map[string]interface{}{
						"start": map[string]interface{}{"line": 0, "character": 0},
						"end":   map[string]interface{}{"line": 0, "character": 1},
					},
					"severity": 2,
					"source":   "mockls",
					"message":  "mockls: mock diagnostic",
				},
			},
		},
	})
}

func (s *server) sendMessage(v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := transport.WriteMessage(s.out, body); err != nil {
		s.logger.Printf("write failed: %v", err)
	}
}

func (s *server) sendResponse(resp response) {
	s.sendMessage(resp)

	count := atomic.AddInt64(&s.responseCount, 1)
	if s.f.dropAfter > 0 && count >= int64(s.f.dropAfter) {
		os.Exit(1)
	}
}

func main() {
	f := parseFlags()
	srv := newServer(f, os.Stdout)
	srv.run(os.Stdin)
}

// Package lspclient implements one child LSP server process: its framing,
// request/notification correlation, process lifecycle, and
// server-initiated request handling, plus a fuller
// request/notify/shutdown/event-subscription surface than a single-purpose
// gateway client would need.
package lspclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
	"github.com/MarkWells-Dev/Catenary/internal/config"
	"github.com/MarkWells-Dev/Catenary/internal/logging"
	"github.com/MarkWells-Dev/Catenary/internal/lspuri"
	"github.com/MarkWells-Dev/Catenary/internal/transport"
)

const (
	shutdownRequestTimeout = 5 * time.Second
	stderrDrainBufferLines = 500
)

// jsonrpcMessage is the wire shape shared by requests, responses, and
// notifications; exactly one of {Method, Result-or-Error} is meaningful
// depending on which fields are present, per §4.1/§4.2.
type jsonrpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client owns exactly one child LSP server process, per §4.2.
type Client struct {
	Language   string
	descriptor config.ServerDescriptor
	logger     *logging.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeMu sync.Mutex // serializes frame writes so concurrent callers never interleave

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	nextID   int64
	alive    atomic.Bool

	capMu        sync.RWMutex
	capabilities map[string]interface{}
	posEncoding  PositionEncoding

	progressMu sync.Mutex
	progress   map[string]*ProgressToken

	diagMu      sync.Mutex
	diagnostics map[string]*DiagnosticEntry

	docsMu sync.Mutex
	docs   map[string]*OpenDocument

	strategy      atomic.Value // Strategy
	progressCycle atomic.Bool  // true once a progress token has gone active since the last didChange

	obsMu           sync.RWMutex
	publishObserver func(uri string, sentVersion int32, sawProgress bool)
	observerSet     atomic.Bool

	eventMu sync.RWMutex
	eventCh chan Event

	done chan struct{} // closed exactly once, when the reader loop exits
}

// New constructs a Client for one language; it does not start the process.
func New(language string, descriptor config.ServerDescriptor) *Client {
	c := &Client{
		Language:    language,
		descriptor:  descriptor,
		logger:      logging.ForLanguage(language),
		pending:     make(map[string]*pendingRequest),
		progress:    make(map[string]*ProgressToken),
		diagnostics: make(map[string]*DiagnosticEntry),
		docs:        make(map[string]*OpenDocument),
		done:        make(chan struct{}),
		posEncoding: PositionEncodingUTF16,
	}
	c.strategy.Store(StrategyProcessMonitor)
	return c
}

// SetEventSink installs the channel the diagnostics engine receives Events
// on. Sends are always non-blocking so the
// reader task, which is the only sender, is never held up by a slow or
// absent subscriber, per §5's "reader task never awaits anything except
// stdout I/O".
func (c *Client) SetEventSink(ch chan Event) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventCh = ch
}

func (c *Client) emit(ev Event) {
	c.eventMu.RLock()
	ch := c.eventCh
	c.eventMu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

// EnsurePublishObserver installs fn as the callback invoked after every
// publishDiagnostics this client receives, unless one is already installed.
// Used to wire diagnostics strategy promotion into the real notification
// path without lspclient importing the diagnostics package back.
func (c *Client) EnsurePublishObserver(fn func(uri string, sentVersion int32, sawProgress bool)) {
	if c.observerSet.CompareAndSwap(false, true) {
		c.obsMu.Lock()
		c.publishObserver = fn
		c.obsMu.Unlock()
	}
}

func (c *Client) notifyPublishObserver(uri string, sentVersion int32, sawProgress bool) {
	c.obsMu.RLock()
	fn := c.publishObserver
	c.obsMu.RUnlock()
	if fn != nil {
		fn(uri, sentVersion, sawProgress)
	}
}

// Spawn starts the child process with piped stdin/stdout/stderr, installs
// the reader task and the bounded stderr drain, and returns once the
// process has started (not once it has finished initializing -- callers
// call Initialize separately, per §4.2).
func (c *Client) Spawn(ctx context.Context) error {
	c.cmd = exec.CommandContext(ctx, c.descriptor.Command, c.descriptor.Args...)

	var err error
	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		return catenaryerrors.SpawnFailed(c.Language, fmt.Errorf("stdin pipe: %w", err))
	}
	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		return catenaryerrors.SpawnFailed(c.Language, fmt.Errorf("stdout pipe: %w", err))
	}
	c.stderr, err = c.cmd.StderrPipe()
	if err != nil {
		return catenaryerrors.SpawnFailed(c.Language, fmt.Errorf("stderr pipe: %w", err))
	}
	if err := c.cmd.Start(); err != nil {
		return catenaryerrors.SpawnFailed(c.Language, err)
	}

	c.alive.Store(true)
	go c.readLoop()
	go c.drainStderr()
	return nil
}

// Initialize performs the LSP initialize/initialized handshake, per §4.2.
func (c *Client) Initialize(ctx context.Context, workspaceRoots []string, timeout time.Duration) (map[string]interface{}, error) {
	folders := make([]map[string]string, 0, len(workspaceRoots))
	for _, root := range workspaceRoots {
		folders = append(folders, map[string]string{
			"uri":  lspuri.FromPath(root),
			"name": lastPathComponent(root),
		})
	}

	params := map[string]interface{}{
		"processId":             os.Getpid(),
		"rootUri":               rootURIOrNil(workspaceRoots),
		"workspaceFolders":      folders,
		"capabilities":          c.clientCapabilities(),
		"initializationOptions": c.descriptor.InitializationOptions,
	}

	raw, err := c.Request(ctx, "initialize", params, timeout)
	if err != nil {
		if !c.alive.Load() {
			return nil, catenaryerrors.InitializeFailed(c.Language, catenaryerrors.ServerClosed(c.Language, "initialize"))
		}
		return nil, catenaryerrors.InitializeFailed(c.Language, err)
	}

	var result struct {
		Capabilities map[string]interface{} `json:"capabilities"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, catenaryerrors.InitializeFailed(c.Language, err)
	}

	c.capMu.Lock()
	c.capabilities = result.Capabilities
	if pe, ok := negotiatedPositionEncoding(result.Capabilities); ok {
		c.posEncoding = pe
	}
	c.capMu.Unlock()

	if err := c.Notify(context.Background(), "initialized", map[string]interface{}{}); err != nil {
		return nil, catenaryerrors.InitializeFailed(c.Language, err)
	}
	return result.Capabilities, nil
}

func rootURIOrNil(roots []string) interface{} {
	if len(roots) == 0 {
		return nil
	}
	return lspuri.FromPath(roots[0])
}

func lastPathComponent(p string) string {
	trimmed := strings.TrimRight(p, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// negotiatedPositionEncoding reads capabilities.positionEncoding, when a
// server bothers to advertise it; LSP 3.17 servers that don't are assumed
// to speak UTF-16, the historical default, per §3.
func negotiatedPositionEncoding(caps map[string]interface{}) (PositionEncoding, bool) {
	raw, ok := caps["positionEncoding"].(string)
	if !ok {
		return "", false
	}
	switch raw {
	case "utf-8":
		return PositionEncodingUTF8, true
	case "utf-32":
		return PositionEncodingUTF32, true
	default:
		return PositionEncodingUTF16, true
	}
}

func (c *Client) clientCapabilities() map[string]interface{} {
	return map[string]interface{}{
		"general": map[string]interface{}{
			"positionEncodings": []string{"utf-8", "utf-16", "utf-32"},
		},
		"window": map[string]interface{}{
			"workDoneProgress": true,
		},
		"workspace": map[string]interface{}{
			"workspaceFolders": true,
			"configuration":    true,
		},
		"textDocument": map[string]interface{}{
			"publishDiagnostics": map[string]interface{}{
				"versionSupport": true,
			},
			"synchronization": map[string]interface{}{
				"didSave": true,
			},
		},
	}
}

// Request allocates a fresh id, installs a completion slot, writes the
// framed request, and awaits its result up to timeout, per §4.2.
func (c *Client) Request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if !c.alive.Load() {
		return nil, catenaryerrors.ServerClosed(c.Language, method)
	}

	id := strconv.FormatInt(atomic.AddInt64(&c.nextID, 1), 10)
	pending := &pendingRequest{method: method, respCh: make(chan response, 1)}

	c.mu.Lock()
	c.pending[id] = pending
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.writeMessage(jsonrpcMessage{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%q", id)),
		Method:  method,
		Params:  marshalParams(params),
	}); err != nil {
		cleanup()
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pending.respCh:
		return resp.result, resp.err
	case <-timer.C:
		cleanup()
		return nil, catenaryerrors.RequestTimeout(c.Language, method)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.done:
		cleanup()
		return nil, catenaryerrors.ServerClosed(c.Language, method)
	}
}

// Notify writes a framed notification and never awaits a response.
func (c *Client) Notify(_ context.Context, method string, params interface{}) error {
	if !c.alive.Load() {
		return catenaryerrors.ServerClosed(c.Language, method)
	}
	return c.writeMessage(jsonrpcMessage{
		JSONRPC: "2.0",
		Method:  method,
		Params:  marshalParams(params),
	})
}

// resultShape is the coarse JSON shape §4.2 declares for a request method's
// result: every LSP result Catenary issues is either null, a bare object, a
// bare array, or (for definition-family requests) one of the latter two.
// Catenary forwards results to MCP callers as opaque JSON rather than typed
// structs, so this is the level of "declared result type" it can actually
// check -- but it is a real contract a malformed response can fail.
type resultShape int

const (
	shapeUnconstrained resultShape = iota
	shapeObjectOrNull
	shapeArrayOrNull
	shapeObjectArrayOrNull
)

// methodResultShapes declares the result shape for every method the
// dispatcher issues via Request. textDocument/completion is deliberately
// absent: its result is legitimately either a bare CompletionItem[] or a
// CompletionList object, so no single shape would be a real contract.
var methodResultShapes = map[string]resultShape{
	"initialize":                        shapeObjectOrNull,
	"textDocument/hover":                shapeObjectOrNull,
	"textDocument/signatureHelp":        shapeObjectOrNull,
	"textDocument/rename":               shapeObjectOrNull,
	"textDocument/definition":           shapeObjectArrayOrNull,
	"textDocument/typeDefinition":       shapeObjectArrayOrNull,
	"textDocument/implementation":       shapeObjectArrayOrNull,
	"textDocument/references":           shapeArrayOrNull,
	"textDocument/documentSymbol":       shapeArrayOrNull,
	"textDocument/formatting":           shapeArrayOrNull,
	"textDocument/rangeFormatting":      shapeArrayOrNull,
	"textDocument/codeAction":           shapeArrayOrNull,
	"workspace/symbol":                  shapeArrayOrNull,
	"textDocument/prepareCallHierarchy": shapeArrayOrNull,
	"callHierarchy/incomingCalls":       shapeArrayOrNull,
	"callHierarchy/outgoingCalls":       shapeArrayOrNull,
	"textDocument/prepareTypeHierarchy": shapeArrayOrNull,
	"typeHierarchy/supertypes":          shapeArrayOrNull,
	"typeHierarchy/subtypes":            shapeArrayOrNull,
}

// decodeResult checks raw against method's declared result shape, per §4.2.
// A missing or null result always passes, since every declared shape here
// permits "no result". Returns nil for methods with no declared shape.
func decodeResult(method string, raw json.RawMessage) error {
	shape, ok := methodResultShapes[method]
	if !ok || shape == shapeUnconstrained {
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return err
	}

	switch shape {
	case shapeObjectOrNull:
		if _, ok := probe.(map[string]interface{}); !ok {
			return fmt.Errorf("expected an object result, got %T", probe)
		}
	case shapeArrayOrNull:
		if _, ok := probe.([]interface{}); !ok {
			return fmt.Errorf("expected an array result, got %T", probe)
		}
	case shapeObjectArrayOrNull:
		switch probe.(type) {
		case map[string]interface{}, []interface{}:
		default:
			return fmt.Errorf("expected an object or array result, got %T", probe)
		}
	}
	return nil
}

func marshalParams(params interface{}) json.RawMessage {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	return raw
}

func (c *Client) writeMessage(msg jsonrpcMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return transport.WriteMessage(c.stdin, body)
}

// Shutdown sends shutdown then exit, waits up to grace for the process to
// exit, and kills it on deadline, per §4.2.
func (c *Client) Shutdown(ctx context.Context, grace time.Duration) error {
	if !c.alive.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownRequestTimeout)
	_, _ = c.Request(shutdownCtx, "shutdown", nil, shutdownRequestTimeout)
	cancel()
	_ = c.Notify(ctx, "exit", nil)

	select {
	case <-c.done:
		return nil
	case <-time.After(grace):
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-c.done
		return nil
	}
}

// IsAlive reports whether the reader loop is still running.
func (c *Client) IsAlive() bool { return c.alive.Load() }

// Pid returns the child process id, or false if the process was never
// spawned. Used by the ProcessMonitor diagnostics strategy to poll CPU
// ticks as a readiness signal.
func (c *Client) Pid() (int, bool) {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0, false
	}
	return c.cmd.Process.Pid, true
}

// Done is closed exactly once, when the client transitions to dead.
func (c *Client) Done() <-chan struct{} { return c.done }

// Capabilities returns a snapshot of the server-advertised capability set.
func (c *Client) Capabilities() map[string]interface{} {
	c.capMu.RLock()
	defer c.capMu.RUnlock()
	return c.capabilities
}

// PositionEncoding returns the negotiated encoding (defaults to UTF-16).
func (c *Client) PositionEncoding() PositionEncoding {
	c.capMu.RLock()
	defer c.capMu.RUnlock()
	return c.posEncoding
}

// Strategy returns the client's current diagnostics-wait strategy.
func (c *Client) Strategy() Strategy { return c.strategy.Load().(Strategy) }

// PromoteStrategy upgrades the client's diagnostics-wait strategy. Callers
// (the diagnostics engine) only ever promote away from ProcessMonitor, per
// §4.5, but this method itself has no opinion on ordering.
func (c *Client) PromoteStrategy(s Strategy) { c.strategy.Store(s) }

// readLoop is the single-threaded reader task described in §4.2/§5: it
// never holds a lock across an await and only ever suspends on stdout I/O.
func (c *Client) readLoop() {
	defer c.onDeath()

	reader := transport.NewReader(c.stdout)
	for {
		body, err := reader.ReadMessage()
		if err != nil {
			if err == io.EOF {
				c.logger.Printf("server closed connection")
			} else {
				c.logger.Printf("frame read error, treating as connection death: %v", err)
			}
			return
		}
		c.handleFrame(body)
	}
}

func (c *Client) onDeath() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.once.Do(func() {
			p.respCh <- response{err: catenaryerrors.ServerClosed(c.Language, p.method)}
		})
	}

	close(c.done)
	c.emit(Event{Kind: EventProcessDied})
}

// handleFrame classifies one frame as response, server-initiated request,
// or notification, and dispatches it, per §4.2. Any frame that can't even
// be parsed as JSON but still yields a salvageable id fails that id's slot
// with MalformedResponse; otherwise it's discarded with a warning, so one
// bad frame can never orphan a pending request indefinitely.
func (c *Client) handleFrame(body []byte) {
	var msg jsonrpcMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		if id, ok := salvageID(body); ok {
			c.completeByRawID(id, response{err: catenaryerrors.MalformedResponse(c.Language, err)})
		} else {
			c.logger.Printf("discarding unparseable frame: %v", err)
		}
		return
	}

	switch {
	case len(msg.ID) > 0 && (msg.Result != nil || msg.Error != nil):
		c.handleResponse(msg)
	case len(msg.ID) > 0 && msg.Method != "":
		c.handleServerRequest(msg)
	case msg.Method != "":
		c.handleNotification(msg)
	default:
		c.logger.Printf("discarding frame that is neither request, response, nor notification")
	}
}

// salvageID extracts a bare "id" field from an otherwise-unparseable
// frame, best-effort, so a response body that fails full JSON validation
// (e.g. an invalid escape deep inside "result") doesn't leave its request
// hanging until timeout.
func salvageID(body []byte) (string, bool) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		if len(probe.ID) == 0 {
			return "", false
		}
		return decodeID(probe.ID), true
	}
	// Not valid JSON at all: scan the raw text for a string or integer id.
	m := regexp.MustCompile(`"id"\s*:\s*("(?:[^"\\]|\\.)*"|-?[0-9]+)`).FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return decodeID(m[1]), true
}

func decodeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return string(raw)
}

func (c *Client) completeByRawID(id string, resp response) {
	c.mu.Lock()
	pending, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Printf("received response for unknown request id %s", id)
		return
	}
	pending.once.Do(func() { pending.respCh <- resp })
}

func (c *Client) handleResponse(msg jsonrpcMessage) {
	id := decodeID(msg.ID)

	c.mu.Lock()
	pending, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Printf("received response for unknown request id %s", id)
		return
	}

	if msg.Error != nil {
		pending.once.Do(func() {
			pending.respCh <- response{err: fmt.Errorf("%s: %s (code %d)", pending.method, msg.Error.Message, msg.Error.Code)}
		})
		return
	}

	if err := decodeResult(pending.method, msg.Result); err != nil {
		pending.once.Do(func() {
			pending.respCh <- response{err: catenaryerrors.DecodeFailed(c.Language, pending.method, err)}
		})
		return
	}

	pending.once.Do(func() { pending.respCh <- response{result: msg.Result} })
}

package lspclient

import (
	"bufio"
	"encoding/json"
	"time"

	"go.lsp.dev/protocol"
)

// handleServerRequest replies immediately, per §4.2: MethodNotFound for
// everything except the three specifically-handled server-initiated
// requests.
func (c *Client) handleServerRequest(msg jsonrpcMessage) {
	switch msg.Method {
	case "workspace/configuration":
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		sections := make([]interface{}, len(params.Items))
		c.replyToServer(msg.ID, sections, nil)

	case "window/workDoneProgress/create":
		var params struct {
			Token json.RawMessage `json:"token"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		token := decodeID(params.Token)
		c.progressMu.Lock()
		c.progress[token] = &ProgressToken{State: ProgressCreated, LastUpdate: time.Now()}
		c.progressMu.Unlock()
		c.replyToServer(msg.ID, struct{}{}, nil)

	case "client/registerCapability":
		c.replyToServer(msg.ID, struct{}{}, nil)

	default:
		c.replyToServer(msg.ID, nil, &jsonrpcError{Code: -32601, Message: "method not found: " + msg.Method})
	}
}

func (c *Client) replyToServer(id json.RawMessage, result interface{}, rpcErr *jsonrpcError) {
	resultRaw := marshalParams(result)
	if err := c.writeMessage(jsonrpcMessage{JSONRPC: "2.0", ID: id, Result: resultRaw, Error: rpcErr}); err != nil {
		c.logger.Printf("failed to reply to server-initiated request: %v", err)
	}
}

// handleNotification dispatches on method, per §4.2.
func (c *Client) handleNotification(msg jsonrpcMessage) {
	switch msg.Method {
	case "$/progress":
		c.handleProgress(msg.Params)
	case "textDocument/publishDiagnostics":
		c.handlePublishDiagnostics(msg.Params)
	case "window/logMessage", "window/showMessage":
		var params struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		c.emit(Event{Kind: EventLogMessage, Message: params.Message})
	default:
		// Trace-level in spirit: intentionally not logged at normal
		// verbosity, since servers emit many notifications Catenary has no
		// use for (e.g. semantic-token deltas it never subscribed to).
	}
}

func (c *Client) handleProgress(raw json.RawMessage) {
	var params struct {
		Token json.RawMessage `json:"token"`
		Value struct {
			Kind string `json:"kind"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return
	}
	token := decodeID(params.Token)

	var state ProgressState
	switch params.Value.Kind {
	case "begin":
		state = ProgressActive
	case "report":
		state = ProgressActive
	case "end":
		state = ProgressIdle
	default:
		return
	}

	c.progressMu.Lock()
	c.progress[token] = &ProgressToken{State: state, LastUpdate: time.Now()}
	c.progressMu.Unlock()

	if state == ProgressActive {
		c.progressCycle.Store(true)
	}

	c.emit(Event{Kind: EventProgress, Token: token, State: state})
}

func (c *Client) handlePublishDiagnostics(raw json.RawMessage) {
	var params protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.logger.Printf("failed to decode publishDiagnostics: %v", err)
		return
	}
	uri := string(params.URI)

	c.diagMu.Lock()
	entry, ok := c.diagnostics[uri]
	if !ok {
		entry = &DiagnosticEntry{}
		c.diagnostics[uri] = entry
	}
	entry.Diagnostics = params.Diagnostics
	entry.Generation++
	entry.LastPublishTime = time.Now()
	entry.HasPublished = true
	if params.Version != 0 {
		v := params.Version
		entry.LastServerVersion = &v
	}
	generation := entry.Generation
	version := entry.LastServerVersion
	c.diagMu.Unlock()

	c.emit(Event{Kind: EventDiagnosticsPublished, URI: uri, Generation: generation, Version: version})

	sentVersion, _ := c.LastSentVersion(uri)
	sawProgress := c.progressCycle.Load()
	c.notifyPublishObserver(uri, sentVersion, sawProgress)
}

// drainStderr discards overflow past a bounded number of buffered lines,
// per §5's stderr backpressure rule: the reader task must never block on a
// slow or silent consumer of stderr.
func (c *Client) drainStderr() {
	scanner := bufio.NewScanner(c.stderr)
	buf := make(chan string, stderrDrainBufferLines)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for line := range buf {
			c.logger.Printf("stderr: %s", line)
		}
	}()

	for scanner.Scan() {
		select {
		case buf <- scanner.Text():
		default:
			// Buffer full: discard rather than block, per §5.
		}
	}
	close(buf)
	<-done
}

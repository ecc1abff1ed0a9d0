// Package mcpserver implements the inbound MCP JSON-RPC surface:
// initialize, tools/list, tools/call, and the two notification methods,
// framed with Content-Length rather than the line-delimited transport some
// MCP hosts use. Every tool call is delegated to a dispatcher.Dispatcher.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/MarkWells-Dev/Catenary/internal/dispatcher"
	"github.com/MarkWells-Dev/Catenary/internal/logging"
	"github.com/MarkWells-Dev/Catenary/internal/transport"
)

const protocolVersion = "2025-06-18"

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolDescriptor is one entry in the tools/list response.
type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Server is the MCP-facing half of the bridge: it decodes tool calls,
// hands them to the dispatcher, and encodes results back onto stdout.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	logger     *logging.Logger

	out      io.Writer
	writeMu  sync.Mutex
	toolsGen atomic.Int64 // bumped whenever the tool set changes, to justify tools/list_changed
}

// New constructs a Server writing responses to out.
func New(d *dispatcher.Dispatcher, out io.Writer) *Server {
	return &Server{dispatcher: d, logger: logging.New("mcpserver"), out: out}
}

// Run reads Content-Length framed JSON-RPC requests from in until it
// closes or ctx is cancelled, per §6's "loss of stdio on the MCP side
// terminates the core" fatal condition.
func (s *Server) Run(ctx context.Context, in io.Reader) error {
	reader := transport.NewReader(in)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, err := reader.ReadMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.logger.Printf("decode error: %v", err)
			continue
		}

		if len(req.ID) == 0 {
			s.handleNotification(ctx, req)
			continue
		}

		resp := s.handleRequest(ctx, req)
		s.writeResponse(resp)
	}
}

func (s *Server) writeResponse(resp jsonrpcResponse) {
	resp.JSONRPC = "2.0"
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Printf("encode error: %v", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := transport.WriteMessage(s.out, body); err != nil {
		s.logger.Printf("write error: %v", err)
	}
}

// EmitToolsListChanged notifies the caller that the tool set changed, e.g.
// after a workspace-root update affects the run allowlist's language
// detection, per §6.
func (s *Server) EmitToolsListChanged() {
	s.toolsGen.Add(1)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/tools/list_changed",
	})
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := transport.WriteMessage(s.out, body); err != nil {
		s.logger.Printf("failed to emit tools/list_changed: %v", err)
	}
}

func (s *Server) handleNotification(ctx context.Context, req jsonrpcRequest) {
	switch req.Method {
	case "notifications/initialized":
		// no-op: the core is ready to serve tool calls as soon as it starts listening.
	case "notifications/roots/list_changed":
		s.logger.Printf("host reported workspace roots changed")
	default:
		// Unknown notifications are accepted silently, matching LSP's server-side leniency.
	}
}

func (s *Server) handleRequest(ctx context.Context, req jsonrpcRequest) jsonrpcResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, -32600, "jsonrpc must be 2.0")
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req jsonrpcRequest) jsonrpcResponse {
	result := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": true},
		},
		"serverInfo": map[string]interface{}{
			"name": "catenary",
		},
	}
	return jsonrpcResponse{ID: req.ID, Result: result}
}

func (s *Server) handleToolsList(req jsonrpcRequest) jsonrpcResponse {
	tools := make([]toolDescriptor, 0, len(dispatcher.Names()))
	for _, name := range dispatcher.Names() {
		tools = append(tools, toolDescriptor{
			Name:        string(name),
			Description: toolDescriptions[name],
			InputSchema: toolSchemas[name],
		})
	}
	return jsonrpcResponse{ID: req.ID, Result: map[string]interface{}{"tools": tools}}
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req jsonrpcRequest) jsonrpcResponse {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, -32602, "invalid tools/call params")
	}

	result, err := s.dispatcher.Dispatch(ctx, dispatcher.ToolName(params.Name), dispatcher.Args(params.Arguments))
	if err != nil {
		return jsonrpcResponse{ID: req.ID, Result: map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": err.Error()}},
			"isError": true,
		}}
	}

	content := []map[string]interface{}{{"type": "text", "text": formatValue(result.Value)}}
	for _, w := range result.Warnings {
		content = append(content, map[string]interface{}{"type": "text", "text": w})
	}
	return jsonrpcResponse{ID: req.ID, Result: map[string]interface{}{"content": content}}
}

func formatValue(v interface{}) string {
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func errorResponse(id json.RawMessage, code int, message string) jsonrpcResponse {
	return jsonrpcResponse{ID: id, Error: &jsonrpcError{Code: code, Message: message}}
}

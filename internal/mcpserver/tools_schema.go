package mcpserver

import (
	"encoding/json"

	"github.com/MarkWells-Dev/Catenary/internal/dispatcher"
)

// filePositionSchema is shared by every tool that operates on a single
// document position (hover, definition, completion, and the like).
var filePositionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"file": {"type": "string", "description": "absolute or workspace-relative path"},
		"line": {"type": "integer", "description": "zero-based line number"},
		"character": {"type": "integer", "description": "zero-based UTF-16 column"}
	},
	"required": ["file", "line", "character"]
}`)

// toolSchemas defines each tool's JSON schema as a hand-written raw
// literal rather than one derived from Go struct tags.
var toolSchemas = map[dispatcher.ToolName]json.RawMessage{
	dispatcher.ToolHover:          filePositionSchema,
	dispatcher.ToolDefinition:     filePositionSchema,
	dispatcher.ToolTypeDefinition: filePositionSchema,
	dispatcher.ToolImplementation: filePositionSchema,
	dispatcher.ToolSignatureHelp:  filePositionSchema,
	dispatcher.ToolCompletion:     filePositionSchema,

	dispatcher.ToolFindReferences: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"line": {"type": "integer"},
			"character": {"type": "integer"},
			"symbol": {"type": "string", "description": "symbol name; runs a workspace/symbol lookup instead of file/line/character"},
			"include_declaration": {"type": "boolean", "default": true}
		},
		"oneOf": [
			{"required": ["file", "line", "character"]},
			{"required": ["symbol"]}
		]
	}`),

	dispatcher.ToolDocumentSymbols: json.RawMessage(`{
		"type": "object",
		"properties": {"file": {"type": "string"}},
		"required": ["file"]
	}`),

	dispatcher.ToolSearch: json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`),

	dispatcher.ToolDiagnostics: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"wait_for_reanalysis": {"type": "boolean", "default": false}
		},
		"required": ["file"]
	}`),

	dispatcher.ToolFormatting: json.RawMessage(`{
		"type": "object",
		"properties": {"file": {"type": "string"}},
		"required": ["file"]
	}`),

	dispatcher.ToolRangeFormatting: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"range": {"type": "object"}
		},
		"required": ["file", "range"]
	}`),

	dispatcher.ToolRename: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"line": {"type": "integer"},
			"character": {"type": "integer"},
			"new_name": {"type": "string"}
		},
		"required": ["file", "line", "character", "new_name"]
	}`),

	dispatcher.ToolCodeActions: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"range": {"type": "object"}
		},
		"required": ["file", "range"]
	}`),

	dispatcher.ToolApplyQuickfix: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"range": {"type": "object"}
		},
		"required": ["file", "range"]
	}`),

	dispatcher.ToolCallHierarchy: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"line": {"type": "integer"},
			"character": {"type": "integer"},
			"outgoing": {"type": "boolean", "default": false}
		},
		"required": ["file", "line", "character"]
	}`),

	dispatcher.ToolTypeHierarchy: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string"},
			"line": {"type": "integer"},
			"character": {"type": "integer"},
			"subtypes": {"type": "boolean", "default": false}
		},
		"required": ["file", "line", "character"]
	}`),

	dispatcher.ToolStatus: json.RawMessage(`{"type": "object", "properties": {}}`),

	dispatcher.ToolCodebaseMap: json.RawMessage(`{"type": "object", "properties": {}}`),

	dispatcher.ToolListDirectory: json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`),
}

var toolDescriptions = map[dispatcher.ToolName]string{
	dispatcher.ToolHover:           "Show hover information for a symbol at a document position.",
	dispatcher.ToolDefinition:      "Jump to the definition of a symbol at a document position.",
	dispatcher.ToolTypeDefinition:  "Jump to the type definition of a symbol at a document position.",
	dispatcher.ToolImplementation:  "List implementations of a symbol at a document position.",
	dispatcher.ToolFindReferences:  "List references to a symbol at a document position, or to a symbol resolved by name via a workspace symbol lookup.",
	dispatcher.ToolDocumentSymbols: "List symbols declared in a document.",
	dispatcher.ToolSearch:          "Search workspace symbols across every running language server, with a filesystem-path fallback.",
	dispatcher.ToolCompletion:      "Request completion suggestions at a document position, capped at 50 items.",
	dispatcher.ToolSignatureHelp:   "Show signature help for a call at a document position.",
	dispatcher.ToolDiagnostics:     "Fetch the current diagnostics for a document, optionally waiting for reanalysis to settle first.",
	dispatcher.ToolFormatting:      "Format an entire document.",
	dispatcher.ToolRangeFormatting: "Format a range within a document.",
	dispatcher.ToolRename:          "Propose a rename of a symbol; returns edits only, never writes to disk.",
	dispatcher.ToolCodeActions:     "List available code actions for a range.",
	dispatcher.ToolApplyQuickfix:   "List quickfix code actions for a range; returns edits only, never writes to disk.",
	dispatcher.ToolCallHierarchy:   "Show incoming or outgoing calls for a symbol at a document position.",
	dispatcher.ToolTypeHierarchy:   "Show supertypes or subtypes for a symbol at a document position.",
	dispatcher.ToolStatus:          "Report which language servers are alive and their diagnostics strategy.",
	dispatcher.ToolCodebaseMap:     "Map document symbols across every workspace root using only already-running servers.",
	dispatcher.ToolListDirectory:   "List the immediate entries of a directory without following symlinks.",
}

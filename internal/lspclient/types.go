package lspclient

import (
	"encoding/json"
	"sync"
	"time"

	"go.lsp.dev/protocol"
)

// PositionEncoding is one of the three units LSP 3.17 lets client and
// server negotiate for character offsets within a line, per §3.
type PositionEncoding string

const (
	PositionEncodingUTF8  PositionEncoding = "utf-8"
	PositionEncodingUTF16 PositionEncoding = "utf-16"
	PositionEncodingUTF32 PositionEncoding = "utf-32"
)

// Strategy is which Phase-1 signal a client's diagnostics engine uses to
// decide a round of diagnostics is complete, per §4.5.
type Strategy string

const (
	StrategyProcessMonitor Strategy = "process_monitor"
	StrategyTokenMonitor   Strategy = "token_monitor"
	StrategyVersion        Strategy = "version"
)

// ProgressState is the lifecycle of one $/progress token: a three-state
// machine rather than a bare boolean, so "never began" is distinguishable
// from "began and finished".
type ProgressState string

const (
	ProgressCreated ProgressState = "created"
	ProgressActive  ProgressState = "active"
	ProgressIdle    ProgressState = "idle"
)

// ProgressToken tracks one $/progress token's lifecycle state.
type ProgressToken struct {
	State      ProgressState
	LastUpdate time.Time
}

// DiagnosticEntry is the per-URI diagnostics cache described in §3: an
// ordered list of diagnostics, a strictly monotone generation counter
// bumped once per publish for that URI, and enough metadata for the
// two-phase wait's Phase-1 signals.
type DiagnosticEntry struct {
	Diagnostics       []protocol.Diagnostic
	Generation        uint64
	LastPublishTime   time.Time
	LastServerVersion *uint32 // nil until the server sends a versioned publish
	HasPublished      bool
}

// OpenDocument tracks one document this client has been sent didOpen for
// and not yet didClose, per §3's "a document is considered open only if..."
// invariant. ModTime and Content mirror what the server was last told the
// file looks like, so a later call can detect an out-of-band edit on disk
// without keeping every past version around.
type OpenDocument struct {
	URI             string
	LastAccessTime  time.Time
	Version         int32
	LastSentVersion int32 // version most recently sent via didChange, for the Version strategy
	ModTime         time.Time
	Content         string
}

// EventKind discriminates the small set of client-level events the
// diagnostics engine observes without needing to be woven into the reader
// task itself.
type EventKind string

const (
	EventDiagnosticsPublished EventKind = "diagnostics_published"
	EventProgress             EventKind = "progress"
	EventLogMessage           EventKind = "log_message"
	EventProcessDied          EventKind = "process_died"
)

// Event is broadcast (non-blocking, best-effort) to at most one subscriber
// per client -- normally the diagnostics engine watching this client's
// activity to drive Phase 1 and the activity-settle timer of Phase 2.
type Event struct {
	Kind       EventKind
	URI        string
	Generation uint64
	Version    *uint32
	Token      string
	State      ProgressState
	Message    string
}

// pendingRequest is the single-shot completion slot described in §3: one
// per outstanding request, removed by whichever of {response arrives,
// timeout, process death} occurs first.
type pendingRequest struct {
	method string
	respCh chan response
	once   sync.Once
}

type response struct {
	result json.RawMessage
	err    error
}

// Package diagnostics bridges LSP's push-based publishDiagnostics
// notifications with the pull semantics MCP callers need after an edit,
// via a two-phase wait: a caller snapshots a URI's generation counter
// before writing the triggering change, then waits for that counter to
// advance and settle.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/MarkWells-Dev/Catenary/internal/lspclient"
)

// processMonitorPatience decays across consecutive Phase-1 timeouts that
// produced no new diagnostics, so a server that never publishes for a
// given change pattern doesn't cost every caller a full 120-second wait.
var processMonitorPatience = []time.Duration{
	120 * time.Second,
	60 * time.Second,
	30 * time.Second,
	5 * time.Second,
}

const activitySettleWindow = 2 * time.Second

// Outcome is the result of a two-phase wait.
type Outcome struct {
	Diagnostics lspclient.DiagnosticEntry
	ServerDied  bool
}

// Engine tracks per-client ProcessMonitor patience decay and subscribes to
// client events to drive the two-phase wait. One Engine is shared across
// every client the manager owns; per-client state lives in patienceIdx,
// guarded by patienceMu since ObservePublish runs on each client's own
// reader goroutine while waitProcessMonitor runs on whatever goroutine is
// executing WaitForReanalysis -- with two or more clients alive these race
// on the same map without it.
type Engine struct {
	patienceMu  sync.Mutex
	patienceIdx map[*lspclient.Client]int
}

// New constructs an Engine.
func New() *Engine {
	return &Engine{patienceIdx: make(map[*lspclient.Client]int)}
}

func (e *Engine) patience(c *lspclient.Client) int {
	e.patienceMu.Lock()
	defer e.patienceMu.Unlock()
	return e.patienceIdx[c]
}

func (e *Engine) setPatience(c *lspclient.Client, idx int) {
	e.patienceMu.Lock()
	e.patienceIdx[c] = idx
	e.patienceMu.Unlock()
}

// ObservePublish inspects a diagnostics-published event and promotes the
// client's strategy per the promotion rules: a version match promotes to
// Version, a progress token observed in the same cycle promotes to
// TokenMonitor, and either resets ProcessMonitor patience to its most
// generous value on the theory that the server just proved it's responsive.
func (e *Engine) ObservePublish(c *lspclient.Client, uri string, sentVersion int32, sawProgressThisCycle bool) {
	entry := c.DiagnosticsSnapshot(uri)
	if entry.LastServerVersion != nil && int32(*entry.LastServerVersion) == sentVersion {
		c.PromoteStrategy(lspclient.StrategyVersion)
	} else if sawProgressThisCycle && c.Strategy() == lspclient.StrategyProcessMonitor {
		c.PromoteStrategy(lspclient.StrategyTokenMonitor)
	}
	e.setPatience(c, 0)
}

// WaitForReanalysis performs the two-phase wait described for this system.
// snapshot is the generation counter taken by the caller strictly before it
// wrote the triggering didChange/didSave; sentVersion is the version number
// attached to that change (0 if none, e.g. a didSave with no preceding
// didChange in this cycle).
func (e *Engine) WaitForReanalysis(ctx context.Context, c *lspclient.Client, uri string, snapshot uint64, sentVersion int32) Outcome {
	events := make(chan lspclient.Event, 64)
	c.SetEventSink(events)
	defer c.SetEventSink(nil)

	if !e.phaseOne(ctx, c, uri, snapshot, sentVersion, events) {
		return Outcome{Diagnostics: c.DiagnosticsSnapshot(uri), ServerDied: !c.IsAlive()}
	}
	e.phaseTwo(ctx, c, events)
	return Outcome{Diagnostics: c.DiagnosticsSnapshot(uri), ServerDied: !c.IsAlive()}
}

// phaseOne returns true once the strategy-specific signal fires, or false
// if the deadline elapsed or the server died first.
func (e *Engine) phaseOne(ctx context.Context, c *lspclient.Client, uri string, snapshot uint64, sentVersion int32, events <-chan lspclient.Event) bool {
	switch c.Strategy() {
	case lspclient.StrategyVersion:
		return e.waitVersion(ctx, c, uri, sentVersion, events)
	case lspclient.StrategyTokenMonitor:
		return e.waitTokenOrGeneration(ctx, c, uri, snapshot, events)
	default:
		return e.waitProcessMonitor(ctx, c, uri, snapshot, events)
	}
}

func (e *Engine) waitVersion(ctx context.Context, c *lspclient.Client, uri string, sentVersion int32, events <-chan lspclient.Event) bool {
	if entry := c.DiagnosticsSnapshot(uri); entry.LastServerVersion != nil && int32(*entry.LastServerVersion) >= sentVersion {
		return true
	}
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == lspclient.EventDiagnosticsPublished && ev.URI == uri && ev.Version != nil && int32(*ev.Version) >= sentVersion {
				return true
			}
			if ev.Kind == lspclient.EventProcessDied {
				return false
			}
		case <-timeout:
			return false
		case <-c.Done():
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (e *Engine) waitTokenOrGeneration(ctx context.Context, c *lspclient.Client, uri string, snapshot uint64, events <-chan lspclient.Event) bool {
	if c.Generation(uri) > snapshot {
		return true
	}
	timeout := time.After(30 * time.Second)
	sawActive := false
	for {
		select {
		case ev := <-events:
			switch {
			case ev.Kind == lspclient.EventDiagnosticsPublished && ev.URI == uri && ev.Generation > snapshot:
				return true
			case ev.Kind == lspclient.EventProgress && ev.State == lspclient.ProgressActive:
				sawActive = true
			case ev.Kind == lspclient.EventProgress && ev.State == lspclient.ProgressIdle && sawActive:
				return true
			case ev.Kind == lspclient.EventProcessDied:
				return false
			}
		case <-timeout:
			return false
		case <-c.Done():
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (e *Engine) waitProcessMonitor(ctx context.Context, c *lspclient.Client, uri string, snapshot uint64, events <-chan lspclient.Event) bool {
	if c.Generation(uri) > snapshot {
		return true
	}
	idx := e.patience(c)
	if idx >= len(processMonitorPatience) {
		idx = len(processMonitorPatience) - 1
	}
	patience := processMonitorPatience[idx]
	deadline := time.NewTimer(patience)
	defer deadline.Stop()

	pid, hasPid := c.Pid()
	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()
	var lastTicks uint64
	var haveLastTicks bool
	settledPolls := 0

	for {
		select {
		case ev := <-events:
			if ev.Kind == lspclient.EventDiagnosticsPublished && ev.URI == uri && ev.Generation > snapshot {
				e.setPatience(c, 0)
				return true
			}
			if ev.Kind == lspclient.EventProcessDied {
				return false
			}
		case <-pollTicker.C:
			if !hasPid {
				continue
			}
			ticks, err := cpuTicks(pid)
			if err != nil {
				continue
			}
			if haveLastTicks && ticks == lastTicks {
				settledPolls++
			} else {
				settledPolls = 0
			}
			lastTicks = ticks
			haveLastTicks = true
			if settledPolls >= 2 && c.Generation(uri) > snapshot {
				return true
			}
		case <-deadline.C:
			if idx+1 < len(processMonitorPatience) {
				e.setPatience(c, idx+1)
			}
			return false
		case <-c.Done():
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// phaseTwo waits for activity to settle: any diagnostics publish or active
// progress token resets a 2-second silence timer; the wait ends when the
// timer fires uninterrupted.
func (e *Engine) phaseTwo(ctx context.Context, c *lspclient.Client, events <-chan lspclient.Event) {
	timer := time.NewTimer(activitySettleWindow)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Kind == lspclient.EventDiagnosticsPublished || (ev.Kind == lspclient.EventProgress && ev.State == lspclient.ProgressActive) {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(activitySettleWindow)
			}
		case <-timer.C:
			return
		case <-c.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// NudgeAndRetry sends a didSave nudge after didChange when the server's
// advertised textDocumentSync.save capability doesn't rule it out: some
// servers only emit diagnostics on save. A single attempt, no loop.
func NudgeAndRetry(ctx context.Context, c *lspclient.Client, uri string) error {
	if c.SaveCapabilitySuppressesNudge() {
		return nil
	}
	return c.Save(ctx, uri)
}

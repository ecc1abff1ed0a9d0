// Package manager owns the set of live LSP clients, one per language: a
// shared-exclusive lock over a language-keyed client map, eager start at
// workspace-scan time, lazy spawn on first use. Re-entrant spawns are
// deduplicated with golang.org/x/sync/singleflight so concurrent
// get-or-spawn calls for the same language share one spawn attempt rather
// than merely serializing.
package manager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
	"github.com/MarkWells-Dev/Catenary/internal/config"
	"github.com/MarkWells-Dev/Catenary/internal/logging"
	"github.com/MarkWells-Dev/Catenary/internal/lspclient"
	"github.com/MarkWells-Dev/Catenary/internal/lspuri"
	"github.com/MarkWells-Dev/Catenary/internal/metrics"
	"github.com/MarkWells-Dev/Catenary/internal/pathsec"
)

const (
	spawnRetryBaseDelay = 500 * time.Millisecond
	spawnRetryMaxDelay  = 4 * time.Second
	maxSpawnAttempts    = 2

	// spawnRateLimit bounds how often the manager launches child processes
	// across all languages combined, so a workspace with many misconfigured
	// servers can't busy-loop forking on every incoming tool call.
	spawnRateLimit = rate.Limit(1) // one spawn attempt per second, sustained
	spawnRateBurst = 4
)

// Manager owns at most one lspclient.Client per language, per §4.4's
// invariant, and the workspace-root set shared across all of them.
type Manager struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[string]*lspclient.Client
	roots   []string

	activityMu sync.Mutex
	activity   map[string]time.Time // per-language time of last GetOrSpawn/GetIfAlive hit

	descriptors func(language string) (config.ServerDescriptor, bool)
	validator   *pathsec.Validator

	idleTimeout time.Duration

	spawnGroup singleflight.Group
	spawnLimit *rate.Limiter

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// New constructs a Manager. descriptors resolves a language id to its
// configured (or compiled-default) server command; validator is notified
// whenever the root set changes.
func New(roots []string, idleTimeout time.Duration, descriptors func(string) (config.ServerDescriptor, bool), validator *pathsec.Validator) *Manager {
	return &Manager{
		logger:      logging.New("manager"),
		clients:     make(map[string]*lspclient.Client),
		activity:    make(map[string]time.Time),
		roots:       append([]string(nil), roots...),
		descriptors: descriptors,
		validator:   validator,
		idleTimeout: idleTimeout,
		spawnLimit:  rate.NewLimiter(spawnRateLimit, spawnRateBurst),
		sweepStop:   make(chan struct{}),
	}
}

// GetOrSpawn returns the live client for language, spawning and
// initializing one if absent or dead. Concurrent callers for the same
// language during spawn share one underlying attempt via singleflight, per
// §4.4's re-entrancy requirement.
func (m *Manager) GetOrSpawn(ctx context.Context, language string) (*lspclient.Client, error) {
	if c := m.getIfAlive(language); c != nil {
		return c, nil
	}

	result, err, _ := m.spawnGroup.Do(language, func() (interface{}, error) {
		if c := m.getIfAlive(language); c != nil {
			return c, nil
		}
		return m.spawnAndInitialize(ctx, language)
	})
	if err != nil {
		return nil, err
	}
	return result.(*lspclient.Client), nil
}

func (m *Manager) spawnAndInitialize(ctx context.Context, language string) (*lspclient.Client, error) {
	descriptor, ok := m.descriptors(language)
	if !ok {
		return nil, catenaryerrors.MethodNotSupported(language, "initialize")
	}

	var lastErr error
	delay := spawnRetryBaseDelay
	start := time.Now()
	for attempt := 1; attempt <= maxSpawnAttempts; attempt++ {
		if err := m.spawnLimit.Wait(ctx); err != nil {
			return nil, err
		}
		c := lspclient.New(language, descriptor)
		if err := c.Spawn(ctx); err != nil {
			lastErr = err
		} else if _, err := c.Initialize(ctx, m.Roots(), 30*time.Second); err != nil {
			lastErr = err
		} else {
			m.mu.Lock()
			m.clients[language] = c
			m.mu.Unlock()
			m.markActive(language)
			metrics.ObserveSpawn(language, start, nil)
			metrics.SetAlive(language, true)
			return c, nil
		}
		metrics.ObserveSpawn(language, start, lastErr)

		if attempt < maxSpawnAttempts {
			m.logger.Printf("spawn attempt %d for %s failed: %v, retrying in %s", attempt, language, lastErr, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > spawnRetryMaxDelay {
				delay = spawnRetryMaxDelay
			}
		}
	}
	return nil, catenaryerrors.SpawnFailed(language, lastErr)
}

func (m *Manager) getIfAlive(language string) *lspclient.Client {
	m.mu.RLock()
	c, ok := m.clients[language]
	m.mu.RUnlock()
	if ok && c.IsAlive() {
		m.markActive(language)
		return c
	}
	return nil
}

// GetIfAlive is the non-spawning lookup used by broadcast tools that must
// never trigger a spawn cascade, per §4.4.
func (m *Manager) GetIfAlive(language string) *lspclient.Client {
	return m.getIfAlive(language)
}

// markActive records language as having been used just now, resetting its
// idle clock. Called on every successful GetOrSpawn/GetIfAlive hit and on
// spawn, so a client kept alive purely by broadcast tools (search, status,
// codebase_map) that never open a document still survives idle sweeps.
func (m *Manager) markActive(language string) {
	m.activityMu.Lock()
	m.activity[language] = time.Now()
	m.activityMu.Unlock()
}

// idleSince returns when language was last active, and whether it has ever
// been recorded at all.
func (m *Manager) idleSince(language string) (time.Time, bool) {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()
	t, ok := m.activity[language]
	return t, ok
}

// AliveClients returns a snapshot of every currently-alive client.
func (m *Manager) AliveClients() map[string]*lspclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*lspclient.Client, len(m.clients))
	for lang, c := range m.clients {
		if c.IsAlive() {
			out[lang] = c
		}
	}
	return out
}

// EagerStart spawns a client for each language in languages in parallel;
// failures are logged and do not block the others, per §4.4.
func (m *Manager) EagerStart(ctx context.Context, languages []string) {
	var wg sync.WaitGroup
	for _, lang := range languages {
		wg.Add(1)
		go func(language string) {
			defer wg.Done()
			if _, err := m.GetOrSpawn(ctx, language); err != nil {
				m.logger.Printf("eager start failed for %s: %v", language, err)
			}
		}(lang)
	}
	wg.Wait()
}

// Roots returns a snapshot of the current workspace root set.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.roots...)
}

// AddRoot canonicalizes path, adds it to the root set, notifies the path
// validator, and sends one workspace/didChangeWorkspaceFolders per alive
// client carrying the addition. A server's rejection is logged, not fatal.
func (m *Manager) AddRoot(ctx context.Context, path string) (string, error) {
	canonical, err := m.validator.AddRoot(path)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	for _, r := range m.roots {
		if r == canonical {
			m.mu.Unlock()
			return canonical, nil
		}
	}
	m.roots = append(m.roots, canonical)
	m.mu.Unlock()

	m.notifyWorkspaceFolders(ctx, []string{canonical}, nil)
	return canonical, nil
}

// RemoveRoot is AddRoot's inverse.
func (m *Manager) RemoveRoot(ctx context.Context, path string) (string, error) {
	canonical, err := m.validator.RemoveRoot(path)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	filtered := m.roots[:0]
	found := false
	for _, r := range m.roots {
		if r != canonical {
			filtered = append(filtered, r)
		} else {
			found = true
		}
	}
	m.roots = filtered
	m.mu.Unlock()

	if found {
		m.notifyWorkspaceFolders(ctx, nil, []string{canonical})
	}
	return canonical, nil
}

func (m *Manager) notifyWorkspaceFolders(ctx context.Context, added, removed []string) {
	toFolder := func(root string) map[string]string {
		return map[string]string{"uri": lspuri.FromPath(root)}
	}
	addedFolders := make([]map[string]string, 0, len(added))
	for _, r := range added {
		addedFolders = append(addedFolders, toFolder(r))
	}
	removedFolders := make([]map[string]string, 0, len(removed))
	for _, r := range removed {
		removedFolders = append(removedFolders, toFolder(r))
	}

	var wg sync.WaitGroup
	for lang, c := range m.AliveClients() {
		wg.Add(1)
		go func(language string, client *lspclient.Client) {
			defer wg.Done()
			err := client.Notify(ctx, "workspace/didChangeWorkspaceFolders", map[string]interface{}{
				"event": map[string]interface{}{"added": addedFolders, "removed": removedFolders},
			})
			if err != nil {
				m.logger.Printf("workspace folder update rejected by %s: %v", language, err)
			}
		}(lang, c)
	}
	wg.Wait()
}

// StartIdleSweep runs IdleSweep on a periodic timer until StopIdleSweep is
// called or ctx is cancelled.
func (m *Manager) StartIdleSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.IdleSweep(ctx)
			case <-m.sweepStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopIdleSweep stops the periodic sweep started by StartIdleSweep.
func (m *Manager) StopIdleSweep() {
	m.sweepOnce.Do(func() { close(m.sweepStop) })
}

// IdleSweep tears down clients that have both no open documents and no
// recorded activity (GetOrSpawn/GetIfAlive hit) within the configured idle
// timeout, and closes individual documents that have been unused that long
// even on otherwise-active clients. A client with no recorded activity yet
// is treated as idle from the moment it stops holding documents.
func (m *Manager) IdleSweep(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.idleTimeout)

	for lang, c := range m.AliveClients() {
		if !c.HasOpenDocuments() {
			since, known := m.idleSince(lang)
			if known && since.After(cutoff) {
				continue // used more recently than idle_timeout_seconds ago
			}
			m.mu.RLock()
			_, tracked := m.clients[lang]
			m.mu.RUnlock()
			if tracked {
				m.logger.Printf("idle sweep: shutting down %s", lang)
				if err := c.Shutdown(ctx, 5*time.Second); err != nil {
					m.logger.Printf("idle shutdown of %s failed: %v", lang, err)
				}
				m.mu.Lock()
				delete(m.clients, lang)
				m.mu.Unlock()
				metrics.SetAlive(lang, false)
			}
			continue
		}

		for _, uri := range c.IdleDocuments(cutoff) {
			if err := c.Close(ctx, uri); err != nil {
				m.logger.Printf("idle document close failed for %s %s: %v", lang, uri, err)
			}
		}
	}
}

// ShutdownAll concurrently shuts down every client, returning once all
// have exited or grace has elapsed.
func (m *Manager) ShutdownAll(grace time.Duration) {
	m.StopIdleSweep()

	m.mu.RLock()
	clients := make(map[string]*lspclient.Client, len(m.clients))
	for lang, c := range m.clients {
		clients[lang] = c
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for lang, c := range clients {
		wg.Add(1)
		go func(language string, client *lspclient.Client) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			if err := client.Shutdown(ctx, grace); err != nil {
				m.logger.Printf("shutdown of %s failed: %v", language, err)
			}
			metrics.SetAlive(language, false)
		}(lang, c)
	}
	wg.Wait()

	m.mu.Lock()
	m.clients = make(map[string]*lspclient.Client)
	m.mu.Unlock()
}

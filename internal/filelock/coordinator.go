// Package filelock provides advisory, owner-keyed locking over files under
// a workspace, so cooperating AI-agent processes see a consistent view of
// who holds what: a per-lock JSON info file on disk, fsnotify for
// external-change detection, and a grace period after release. Locks here
// are logical (an opaque owner string, not an os-level Flock) since the
// point is coordinating cooperating agents rather than excluding unrelated
// readers.
package filelock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
	"github.com/MarkWells-Dev/Catenary/internal/logging"
	"github.com/MarkWells-Dev/Catenary/internal/metrics"
)

// lockInfo is the on-disk representation of one held (or recently
// released) lock, shared between cooperating processes via the session
// lock directory.
type lockInfo struct {
	Path          string    `json:"path"`
	Owner         string    `json:"owner"`
	AcquiredAt    time.Time `json:"acquired_at"`
	GraceDeadline time.Time `json:"grace_deadline,omitempty"`
}

func (l lockInfo) inGrace(now time.Time) bool {
	return !l.GraceDeadline.IsZero() && now.Before(l.GraceDeadline)
}

func (l lockInfo) heldByOther(owner string, now time.Time) bool {
	if l.Owner == owner {
		return false
	}
	if l.GraceDeadline.IsZero() {
		return true // still actively held, not in a release grace window
	}
	return now.Before(l.GraceDeadline)
}

// Coordinator manages advisory locks and read-mtime tracking for one
// session directory on disk, per §4.7.
type Coordinator struct {
	dir    string
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]lockInfo // canonical path -> current lock state

	readMu sync.Mutex
	reads  map[readKey]time.Time // (owner, path) -> mtime observed at track_read

	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex
	watched   map[string]struct{}
}

type readKey struct {
	owner string
	path  string
}

// New creates a Coordinator whose on-disk state lives under dir (created
// mode 0700 if absent, matching the session directory's permission
// convention).
func New(dir string) (*Coordinator, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		dir:     dir,
		logger:  logging.New("filelock"),
		locks:   make(map[string]lockInfo),
		reads:   make(map[readKey]time.Time),
		watcher: watcher,
		watched: make(map[string]struct{}),
	}
	c.loadExisting()
	go c.watchLoop()
	return c, nil
}

// loadExisting hydrates the in-memory lock table from *.lock.json files
// already on disk, so a hook process started against the same directory as
// a running core process observes locks that process holds instead of
// racing it.
func (c *Coordinator) loadExisting() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		var info lockInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		if info.Path == "" {
			continue
		}
		c.locks[info.Path] = info
		c.addWatch(info.Path)
	}
}

// Close stops the file watcher. It does not release held locks; callers
// that own locks are expected to Release them explicitly.
func (c *Coordinator) Close() error {
	return c.watcher.Close()
}

func (c *Coordinator) lockInfoPath(canonical string) string {
	hash := sha256.Sum256([]byte(canonical))
	return filepath.Join(c.dir, hex.EncodeToString(hash[:])[:16]+".lock.json")
}

// AcquireResult reports the outcome of Acquire, including a stale-read
// warning that is orthogonal to whether the lock itself was granted.
type AcquireResult struct {
	StaleRead    bool
	StaleReadOld time.Time
	StaleReadNew time.Time
}

// Acquire attempts to grant path to owner, waiting up to timeout if another
// owner currently holds it (including its release grace window). It
// returns catenaryerrors.LockDenied on timeout.
func (c *Coordinator) Acquire(canonical, owner string, timeout time.Duration) (AcquireResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		existing, held := c.locks[canonical]
		now := time.Now()
		if !held || !existing.heldByOther(owner, now) {
			c.locks[canonical] = lockInfo{Path: canonical, Owner: owner, AcquiredAt: now}
			c.mu.Unlock()
			if err := c.persist(canonical); err != nil {
				c.logger.Printf("failed to persist lock info for %s: %v", c.lockInfoPath(canonical), err)
			}
			c.addWatch(canonical)
			result := c.checkStaleRead(canonical, owner)
			if result.StaleRead {
				metrics.LockOutcomes.WithLabelValues("stale_read").Inc()
			}
			metrics.LockOutcomes.WithLabelValues("granted").Inc()
			return result, nil
		}
		c.mu.Unlock()

		if time.Now().After(deadline) {
			metrics.LockOutcomes.WithLabelValues("denied").Inc()
			return AcquireResult{}, catenaryerrors.LockDenied(canonical, existing.Owner)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *Coordinator) checkStaleRead(canonical, owner string) AcquireResult {
	c.readMu.Lock()
	trackedMtime, ok := c.reads[readKey{owner: owner, path: canonical}]
	c.readMu.Unlock()
	if !ok {
		return AcquireResult{}
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return AcquireResult{}
	}
	if !info.ModTime().Equal(trackedMtime) {
		return AcquireResult{StaleRead: true, StaleReadOld: trackedMtime, StaleReadNew: info.ModTime()}
	}
	return AcquireResult{}
}

// Release marks path as released by owner, entering a grace window during
// which the same owner may re-acquire immediately but others are denied.
func (c *Coordinator) Release(canonical, owner string, grace time.Duration) error {
	c.mu.Lock()
	existing, held := c.locks[canonical]
	if !held || existing.Owner != owner {
		c.mu.Unlock()
		return nil // releasing a lock we don't hold is a no-op, mirroring the manager's ErrLockNotHeld tolerance
	}
	existing.GraceDeadline = time.Now().Add(grace)
	c.locks[canonical] = existing
	c.mu.Unlock()

	if err := c.persist(canonical); err != nil {
		c.logger.Printf("failed to persist release for %s: %v", c.lockInfoPath(canonical), err)
	}
	if grace <= 0 {
		c.forget(canonical)
	}
	return nil
}

func (c *Coordinator) forget(canonical string) {
	c.mu.Lock()
	delete(c.locks, canonical)
	c.mu.Unlock()
	_ = os.Remove(c.lockInfoPath(canonical))
	c.removeWatch(canonical)
}

// TrackRead records path's current mtime against owner, so a later Acquire
// can detect whether the file changed underneath a read-only consumer.
func (c *Coordinator) TrackRead(canonical, owner string) error {
	info, err := os.Stat(canonical)
	if err != nil {
		return err
	}
	c.readMu.Lock()
	c.reads[readKey{owner: owner, path: canonical}] = info.ModTime()
	c.readMu.Unlock()
	return nil
}

func (c *Coordinator) persist(canonical string) error {
	c.mu.Lock()
	info, ok := c.locks[canonical]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.lockInfoPath(canonical), data, 0o600)
}

func (c *Coordinator) addWatch(canonical string) {
	c.watcherMu.Lock()
	defer c.watcherMu.Unlock()
	if _, ok := c.watched[canonical]; ok {
		return
	}
	if err := c.watcher.Add(canonical); err != nil {
		c.logger.Printf("failed to watch %s: %v", canonical, err)
		return
	}
	c.watched[canonical] = struct{}{}
}

func (c *Coordinator) removeWatch(canonical string) {
	c.watcherMu.Lock()
	defer c.watcherMu.Unlock()
	if _, ok := c.watched[canonical]; !ok {
		return
	}
	_ = c.watcher.Remove(canonical)
	delete(c.watched, canonical)
}

func (c *Coordinator) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.logger.Printf("external change detected on locked file: %s", event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Printf("watcher error: %v", err)
		}
	}
}

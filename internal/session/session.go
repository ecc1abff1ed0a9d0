// Package session manages the on-disk sidecar state for one running core
// process: a PID file, a workspace-roots file, a known-roots journal, and
// an event-stream pipe for `monitor`, all under a directory scoped by a
// generated session id. YAML (gopkg.in/yaml.v3) is used for the journal's
// on-disk shape; the session directory and every file under it are
// 0700/0600 since they carry per-user process state.
package session

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MarkWells-Dev/Catenary/internal/logging"
)

const (
	dirMode  = 0o700
	fileMode = 0o600

	pidFilename    = "pid"
	rootsFilename  = "roots.yaml"
	journalFile    = "journal.yaml"
	socketFilename = "events.sock"
)

// RootEntry is one discovered-or-configured workspace root, journaled with
// the transcript offset at which it was added. `list` reads the roots file,
// not this journal, and `monitor` reads neither.
type RootEntry struct {
	Path             string    `yaml:"path"`
	AddedAt          time.Time `yaml:"added_at"`
	TranscriptOffset int64     `yaml:"transcript_offset"`
}

// Journal is the known-roots sidecar file: every root the process has ever
// been told about, in the order it learned about them.
type Journal struct {
	Roots []RootEntry `yaml:"roots"`
}

// Info is the subset of session state `list` needs to report per running
// process, decoded straight from the sidecar files.
type Info struct {
	ID          string   `json:"id"`
	PID         int      `json:"pid"`
	Dir         string   `json:"dir"`
	Roots       []string `json:"roots"`
	Alive       bool     `json:"alive"`
}

// Session owns the sidecar files and event socket for one running process.
// baseDir is typically the parent "sessions" directory; the session's own
// files live under baseDir/<id>/.
type Session struct {
	ID  string
	Dir string

	logger *logging.Logger

	mu      sync.Mutex
	journal Journal

	listener net.Listener
	subsMu   sync.Mutex
	subs     []chan []byte
}

// New generates a fresh session id and creates its directory (mode 0700)
// under baseDir.
func New(baseDir string) (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &Session{ID: id, Dir: dir, logger: logging.New("session")}, nil
}

// WritePID persists the current process id.
func (s *Session) WritePID() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(filepath.Join(s.Dir, pidFilename), data, fileMode)
}

// WriteRoots persists the current workspace-root set, overwriting any
// previous contents; this is the file `list` reads for the "roots" column.
func (s *Session) WriteRoots(roots []string) error {
	return WriteRootsAt(s.Dir, roots)
}

// WriteRootsAt overwrites the roots file for the session directory dir
// directly, without an in-memory Session. Used by the sync-roots hook,
// which runs as a separate short-lived process from the one holding the
// live Session.
func WriteRootsAt(dir string, roots []string) error {
	data, err := yaml.Marshal(struct {
		Roots []string `yaml:"roots"`
	}{Roots: roots})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, rootsFilename), data, fileMode)
}

// AppendRoot records a newly discovered or added root in the journal along
// with the transcript offset it was learned at, and flushes the journal to
// disk.
func (s *Session) AppendRoot(path string, transcriptOffset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal.Roots = append(s.journal.Roots, RootEntry{
		Path:             path,
		AddedAt:          time.Now(),
		TranscriptOffset: transcriptOffset,
	})
	return s.flushJournalLocked()
}

func (s *Session) flushJournalLocked() error {
	data, err := yaml.Marshal(s.journal)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, journalFile), data, fileMode)
}

// ListenEvents opens the event-stream socket that `monitor` attaches to.
// Every call to Publish fans out to every currently-connected subscriber;
// slow subscribers are dropped rather than allowed to block publication.
func (s *Session) ListenEvents() error {
	sockPath := filepath.Join(s.Dir, socketFilename)
	_ = os.Remove(sockPath)
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listening on event socket: %w", err)
	}
	if err := os.Chmod(sockPath, fileMode); err != nil {
		l.Close()
		return err
	}
	s.listener = l

	go s.acceptLoop()
	return nil
}

func (s *Session) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed on Close()
		}
		ch := make(chan []byte, 32)
		s.subsMu.Lock()
		s.subs = append(s.subs, ch)
		s.subsMu.Unlock()

		go func() {
			defer conn.Close()
			for msg := range ch {
				if _, err := conn.Write(append(msg, '\n')); err != nil {
					return
				}
			}
		}()
	}
}

// Event is one line of the monitor stream.
type Event struct {
	Time time.Time   `json:"time"`
	Kind string      `json:"kind"`
	Data interface{} `json:"data,omitempty"`
}

// Publish encodes ev as JSON and fans it out to every connected monitor.
func (s *Session) Publish(kind string, data interface{}) {
	body, err := json.Marshal(Event{Time: time.Now(), Kind: kind, Data: data})
	if err != nil {
		s.logger.Printf("failed to encode event %s: %v", kind, err)
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	live := s.subs[:0]
	for _, ch := range s.subs {
		select {
		case ch <- body:
			live = append(live, ch)
		default:
			close(ch) // subscriber too slow to keep up; drop it
		}
	}
	s.subs = live
}

// Close removes the event socket and stops accepting new monitor
// connections. It does not delete the session directory, so `list` can
// still report the process's last-known roots after it exits.
func (s *Session) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Discover lists every session directory under baseDir and reports its
// PID-liveness, for the `list` CLI command.
func Discover(baseDir string) ([]Info, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())
		info, ok := readInfo(entry.Name(), dir)
		if ok {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func readInfo(id, dir string) (Info, bool) {
	pidData, err := os.ReadFile(filepath.Join(dir, pidFilename))
	if err != nil {
		return Info{}, false
	}
	pid, err := strconv.Atoi(string(pidData))
	if err != nil {
		return Info{}, false
	}

	var rootsFile struct {
		Roots []string `yaml:"roots"`
	}
	if data, err := os.ReadFile(filepath.Join(dir, rootsFilename)); err == nil {
		_ = yaml.Unmarshal(data, &rootsFile)
	}

	return Info{
		ID:    id,
		PID:   pid,
		Dir:   dir,
		Roots: rootsFile.Roots,
		Alive: processAlive(pid),
	}, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes existence
	// without affecting the process, per the standard os.Process idiom.
	return proc.Signal(syscall.Signal(0)) == nil
}

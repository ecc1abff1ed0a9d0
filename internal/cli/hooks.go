// Hook commands implement §6's host-CLI integration surface: each reads one
// JSON object from stdin, performs the corresponding core operation, writes
// one JSON object to stdout, and exits 0 with empty output on any failure
// so a misbehaving hook can never block the host CLI it's wired into.
package cli

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarkWells-Dev/Catenary/internal/filelock"
	"github.com/MarkWells-Dev/Catenary/internal/session"
)

func init() {
	rootCmd.AddCommand(acquireCmd, releaseCmd, trackReadCmd, notifyCmd, syncRootsCmd)
}

// runHook reads one JSON request from stdin, invokes fn, and writes fn's
// result as JSON to stdout. Any error at any stage is swallowed: the
// process still exits 0 with no output, per the hooks' silent-failure
// contract.
func runHook(cmd *cobra.Command, fn func(json.RawMessage) (interface{}, error)) error {
	body, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil
	}
	result, err := fn(body)
	if err != nil || result == nil {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	_, _ = cmd.OutOrStdout().Write(encoded)
	return nil
}

// sessionForWorkspace locates the running session one of whose roots is
// workspace itself or an ancestor of it, so a hook invoked from anywhere under a
// workspace tree finds the right lock/event state.
func sessionForWorkspace(workspace string) (session.Info, bool) {
	baseDir, err := sessionsBaseDir()
	if err != nil {
		return session.Info{}, false
	}
	infos, err := session.Discover(baseDir)
	if err != nil {
		return session.Info{}, false
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		abs = workspace
	}
	for _, info := range infos {
		if !info.Alive {
			continue
		}
		for _, root := range info.Roots {
			if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
				return info, true
			}
		}
	}
	return session.Info{}, false
}

func lockDirFor(info session.Info) string {
	return filepath.Join(info.Dir, "locks")
}

type hookLockRequest struct {
	Workspace string `json:"workspace"`
	Path      string `json:"path"`
	Owner     string `json:"owner"`
	TimeoutMS int64  `json:"timeout_ms"`
	GraceMS   int64  `json:"grace_ms"`
}

var acquireCmd = &cobra.Command{
	Use:    "acquire",
	Short:  "Acquire an advisory lock for a host-CLI edit (hook command)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHook(cmd, func(body json.RawMessage) (interface{}, error) {
			var req hookLockRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			info, ok := sessionForWorkspace(req.Workspace)
			if !ok {
				return nil, os.ErrNotExist
			}
			coord, err := filelock.New(lockDirFor(info))
			if err != nil {
				return nil, err
			}
			defer coord.Close()

			timeout := time.Duration(req.TimeoutMS) * time.Millisecond
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			canonical, err := filepath.Abs(req.Path)
			if err != nil {
				return nil, err
			}
			result, err := coord.Acquire(canonical, req.Owner, timeout)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"granted":        true,
				"stale_read":     result.StaleRead,
				"stale_read_old": result.StaleReadOld,
				"stale_read_new": result.StaleReadNew,
			}, nil
		})
	},
}

var releaseCmd = &cobra.Command{
	Use:    "release",
	Short:  "Release an advisory lock (hook command)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHook(cmd, func(body json.RawMessage) (interface{}, error) {
			var req hookLockRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			info, ok := sessionForWorkspace(req.Workspace)
			if !ok {
				return nil, os.ErrNotExist
			}
			coord, err := filelock.New(lockDirFor(info))
			if err != nil {
				return nil, err
			}
			defer coord.Close()

			grace := time.Duration(req.GraceMS) * time.Millisecond
			canonical, err := filepath.Abs(req.Path)
			if err != nil {
				return nil, err
			}
			if err := coord.Release(canonical, req.Owner, grace); err != nil {
				return nil, err
			}
			return map[string]interface{}{"released": true}, nil
		})
	},
}

var trackReadCmd = &cobra.Command{
	Use:    "track-read",
	Short:  "Record the mtime a host CLI observed when reading a file (hook command)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHook(cmd, func(body json.RawMessage) (interface{}, error) {
			var req hookLockRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			info, ok := sessionForWorkspace(req.Workspace)
			if !ok {
				return nil, os.ErrNotExist
			}
			coord, err := filelock.New(lockDirFor(info))
			if err != nil {
				return nil, err
			}
			defer coord.Close()

			canonical, err := filepath.Abs(req.Path)
			if err != nil {
				return nil, err
			}
			if err := coord.TrackRead(canonical, req.Owner); err != nil {
				return nil, err
			}
			return map[string]interface{}{"tracked": true}, nil
		})
	},
}

type hookNotifyRequest struct {
	Workspace string      `json:"workspace"`
	Kind      string      `json:"kind"`
	Data      interface{} `json:"data"`
}

var notifyCmd = &cobra.Command{
	Use:    "notify",
	Short:  "Forward a host-CLI event onto a session's event stream (hook command)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHook(cmd, func(body json.RawMessage) (interface{}, error) {
			var req hookNotifyRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			info, ok := sessionForWorkspace(req.Workspace)
			if !ok {
				return nil, os.ErrNotExist
			}
			if err := appendNotification(info.Dir, req.Kind, req.Data); err != nil {
				return nil, err
			}
			return map[string]interface{}{"notified": true}, nil
		})
	},
}

// appendNotification records a hook-originated event alongside the session's
// journal. It is a separate process from the one holding the live event
// socket, so it can't push directly onto the socket's fan-out; monitor
// consumers that need hook-originated events read this file directly.
func appendNotification(dir, kind string, data interface{}) error {
	f, err := os.OpenFile(filepath.Join(dir, "notifications.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(session.Event{Time: time.Now(), Kind: kind, Data: data})
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

type hookSyncRootsRequest struct {
	Workspace string   `json:"workspace"`
	Roots     []string `json:"roots"`
}

var syncRootsCmd = &cobra.Command{
	Use:    "sync-roots",
	Short:  "Overwrite a session's known workspace roots (hook command)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHook(cmd, func(body json.RawMessage) (interface{}, error) {
			var req hookSyncRootsRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			info, ok := sessionForWorkspace(req.Workspace)
			if !ok {
				return nil, os.ErrNotExist
			}
			if err := session.WriteRootsAt(info.Dir, req.Roots); err != nil {
				return nil, err
			}
			return map[string]interface{}{"synced": true, "count": len(req.Roots)}, nil
		})
	},
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSessionForWorkspaceMatchesLiveSessionByPrefix(t *testing.T) {
	base := t.TempDir()
	sessionDir := filepath.Join(base, "abc")
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		t.Fatal(err)
	}
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(sessionDir, "pid"), []byte("1"), 0o600); err != nil {
		t.Fatal(err)
	}
	rootsYAML := "roots:\n  - " + workspace + "\n"
	if err := os.WriteFile(filepath.Join(sessionDir, "roots.yaml"), []byte(rootsYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CATENARY_SESSIONS_DIR", base)

	info, ok := sessionForWorkspace(filepath.Join(workspace, "nested", "file.go"))
	if !ok {
		t.Fatal("expected to find the session by workspace-path prefix; pid 1 (init) is always alive on Linux")
	}
	if info.ID != "abc" {
		t.Errorf("expected session id 'abc', got %q", info.ID)
	}
}

func TestSessionForWorkspaceNoMatch(t *testing.T) {
	base := t.TempDir()
	t.Setenv("CATENARY_SESSIONS_DIR", base)

	if _, ok := sessionForWorkspace(t.TempDir()); ok {
		t.Fatal("expected no session found in an empty sessions directory")
	}
}

func TestRunHookSwallowsDecodeErrors(t *testing.T) {
	cmd := acquireCmd
	cmd.SetIn(bytes.NewBufferString("not json"))
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := runHook(cmd, func(body json.RawMessage) (interface{}, error) {
		var req hookLockRequest
		return nil, json.Unmarshal(body, &req)
	})
	if err != nil {
		t.Fatalf("expected nil error from runHook even on decode failure, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output on failure, got %q", out.String())
	}
}

func TestAppendNotificationWritesLine(t *testing.T) {
	dir := t.TempDir()
	if err := appendNotification(dir, "root_added", map[string]string{"path": "/x"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "notifications.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty notifications.jsonl")
	}
}

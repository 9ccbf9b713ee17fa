package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type change struct {
	sessionID string
	path      string
	op        string
}

func TestWatcherHubNotifiesOnWrite(t *testing.T) {
	m := newTestManager(t, testSandboxConfig(t), newFakeRuntime())
	ws := m.WorkspacePath("s1")
	require.NoError(t, os.MkdirAll(ws, 0o755))

	changes := make(chan change, 16)
	hub := NewWatcherHub(m, func(sessionID, path, op string) {
		changes <- change{sessionID, path, op}
	}, nil)
	require.NoError(t, hub.Start("s1"))
	defer hub.Stop("s1")

	require.NoError(t, os.WriteFile(filepath.Join(ws, "main.go"), []byte("package main\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.path == "main.go" {
				require.Equal(t, "s1", c.sessionID)
				require.Contains(t, []string{"create", "write"}, c.op)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for file change notification")
		}
	}
}

func TestWatcherHubStopIsIdempotentPerSession(t *testing.T) {
	m := newTestManager(t, testSandboxConfig(t), newFakeRuntime())
	require.NoError(t, os.MkdirAll(m.WorkspacePath("s1"), 0o755))

	hub := NewWatcherHub(m, nil, nil)
	require.NoError(t, hub.Start("s1"))
	require.NoError(t, hub.Start("s1"))

	hub.Stop("s1")
	hub.Stop("s1")
	hub.StopAll()
}

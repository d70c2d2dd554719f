package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForFile polls until path exists on disk.
func WaitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, "file "+path)
}

// WaitForStem polls until some file in dir carries the given stem,
// returning its filename.
func WaitForStem(t *testing.T, dir, stem string, timeout time.Duration) string {
	t.Helper()
	var found string
	WaitFor(t, timeout, func() bool {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return false
		}
		for _, e := range entries {
			name := e.Name()
			if strings.TrimSuffix(name, filepath.Ext(name)) == stem {
				found = name
				return true
			}
		}
		return false
	}, "stem "+stem+" in "+dir)
	return found
}

// WaitForGone polls until no file in dir carries the given stem.
func WaitForGone(t *testing.T, dir, stem string, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return true
		}
		for _, e := range entries {
			name := e.Name()
			if strings.TrimSuffix(name, filepath.Ext(name)) == stem {
				return false
			}
		}
		return true
	}, "stem "+stem+" gone from "+dir)
}

// Package testutil holds helpers shared by package tests: fake XAgent
// checkouts, free ports and polling.
package testutil

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// markers mirrors the files an XAgent checkout must contain.
var markers = []string{"run.py", "XAgent/__init__.py", "XAgent/core.py"}

// FakeXAgentHome creates a directory that passes installation checks. The
// entry script run.py contains script, meant to be run with /bin/sh.
func FakeXAgentHome(t *testing.T, script string) string {
	t.Helper()
	home := t.TempDir()
	for _, m := range markers {
		path := filepath.Join(home, filepath.FromSlash(m))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating %s: %v", path, err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	if err := os.WriteFile(filepath.Join(home, "run.py"), []byte(script), 0755); err != nil {
		t.Fatalf("writing run.py: %v", err)
	}
	return home
}

// AnswerScript returns an entry script that prints some noise followed by a
// structured result line.
func AnswerScript(answer string, steps ...string) string {
	stepsJSON := "["
	for i, s := range steps {
		if i > 0 {
			stepsJSON += ","
		}
		stepsJSON += fmt.Sprintf("%q", s)
	}
	stepsJSON += "]"
	return fmt.Sprintf("echo 'XAgent booting'\necho '{\"answer\": %q, \"steps\": %s}'\n", answer, stepsJSON)
}

// FailScript returns an entry script that writes message to stderr and exits with code.
func FailScript(message string, code int) string {
	return fmt.Sprintf("echo '%s' >&2\nexit %d\n", message, code)
}

// FreePort returns a TCP port that was free when asked.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocating port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// WaitForHealthy waits for a URL to return 200 OK
func WaitForHealthy(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("Service at %s did not become healthy within %v", url, timeout)
}

// Eventually retries a condition until it returns true or timeout expires
func Eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Condition did not become true within timeout")
}

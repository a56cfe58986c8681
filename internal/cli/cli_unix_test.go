//go:build unix

package cli

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phobos.org.uk/xbridge/internal/api"
	"phobos.org.uk/xbridge/internal/patch"
	"phobos.org.uk/xbridge/internal/testutil"
)

// writeConfig writes a bridge config pointing at home and returns its path.
func writeConfig(t *testing.T, home, interpreter string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	data := fmt.Sprintf("history_dir: %q\nxagent:\n  home: %q\n  interpreter: %q\n",
		t.TempDir(), home, interpreter)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

// fakePython writes an interpreter that reports version.
func fakePython(t *testing.T, version string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python")
	script := fmt.Sprintf("#!/bin/sh\necho %s\n", version)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestRunCommand_Local(t *testing.T) {
	t.Parallel()

	home := testutil.FakeXAgentHome(t, testutil.AnswerScript("Paris", "search", "answer"))
	cfg := writeConfig(t, home, "/bin/sh")

	out, err := execute(t, "run", "--config", cfg, "--opt", "model=gpt-4", "capital", "of", "France")
	require.NoError(t, err)
	assert.Contains(t, out, "Steps:\n  1. search\n  2. answer\n")
	assert.Contains(t, out, "Answer:\nParis\n")
}

func TestRunCommand_LocalFailure(t *testing.T) {
	t.Parallel()

	home := testutil.FakeXAgentHome(t, testutil.FailScript("boom", 3))
	cfg := writeConfig(t, home, "/bin/sh")

	out, err := execute(t, "run", "--config", cfg, "anything")
	require.ErrorContains(t, err, "task failed: running xagent: boom")
	assert.Contains(t, out, "Error: running xagent: boom")
}

func TestRunCommand_InvalidHome(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, t.TempDir(), "/bin/sh")
	_, err := execute(t, "run", "--config", cfg, "anything")
	require.ErrorContains(t, err, "run.py")
}

func TestRunCommand_Remote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		api.WriteJSON(w, http.StatusOK, api.Response{Output: "42", IntermediateSteps: []string{}, Success: true})
	}))
	defer srv.Close()

	out, err := execute(t, "run", "--remote", srv.URL, "--token", "tok", "meaning of life")
	require.NoError(t, err)
	assert.Equal(t, "Answer:\n42\n", out)
}

func TestDoctorCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		home    func(t *testing.T) string
		version string
		wantErr string
		want    []string
	}{
		{
			name:    "healthy",
			home:    func(t *testing.T) string { return testutil.FakeXAgentHome(t, "") },
			version: "3.11",
			want:    []string{"[PASS] run.py", "[WARN] config file", "(Python 3.11)", "looks good"},
		},
		{
			name:    "old interpreter",
			home:    func(t *testing.T) string { return testutil.FakeXAgentHome(t, "") },
			version: "3.8",
			wantErr: "1 check(s) failed",
			want:    []string{"[FAIL] interpreter", "need 3.10 or newer"},
		},
		{
			name:    "empty checkout",
			home:    func(t *testing.T) string { return t.TempDir() },
			version: "3.12",
			wantErr: "3 check(s) failed",
			want:    []string{"[FAIL] run.py", "[FAIL] XAgent/core.py"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := writeConfig(t, tt.home(t), fakePython(t, tt.version))

			out, err := execute(t, "doctor", "--config", cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestDisableRedisCommand(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	global := filepath.Join(home, filepath.FromSlash(patch.GlobalValFile))
	require.NoError(t, os.MkdirAll(filepath.Dir(global), 0755))
	require.NoError(t, os.WriteFile(global, []byte("from XAgentServer.exts.redis_ext import RedisClient\nredis = RedisClient()\n"), 0644))

	out, err := execute(t, "disable-redis", "--xagent-home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "patched "+patch.GlobalValFile)
	assert.Contains(t, out, "created "+patch.RedisExtFile)

	out, err = execute(t, "disable-redis", "--xagent-home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "already uses the mock")
}

func TestDisableRedisCommand_MissingGlobalVal(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "disable-redis", "--xagent-home", t.TempDir())
	require.ErrorIs(t, err, patch.ErrGlobalValMissing)
}

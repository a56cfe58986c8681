package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"phobos.org.uk/xbridge/internal/xagent"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name: "minimal config",
			yaml: "xagent:\n  home: /opt/XAgent\n",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, DefaultPort, cfg.Port)
				require.Equal(t, DefaultBind, cfg.Bind)
				require.Equal(t, DefaultLogLevel, cfg.LogLevel)
				require.Equal(t, "/opt/XAgent/config/xagent_config.yaml", cfg.XAgent.ConfigFile)
				require.Equal(t, "python3", cfg.XAgent.Interpreter)
				require.Equal(t, "run.py", cfg.XAgent.Entry)
				require.Equal(t, 5, cfg.XAgent.FallbackLines)
				require.Equal(t, "fallback", cfg.XAgent.MissingAnswer)
				require.Zero(t, cfg.XAgent.Timeout)
				require.Equal(t, "memory", cfg.Store.Backend)
				require.Empty(t, cfg.Store.Dir)
			},
		},
		{
			name: "full config",
			yaml: `
port: 9200
bind: 0.0.0.0
name: research
log_level: debug
history_dir: /var/lib/xbridge/history
xagent:
  home: /opt/XAgent
  config_file: /etc/xagent.yaml
  interpreter: /usr/bin/python3.11
  timeout: 45m
  fallback_lines: 3
  missing_answer: empty
  repair_json: true
  defaults:
    model: gpt-4
    max_subtask_chain_length: 15
    quiet: true
store:
  backend: badger
  dir: /var/lib/xbridge/store
auth:
  token_hash: $argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "0.0.0.0:9200", cfg.Addr())
				require.Equal(t, "/var/lib/xbridge/history", cfg.HistoryDir)
				require.Equal(t, 45*time.Minute, cfg.XAgent.Timeout)
				require.Equal(t, xagent.Options{
					{Key: "model", Value: "gpt-4"},
					{Key: "max_subtask_chain_length", Value: 15},
					{Key: "quiet", Value: true},
				}, cfg.XAgent.Defaults)

				s := cfg.XAgentSettings()
				require.Equal(t, "/etc/xagent.yaml", s.ConfigFile)
				require.Equal(t, "/usr/bin/python3.11", s.Interpreter)
				require.Equal(t, xagent.MissingAnswerEmpty, s.Parse.MissingAnswer)
				require.Equal(t, 3, s.Parse.FallbackLines)
				require.True(t, s.Parse.RepairJSON)

				require.Equal(t, "badger", cfg.StoreOptions().Backend)
				require.Equal(t, "/var/lib/xbridge/store", cfg.StoreOptions().Dir)
				require.NotEmpty(t, cfg.Auth.TokenHash)
			},
		},
		{
			name:    "invalid port zero",
			yaml:    "port: 0",
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "invalid port too high",
			yaml:    "port: 70000",
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "invalid log level",
			yaml:    "log_level: chatty",
			wantErr: "log_level must be",
		},
		{
			name:    "sub-second timeout",
			yaml:    "xagent:\n  timeout: 100ms\n",
			wantErr: "xagent.timeout must be 0 or at least 1 second",
		},
		{
			name:    "invalid fallback window",
			yaml:    "xagent:\n  fallback_lines: 0\n",
			wantErr: "xagent.fallback_lines must be at least 1",
		},
		{
			name:    "invalid missing answer policy",
			yaml:    "xagent:\n  missing_answer: strict\n",
			wantErr: "xagent.missing_answer must be fallback or empty",
		},
		{
			name:    "invalid backend",
			yaml:    "store:\n  backend: redis\n",
			wantErr: "store.backend must be memory or badger",
		},
		{
			name:    "nested option default",
			yaml:    "xagent:\n  defaults:\n    model:\n      name: gpt-4\n",
			wantErr: "must be a scalar",
		},
		{
			name:    "malformed yaml",
			yaml:    "port: [",
			wantErr: "parsing config",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse([]byte(tt.yaml))

			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestParse_BadgerDirDerived(t *testing.T) {
	t.Setenv("XBRIDGE_ROOT", "/srv/xbridge")

	cfg, err := Parse([]byte("name: lab\nstore:\n  backend: badger\n"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/srv/xbridge", "store", "lab"), cfg.Store.Dir)
	require.Equal(t, filepath.Join("/srv/xbridge", "history", "lab"), cfg.HistoryDir)
}

func TestParse_TLS(t *testing.T) {
	t.Setenv("XBRIDGE_ROOT", "/srv/xbridge")

	cfg, err := Parse([]byte("name: lab\nport: 9443\ntls:\n  enabled: true\n"))
	require.NoError(t, err)
	require.Equal(t, "/srv/xbridge/tls/lab.crt", cfg.TLS.CertFile)
	require.Equal(t, "/srv/xbridge/tls/lab.key", cfg.TLS.KeyFile)
	require.Equal(t, "https://127.0.0.1:9443", cfg.URL())

	cfg, err = Parse([]byte("tls:\n  cert_file: /etc/x.crt\n"))
	require.NoError(t, err)
	require.Equal(t, "/etc/x.crt", cfg.TLS.CertFile)
	require.Empty(t, cfg.TLS.KeyFile)
	require.Equal(t, "http://127.0.0.1:9100", cfg.URL())
}

func TestDefault_Environment(t *testing.T) {
	t.Setenv("XBRIDGE_ROOT", "/srv/xbridge")
	t.Setenv("XAGENT_HOME", "/opt/XAgent")

	cfg := Default()
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, "/opt/XAgent", cfg.XAgent.Home)
	require.Equal(t, "/opt/XAgent/config/xagent_config.yaml", cfg.XAgent.ConfigFile)
	require.Equal(t, "/srv/xbridge/history/bridge", cfg.HistoryDir)
	require.NoError(t, cfg.Validate())
}

func TestDefaultXAgentHome_WorkingDirectory(t *testing.T) {
	t.Setenv("XAGENT_HOME", "")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(wd, "XAgent"), DefaultXAgentHome())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "xbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9300\nxagent:\n  home: /opt/XAgent\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9300, cfg.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "reading config file")
}

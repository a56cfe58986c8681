package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"phobos.org.uk/xbridge/internal/kvstore"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/xagent"
)

// Config represents the bridge configuration
type Config struct {
	Port       int          `yaml:"port"`
	Bind       string       `yaml:"bind"`
	Name       string       `yaml:"name"` // Bridge name (used for history directory)
	LogLevel   string       `yaml:"log_level"`
	HistoryDir string       `yaml:"history_dir"` // Directory for task history storage
	XAgent     XAgentConfig `yaml:"xagent"`
	Store      StoreConfig  `yaml:"store"`
	Auth       AuthConfig   `yaml:"auth"`
	TLS        TLSConfig    `yaml:"tls"`
}

// XAgentConfig locates the XAgent checkout and controls how its output is read.
type XAgentConfig struct {
	Home          string         `yaml:"home"`
	ConfigFile    string         `yaml:"config_file"`
	Interpreter   string         `yaml:"interpreter"`
	Entry         string         `yaml:"entry"`
	Timeout       time.Duration  `yaml:"timeout"` // 0 disables
	FallbackLines int            `yaml:"fallback_lines"`
	MissingAnswer string         `yaml:"missing_answer"`
	RepairJSON    bool           `yaml:"repair_json"`
	Defaults      xagent.Options `yaml:"defaults,omitempty"`
}

// StoreConfig selects the key-value backend used for task status.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// AuthConfig holds the bearer token hash. Empty disables auth.
type AuthConfig struct {
	TokenHash string `yaml:"token_hash"`
}

// TLSConfig enables HTTPS. Missing certificate files are generated self-signed.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Defaults
const (
	DefaultPort          = 9100
	DefaultBind          = "127.0.0.1"
	DefaultName          = "bridge"
	DefaultLogLevel      = "info"
	DefaultFallbackLines = xagent.DefaultFallbackLines
	DefaultMissingAnswer = string(xagent.MissingAnswerFallback)
	DefaultStoreBackend  = kvstore.BackendMemory
)

func defaults() *Config {
	return &Config{
		Port:     DefaultPort,
		Bind:     DefaultBind,
		Name:     DefaultName,
		LogLevel: DefaultLogLevel,
		XAgent: XAgentConfig{
			Interpreter:   xagent.DefaultInterpreter,
			Entry:         xagent.DefaultEntryScript,
			FallbackLines: DefaultFallbackLines,
			MissingAnswer: DefaultMissingAnswer,
		},
		Store: StoreConfig{Backend: DefaultStoreBackend},
	}
}

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.derive()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Default returns a config with default values
func Default() *Config {
	cfg := defaults()
	cfg.derive()
	return cfg
}

// derive fills paths left empty from the environment.
func (c *Config) derive() {
	if c.HistoryDir == "" {
		c.HistoryDir = DefaultHistoryPath(c.Name)
	}
	if c.XAgent.Home == "" {
		c.XAgent.Home = DefaultXAgentHome()
	}
	if c.XAgent.ConfigFile == "" {
		c.XAgent.ConfigFile = filepath.Join(c.XAgent.Home, xagent.DefaultConfigFile)
	}
	if c.Store.Backend == kvstore.BackendBadger && c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(Root(), "store", c.Name)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			c.TLS.CertFile = filepath.Join(Root(), "tls", c.Name+".crt")
		}
		if c.TLS.KeyFile == "" {
			c.TLS.KeyFile = filepath.Join(Root(), "tls", c.Name+".key")
		}
	}
}

// Validate checks config validity
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch c.LogLevel {
	case string(logging.LevelDebug), string(logging.LevelInfo), string(logging.LevelWarn), string(logging.LevelError):
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.XAgent.Timeout != 0 && c.XAgent.Timeout < time.Second {
		return fmt.Errorf("xagent.timeout must be 0 or at least 1 second, got %v", c.XAgent.Timeout)
	}

	if c.XAgent.FallbackLines < 1 {
		return fmt.Errorf("xagent.fallback_lines must be at least 1, got %d", c.XAgent.FallbackLines)
	}

	if !xagent.MissingAnswerPolicy(c.XAgent.MissingAnswer).Valid() {
		return fmt.Errorf("xagent.missing_answer must be fallback or empty, got %q", c.XAgent.MissingAnswer)
	}

	switch c.Store.Backend {
	case kvstore.BackendMemory, kvstore.BackendBadger:
	default:
		return fmt.Errorf("store.backend must be memory or badger, got %q", c.Store.Backend)
	}

	return nil
}

// Addr is the listen address of the HTTP service.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// URL is the base URL clients use to reach the bridge.
func (c *Config) URL() string {
	scheme := "http"
	if c.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Addr())
}

// XAgentSettings converts the xagent section into facade settings.
func (c *Config) XAgentSettings() xagent.Settings {
	return xagent.Settings{
		Home:        c.XAgent.Home,
		ConfigFile:  c.XAgent.ConfigFile,
		Interpreter: c.XAgent.Interpreter,
		EntryScript: c.XAgent.Entry,
		Timeout:     c.XAgent.Timeout,
		Defaults:    c.XAgent.Defaults,
		Parse: xagent.ParseOptions{
			FallbackLines: c.XAgent.FallbackLines,
			MissingAnswer: xagent.MissingAnswerPolicy(c.XAgent.MissingAnswer),
			RepairJSON:    c.XAgent.RepairJSON,
		},
	}
}

// StoreOptions converts the store section into kvstore options.
func (c *Config) StoreOptions() kvstore.Options {
	return kvstore.Options{Backend: c.Store.Backend, Dir: c.Store.Dir}
}

// Root returns XBRIDGE_ROOT, or ~/.xbridge when unset.
func Root() string {
	if root := os.Getenv("XBRIDGE_ROOT"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".xbridge")
}

// DefaultHistoryPath returns the default history directory path for a bridge.
func DefaultHistoryPath(name string) string {
	return filepath.Join(Root(), "history", name)
}

// DefaultXAgentHome returns XAGENT_HOME, or ./XAgent relative to the working directory.
func DefaultXAgentHome() string {
	if home := os.Getenv("XAGENT_HOME"); home != "" {
		return home
	}
	wd, err := os.Getwd()
	if err != nil {
		return "XAgent"
	}
	return filepath.Join(wd, "XAgent")
}

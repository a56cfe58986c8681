// Package cli implements the xa-cli command tree.
package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phobos.org.uk/xbridge/internal/config"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/xagent"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Flag and environment keys. Each key can also be set as XBRIDGE_<KEY> with
// dashes replaced by underscores.
const (
	keyConfig     = "config"
	keyXAgentHome = "xagent-home"
	keyLogLevel   = "log-level"
	keyRemote     = "remote"
	keyToken      = "token"
)

// app carries state shared by subcommands.
type app struct {
	v       *viper.Viper
	version string
}

// NewRootCommand creates the xa-cli root command.
func NewRootCommand(version string) *cobra.Command {
	a := &app{v: viper.New(), version: version}
	a.v.SetEnvPrefix("XBRIDGE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "xa-cli",
		Short:         "Run and maintain an XAgent installation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "bridge config file (YAML)")
	flags.String(keyXAgentHome, "", "XAgent checkout (default $XAGENT_HOME or ./XAgent)")
	flags.String(keyLogLevel, "", "log level: debug, info, warn or error")
	for _, key := range []string{keyConfig, keyXAgentHome, keyLogLevel} {
		a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		a.newRunCommand(),
		a.newDoctorCommand(),
		a.newDisableRedisCommand(),
		newHashTokenCommand(),
		newCapabilitiesCommand(),
		a.newVersionCommand(),
	)
	return root
}

// loadConfig resolves the effective configuration: file, then flags and environment.
func (a *app) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := a.v.GetString(keyConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if home := a.v.GetString(keyXAgentHome); home != "" {
		if cfg.XAgent.ConfigFile == filepath.Join(cfg.XAgent.Home, xagent.DefaultConfigFile) {
			cfg.XAgent.ConfigFile = filepath.Join(home, xagent.DefaultConfigFile)
		}
		cfg.XAgent.Home = home
	}
	if level := a.v.GetString(keyLogLevel); level != "" {
		cfg.LogLevel = string(logging.ParseLevel(level))
	}
	return cfg, cfg.Validate()
}

func (a *app) logger(cfg *config.Config, w io.Writer) *logging.Logger {
	return logging.New(logging.Config{
		Output:    w,
		Level:     logging.ParseLevel(cfg.LogLevel),
		Component: "xa-cli",
	})
}

func printCheck(w io.Writer, ok bool, format string, args ...any) {
	status := green("PASS")
	if !ok {
		status = red("FAIL")
	}
	fmt.Fprintf(w, "[%s] %s\n", status, fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[%s] %s\n", yellow("WARN"), fmt.Sprintf(format, args...))
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"phobos.org.uk/xbridge/internal/patch"
	"phobos.org.uk/xbridge/internal/xagent"
)

// Minimum interpreter version XAgent runs on.
const (
	minPythonMajor = 3
	minPythonMinor = 10
)

const pythonVersionScript = "import sys; print('%d.%d' % sys.version_info[:2])"

func (a *app) newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the XAgent installation is usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			settings := cfg.XAgentSettings()
			failed := 0

			fmt.Fprintf(out, "XAgent home: %s\n", bold(settings.Home))
			for _, marker := range xagent.MarkerFiles {
				_, err := os.Stat(filepath.Join(settings.Home, filepath.FromSlash(marker)))
				printCheck(out, err == nil, "%s", marker)
				if err != nil {
					failed++
				}
			}

			if _, err := os.Stat(settings.ConfigFile); err != nil {
				printWarn(out, "config file %s not found", settings.ConfigFile)
			} else {
				printCheck(out, true, "config file %s", settings.ConfigFile)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			version, err := interpreterVersion(ctx, settings.Interpreter)
			switch {
			case err != nil:
				printCheck(out, false, "interpreter %s: %v", settings.Interpreter, err)
				failed++
			case !versionAtLeast(version, minPythonMajor, minPythonMinor):
				printCheck(out, false, "interpreter %s is Python %s, need %d.%d or newer",
					settings.Interpreter, version, minPythonMajor, minPythonMinor)
				failed++
			default:
				printCheck(out, true, "interpreter %s (Python %s)", settings.Interpreter, version)
			}

			global := filepath.Join(settings.Home, filepath.FromSlash(patch.GlobalValFile))
			if data, err := os.ReadFile(global); err == nil && !strings.Contains(string(data), "MockRedisClient") {
				printWarn(out, "server still uses Redis; run 'xa-cli disable-redis' to use the mock")
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Fprintln(out, green("XAgent installation looks good"))
			return nil
		},
	}
}

// interpreterVersion asks the interpreter for its major.minor version.
func interpreterVersion(ctx context.Context, interpreter string) (string, error) {
	if interpreter == "" {
		interpreter = xagent.DefaultInterpreter
	}
	out, err := exec.CommandContext(ctx, interpreter, "-c", pythonVersionScript).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func versionAtLeast(version string, major, minor int) bool {
	majStr, minStr, ok := strings.Cut(version, ".")
	if !ok {
		return false
	}
	gotMajor, err := strconv.Atoi(majStr)
	if err != nil {
		return false
	}
	gotMinor, err := strconv.Atoi(minStr)
	if err != nil {
		return false
	}
	if gotMajor != major {
		return gotMajor > major
	}
	return gotMinor >= minor
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"phobos.org.uk/xbridge/internal/adapter"
	"phobos.org.uk/xbridge/internal/client"
	"phobos.org.uk/xbridge/internal/history"
	"phobos.org.uk/xbridge/internal/xagent"
)

func (a *app) newRunCommand() *cobra.Command {
	var opts []string

	cmd := &cobra.Command{
		Use:   "run <task...>",
		Short: "Run a task on XAgent and print the answer",
		Long: `Run a task on XAgent, either in-process against a local checkout or
on a bridge started with xa-bridge when --remote is given.

Options are passed as --opt key=value. Values are read as YAML scalars, so
--opt max_retry_times=3 sends a number and --opt quiet=true a boolean.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			parsed, err := parseOptions(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var resp adapter.Response
			if remote := a.v.GetString(keyRemote); remote != "" {
				resp, err = a.runRemote(ctx, remote, task, parsed)
			} else {
				resp, err = a.runLocal(ctx, cmd.ErrOrStderr(), task, parsed)
			}
			if err != nil {
				return err
			}

			printResponse(cmd.OutOrStdout(), resp)
			if !resp.Success {
				return fmt.Errorf("task failed: %s", resp.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&opts, "opt", "o", nil, "task option as key=value (repeatable)")
	cmd.Flags().String(keyRemote, "", "bridge URL, e.g. http://127.0.0.1:9100")
	cmd.Flags().String(keyToken, "", "bearer token for the bridge")
	a.v.BindPFlag(keyRemote, cmd.Flags().Lookup(keyRemote))
	a.v.BindPFlag(keyToken, cmd.Flags().Lookup(keyToken))
	return cmd
}

func (a *app) runLocal(ctx context.Context, logOut io.Writer, task string, opts xagent.Options) (adapter.Response, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return adapter.Response{}, err
	}
	log := a.logger(cfg, logOut)

	deps := xagent.Deps{Logger: log}
	if hist, err := history.NewStore(cfg.HistoryDir); err != nil {
		log.Warn("history disabled", map[string]any{"error": err.Error()})
	} else {
		deps.History = hist
	}

	x, err := xagent.New(cfg.XAgentSettings(), deps)
	if err != nil {
		return adapter.Response{}, err
	}
	return adapter.New(x).Run(ctx, task, opts), nil
}

func (a *app) runRemote(ctx context.Context, url, task string, opts xagent.Options) (adapter.Response, error) {
	resp, err := client.New(url, a.v.GetString(keyToken)).Run(ctx, task, opts)
	if err != nil {
		return adapter.Response{}, err
	}
	return adapter.Response{
		Output:            resp.Output,
		IntermediateSteps: resp.IntermediateSteps,
		Success:           resp.Success,
		ErrorMessage:      resp.ErrorMessage,
	}, nil
}

// parseOptions turns key=value pairs into ordered options. Values are decoded
// as YAML scalars; an empty value is the empty string.
func parseOptions(pairs []string) (xagent.Options, error) {
	var opts xagent.Options
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q: expected key=value", pair)
		}

		var value any = ""
		if raw != "" {
			if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
				return nil, fmt.Errorf("invalid value for option %q: %w", key, err)
			}
			switch value.(type) {
			case string, bool, int, float64, nil:
			default:
				// Lists and maps are passed through verbatim.
				value = raw
			}
		}
		opts = opts.With(key, value)
	}
	return opts, nil
}

func printResponse(w io.Writer, resp adapter.Response) {
	if !resp.Success {
		fmt.Fprintf(w, "%s %s\n", red("Error:"), resp.ErrorMessage)
		return
	}
	if len(resp.IntermediateSteps) > 0 {
		fmt.Fprintln(w, bold("Steps:"))
		for i, step := range resp.IntermediateSteps {
			fmt.Fprintf(w, "  %s %s\n", cyan(fmt.Sprintf("%d.", i+1)), step)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, bold("Answer:"))
	fmt.Fprintln(w, resp.Output)
}

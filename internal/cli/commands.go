package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"phobos.org.uk/xbridge/internal/patch"
	"phobos.org.uk/xbridge/internal/server"
	"phobos.org.uk/xbridge/internal/xagent"
)

func (a *app) newDisableRedisCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-redis",
		Short: "Patch the XAgent server to use an in-memory Redis mock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			report, err := patch.DisableRedis(cfg.XAgent.Home)
			if report.MockWritten {
				fmt.Fprintf(out, "%s wrote %s\n", green("✓"), patch.MockRedisFile)
			}
			if err != nil {
				return err
			}

			switch {
			case report.GlobalValPatched:
				fmt.Fprintf(out, "%s patched %s\n", green("✓"), patch.GlobalValFile)
			case report.AlreadyPatched:
				fmt.Fprintf(out, "%s %s already uses the mock\n", yellow("-"), patch.GlobalValFile)
			}
			if report.RedisExtCreated {
				fmt.Fprintf(out, "%s created %s\n", green("✓"), patch.RedisExtFile)
			}
			fmt.Fprintln(out, "Redis disabled for", cfg.XAgent.Home)
			return nil
		},
	}
}

func newHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the auth.token_hash value for a bridge token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newCapabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List what XAgent can do",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, c := range xagent.Capabilities() {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
		},
	}
}

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xa-cli %s\n", a.version)
		},
	}
}

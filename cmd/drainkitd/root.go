package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/drainkit/config"
	"github.com/vinayprograms/drainkit/shutdown"
)

// version is injected via ldflags.
var version = "dev"

// Process exit codes.
const (
	exitOK      = 0
	exitStartup = 1
	exitFault   = shutdown.ExitCodeCoordinatorFault
)

// exitCodeErr carries an exit code for the process. When returned from a
// command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "drainkitd",
		Short:         "HTTP service with graceful shutdown",
		Long:          "drainkitd serves HTTP traffic and, on SIGTERM, SIGINT or a sentinel file, stops admitting work, drains in-flight requests and releases resources in reverse order.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "drainkitd %s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
				return nil
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cmd, cfg)
		},
	}
	root.PersistentFlags().StringP("config", "c", "drainkit.toml", "path to the TOML config file")
	root.Flags().BoolP("version", "V", false, "print version and build metadata")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: drain timeout %s, listening on %s\n",
				cfg.DrainTimeout(), cfg.HTTP.Addr)
			return nil
		},
	}
	root.AddCommand(checkCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
	root.AddCommand(configCmd)

	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, cfg *config.Config) error {
	a, err := newApp(cmd.Context(), cfg, cmd.OutOrStdout(), exitFunc)
	if err != nil {
		return err
	}
	if code := a.run(); code != exitOK {
		return exitCodeErr(code)
	}
	return nil
}

// runApp runs the root command with the given args and returns the exit
// code: 0 on a complete or partial shutdown, 1 on a startup failure, 70 on
// a coordinator fault.
func runApp(args []string) int {
	root := newRootCommand()
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return exitStartup
	}
	return exitOK
}

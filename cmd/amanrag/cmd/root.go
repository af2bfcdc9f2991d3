// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	debug      bool
	configFile string
	dir        string

	profile  profiling.Options
	session  *profiling.Session
	cleanups []func()
}

// loadConfig reads the layered configuration, or only --config when set.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile != "" {
		return config.LoadFile(o.configFile)
	}
	return config.Load(o.dir)
}

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Multi-signal retrieval fusion engine",
		Long: `amanrag answers a query by searching a dense vector index, a sparse
term index and a knowledge graph in parallel, then fusing the ranked
lists with weighted Reciprocal Rank Fusion.

Load a corpus with 'amanrag load', query it with 'amanrag query', or
expose it to AI assistants with 'amanrag serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.amanrag/logs/")
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Use only this config file (defaults and env still apply)")
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", ".", "Project directory searched for .amanrag.yaml")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return opts.start(c)
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return opts.stop()
	}

	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLoadCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newEvalCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start sets up logging and profiling. Debug logs go to the log file only;
// stdio serving must keep stdout and stderr clean.
func (o *rootOptions) start(cmd *cobra.Command) error {
	if o.debug {
		cleanup, err := logging.SetupDefault(logging.StdioConfig("debug"))
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		o.cleanups = append(o.cleanups, cleanup)
		slog.Debug("debug_logging_enabled",
			slog.String("command", cmd.Name()),
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if o.profile.Enabled() {
		session, err := profiling.Start(o.profile)
		if err != nil {
			o.runCleanups()
			return err
		}
		o.session = session
	}
	return nil
}

// stop finishes profiling and runs cleanups in reverse order.
func (o *rootOptions) stop() error {
	var err error
	if o.session != nil {
		err = o.session.Stop()
		o.session = nil
	}
	o.runCleanups()
	return err
}

func (o *rootOptions) runCleanups() {
	for i := len(o.cleanups) - 1; i >= 0; i-- {
		o.cleanups[i]()
	}
	o.cleanups = nil
}

// setupCommandLogging installs the file logger at the configured level
// unless --debug already did.
func (o *rootOptions) setupCommandLogging(cfg *config.Config) {
	if o.debug {
		return
	}
	cleanup, err := logging.SetupDefault(logging.StdioConfig(cfg.Server.LogLevel))
	if err != nil {
		return
	}
	o.cleanups = append(o.cleanups, cleanup)
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		reportError(output.New(os.Stderr), err)
	}
	return err
}

// reportError prints err with its suggestion, if any.
func reportError(out *output.Writer, err error) {
	out.Error(err.Error())
	var ae *amerrors.AmanError
	if errors.As(err, &ae) && ae.Suggestion != "" {
		out.Statusf(" ", "hint: %s", ae.Suggestion)
	}
}

package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/swapguard/internal/config"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/gate"
	"github.com/ggonzalez94/swapguard/internal/logging"
	"github.com/ggonzalez94/swapguard/internal/model"
	"github.com/ggonzalez94/swapguard/internal/out"
	"github.com/ggonzalez94/swapguard/internal/policy"
	"github.com/ggonzalez94/swapguard/internal/registry"
	"github.com/ggonzalez94/swapguard/internal/schema"
	"github.com/ggonzalez94/swapguard/internal/store"
	"github.com/ggonzalez94/swapguard/internal/version"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  os.Stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	logger      zerolog.Logger
	registry    *registry.Registry
	store       *store.Store
	g           *gate.Gate
	root        *cobra.Command
	lastCommand string
	started     time.Time
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zerolog.Nop(), registry: registry.Default()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Safety gate between a conversational planner and a DeFi swap executor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			s.started = s.runner.now()
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.logger = logging.NewWithWriter(settings.Log, s.runner.stderr)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			if len(settings.RPCOverrides) > 0 {
				reg, err := registry.New(registry.WithRPCOverrides(settings.RPCOverrides))
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "apply rpc overrides", err)
				}
				s.registry = reg
			}

			if settings.AuditEnabled && shouldOpenStore(path) && s.store == nil {
				st, err := store.Open(settings.AuditPath, settings.AuditLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open audit store", err)
				}
				s.store = st
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.EnableTools, "enable-tools", "", "Allowlist planner tools (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Request timeout for RPC and broadcaster calls")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries for retryable failures")
	cmd.PersistentFlags().StringVar(&s.flags.ClientID, "client-id", "", "Rate-limit identity for this caller")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error, off)")
	cmd.PersistentFlags().BoolVar(&s.flags.NoAudit, "no-audit", false, "Do not persist security audit records")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newValidateCommand())
	cmd.AddCommand(s.newBalanceCommand())
	cmd.AddCommand(s.newScreenCommand())
	cmd.AddCommand(s.newSanitizeCommand())
	cmd.AddCommand(s.newErrorsCommand())
	cmd.AddCommand(s.newBackoffCommand())
	cmd.AddCommand(s.newPlanCommand())
	cmd.AddCommand(s.newAuditCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	var tools bool
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema or planner tool definitions",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tools {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), schema.Tools(s.registry), nil)
			}
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	cmd.Flags().BoolVar(&tools, "tools", false, "Print planner tool definitions instead of the command tree")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.renderOptions())
}

// renderError writes the error envelope to stderr. Selection and
// results-only never apply to errors.
func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	opts := s.renderOptions()
	if opts.Mode == "" {
		opts.Mode = "json"
	}
	opts.ResultsOnly = false
	opts.Select = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error:   out.ErrorBody(err),
		Meta:    s.meta(commandPath),
	}
	if renderErr := out.Render(s.runner.stderr, env, opts); renderErr != nil {
		_, _ = fmt.Fprintf(s.runner.stderr, "error: %v\n", err)
	}
}

func (s *runtimeState) renderOptions() out.Options {
	return out.Options{
		Mode:        s.settings.OutputMode,
		Select:      s.settings.SelectFields,
		ResultsOnly: s.settings.ResultsOnly,
	}
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	now := s.runner.now()
	m := model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: now.UTC(),
		Command:   commandPath,
	}
	if !s.started.IsZero() {
		m.LatencyMS = now.Sub(s.started).Milliseconds()
	}
	return m
}

func (s *runtimeState) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close audit store")
		}
		s.store = nil
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// shouldOpenStore lists the commands that read or write audit records.
func shouldOpenStore(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "screen", "audit list", "audit plans", "audit plan", "serve":
		return true
	default:
		return false
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

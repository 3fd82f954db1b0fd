package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/config"
	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/out"
	"github.com/ggonzalez94/swapdesk/internal/policy"
	"github.com/ggonzalez94/swapdesk/internal/schema"
	"github.com/ggonzalez94/swapdesk/internal/version"
)

const defaultCLIUser = "cli"

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	userID   string
	settings config.Settings
	logger   *zap.Logger
	root     *cobra.Command
	path     string
	deps     *deps

	lastProviders []model.ProviderStatus
	// errData rides along in the error envelope, e.g. the tx hash of a
	// reverted swap.
	errData any
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.deps != nil {
		s.deps.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "Custodial swap desk for Base",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			s.path = trimRootPath(cmd.CommandPath())
			if err := policy.CheckCommandAllowed(settings.EnableCommands, s.path); err != nil {
				return err
			}
			logger, err := logging.New(settings.LogLevel, settings.LogFormat)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.logger = logger.With(zap.String("command", s.path))
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Aggregator and price request timeout")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries per aggregator request")
	pf.StringVar(&s.flags.RPCURLs, "rpc-urls", "", "Ordered RPC endpoints (comma-separated)")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.StringVar(&s.flags.EnvFile, "env-file", "", "Path to a .env file")
	pf.StringVar(&s.userID, "user", defaultCLIUser, "User id the command acts for")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newRPCCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newWithdrawCommand())
	cmd.AddCommand(s.newWalletCommand())
	cmd.AddCommand(s.newBalanceCommand())
	cmd.AddCommand(s.newTradesCommand())
	cmd.AddCommand(s.newSettingsCommand())
	cmd.AddCommand(s.newAlertsCommand())
	cmd.AddCommand(s.newTokenCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// services builds the trading stack on first use. Custody is only required
// for commands that sign or change wallets.
func (s *runtimeState) services(broadcaster events.Broadcaster) (*deps, error) {
	if s.deps != nil {
		return s.deps, nil
	}
	needCustody := policy.Mutating(s.path) || strings.TrimSpace(s.settings.WalletSecret) != ""
	d, err := buildDeps(s.settings, s.logger, broadcaster, needCustody)
	if err != nil {
		return nil, err
	}
	s.deps = d
	return d, nil
}

func (s *runtimeState) user() (string, error) {
	u := strings.TrimSpace(s.userID)
	if u == "" {
		return "", clierr.New(clierr.CodeUsage, "--user must not be empty")
	}
	return u, nil
}

func (s *runtimeState) commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
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
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(data, nil)
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Swap aggregator commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List swap aggregators in fallback order and their key requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(providerInfos(s.settings), nil)
		},
	})
	return root
}

func (s *runtimeState) emitSuccess(data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.meta(),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) meta() model.EnvelopeMeta {
	cacheStatus := model.CacheStatus{Status: "bypass"}
	if s.deps != nil && s.deps.cache != nil {
		cacheStatus.Status = "enabled"
	}
	command := s.path
	if command == "" {
		command = version.Name
	}
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   command,
		Providers: s.lastProviders,
		Cache:     cacheStatus,
	}
}

// renderError writes the error envelope to stderr. Field selection and
// results-only never apply to errors.
func (s *runtimeState) renderError(err error) {
	code := clierr.ExitCode(err)
	message := err.Error()
	typ := clierr.TypeName(clierr.CodeInternal)
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = clierr.TypeName(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	var data any = []any{}
	if s.errData != nil {
		data = s.errData
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    data,
		Error: &model.ErrorBody{
			Code:     code,
			Type:     typ,
			Category: string(clierr.CategoryOf(err)),
			Message:  message,
		},
		Meta: s.meta(),
	}
	_ = out.Render(s.runner.stderr, env, settings)
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

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/xswap/internal/cache"
	"github.com/ggonzalez94/xswap/internal/config"
	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/httpx"
	"github.com/ggonzalez94/xswap/internal/logging"
	"github.com/ggonzalez94/xswap/internal/metrics"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/out"
	"github.com/ggonzalez94/xswap/internal/policy"
	"github.com/ggonzalez94/xswap/internal/providers/dln"
	"github.com/ggonzalez94/xswap/internal/scheduler"
	"github.com/ggonzalez94/xswap/internal/schema"
	"github.com/ggonzalez94/xswap/internal/store"
	"github.com/ggonzalez94/xswap/internal/swap"
	"github.com/ggonzalez94/xswap/internal/version"
)

type Runner struct {
	stdout  io.Writer
	stderr  io.Writer
	stdin   io.Reader
	now     func() time.Time
	baseCtx func() (context.Context, context.CancelFunc)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  os.Stdin,
		now:    time.Now,
		baseCtx: func() (context.Context, context.CancelFunc) {
			return signal.NotifyContext(context.Background(), os.Interrupt)
		},
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	root     *cobra.Command

	logger   *zap.Logger
	metrics  *metrics.Metrics
	cache    *cache.Store
	orders   *store.Store
	sched    *scheduler.Scheduler
	provider *dln.Client
	engine   *swap.Engine
	tracker  *swap.Tracker

	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
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

	ctx, cancel := r.baseCtx()
	defer cancel()
	err := normalizeRunError(root.ExecuteContext(ctx))
	if err != nil {
		state.renderError("", err)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.sched != nil {
		s.sched.Close()
	}
	if s.metrics != nil && s.settings.MetricsFile != "" {
		if err := s.metrics.WriteFile(s.settings.MetricsFile); err != nil && s.logger != nil {
			s.logger.Warn("write metrics file", zap.String("path", s.settings.MetricsFile), zap.Error(err))
		}
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.orders != nil {
		_ = s.orders.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain swap quotes, orders, and order tracking",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			if !needsProvider(path) {
				return nil
			}
			if err := s.initEngine(); err != nil {
				return err
			}
			if settings.CacheEnabled && usesCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	config.BindFlags(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newOrderCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// initEngine wires logger, metrics, transport, scheduler, engine and tracker
// from the loaded settings.
func (s *runtimeState) initEngine() error {
	if s.engine != nil {
		return nil
	}
	logger, err := logging.New(s.settings.LogLevel)
	if err != nil {
		return err
	}
	s.logger = logger
	s.metrics = metrics.New()

	httpClient := httpx.NewWithOptions(httpx.Options{
		Timeout:           s.settings.Timeout,
		Retries:           s.settings.Retries,
		RequestsPerSecond: s.settings.RequestsPerSecond,
		BreakerName:       "dln",
		UserAgent:         version.CLIName + "/" + version.CLIVersion,
		Logger:            logger.Named("http"),
		Observe:           s.metrics.ObserveRequest,
	})
	s.provider = dln.New(httpClient).WithBaseURL(s.settings.APIURL)
	s.sched = scheduler.New(scheduler.Config{
		Spacing:     s.settings.Spacing,
		MaxRetries:  s.settings.RateLimitRetries,
		BaseBackoff: s.settings.RateLimitBackoff,
	}, scheduler.WithLogger(logger.Named("scheduler")), scheduler.WithObserver(s.metrics))

	var orderStore swap.OrderStore = swap.NewMemoryStore()
	if usesOrderStore(s.lastCommand) {
		orders, err := store.Open(s.settings.OrderPath, s.settings.OrderLockPath)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open order store", err)
		}
		s.orders = orders
		orderStore = orders
	}
	s.engine = swap.NewEngine(s.provider, s.sched,
		swap.WithLogger(logger.Named("engine")),
		swap.WithQuoteObserver(s.metrics),
		swap.WithStore(orderStore),
		swap.WithOrderIDLookup(s.settings.OrderIDAttempts, s.settings.OrderIDDelay),
	)
	s.tracker = swap.NewTracker(s.provider, s.sched,
		swap.WithPollInterval(s.settings.PollInterval),
		swap.WithTrackerLogger(logger.Named("tracker")),
		swap.WithPollObserver(s.metrics),
		swap.WithTrackerStore(orderStore),
	)
	return nil
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
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(cmd, data, nil, cacheMetaBypass())
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the order API provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(cmd, []model.ProviderInfo{s.provider.Info()}, nil, cacheMetaBypass())
		},
	})
	return root
}

func (s *runtimeState) commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (s *runtimeState) outputOptions() out.Options {
	return out.Options{
		Mode:         s.settings.OutputMode,
		SelectFields: s.settings.SelectFields,
		ResultsOnly:  s.settings.ResultsOnly,
	}
}

func (s *runtimeState) emitSuccess(cmd *cobra.Command, data any, warnings []string, cacheStatus model.CacheStatus) error {
	if s.settings.Strict && len(warnings) > 0 {
		s.lastWarnings = warnings
		return clierr.New(clierr.CodeStale, "warnings returned in strict mode: "+strings.Join(warnings, "; "))
	}
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   trimRootPath(cmd.CommandPath()),
			Providers: s.lastProviders,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.outputOptions())
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
		message = cErr.Error()
	}

	opts := s.outputOptions()
	if opts.Mode == "" {
		opts.Mode = "json"
	}
	opts.ResultsOnly = false
	opts.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: s.lastWarnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: s.lastProviders,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

// recordProvider notes one provider call for the envelope meta.
func (s *runtimeState) recordProvider(started time.Time, err error) {
	s.lastProviders = append(s.lastProviders, model.ProviderStatus{
		Name:      s.provider.Info().Name,
		Status:    statusFromErr(err),
		LatencyMS: s.runner.now().Sub(started).Milliseconds(),
	})
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable, clierr.CodeQuoteUnavailable:
			return "unavailable"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: cache.StatusBypass}
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

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func needsProvider(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "schema":
		return false
	default:
		return true
	}
}

func usesCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "chains", "tokens", "quote", "order build":
		return true
	default:
		return false
	}
}

func usesOrderStore(commandPath string) bool {
	return strings.HasPrefix(normalizeCommandPath(commandPath), "order ")
}

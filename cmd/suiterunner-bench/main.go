// Command suiterunner-bench runs a synthetic suite tree on a ParallelComputer
// and reports outcomes, metrics and traces.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	suiterunner "github.com/Swind/go-suite-runner"
	"github.com/Swind/go-suite-runner/core"
	promobs "github.com/Swind/go-suite-runner/observability/prometheus"
	"github.com/Swind/go-suite-runner/observability/tracing"
	"github.com/Swind/go-suite-runner/reporting"
	"github.com/Swind/go-suite-runner/reporting/sqlitestore"
)

var Version = "v0.1.0"

const envPrefix = "SUITERUNNER_"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		EnvVars: []string{envPrefix + "CONFIG"},
		Usage:   "Path to a YAML or TOML config file",
	}
	SuitesFlag = &cli.IntFlag{
		Name:  "suites",
		Value: 2,
		Usage: "Number of suites in the synthetic tree",
	}
	ClassesFlag = &cli.IntFlag{
		Name:  "classes",
		Value: 3,
		Usage: "Number of classes per suite",
	}
	MethodsFlag = &cli.IntFlag{
		Name:  "methods",
		Value: 4,
		Usage: "Number of methods per class",
	}
	SleepFlag = &cli.DurationFlag{
		Name:  "sleep",
		Value: 50 * time.Millisecond,
		Usage: "Time each method sleeps",
	}
	FailEveryFlag = &cli.IntFlag{
		Name:  "fail-every",
		Usage: "Fail every n-th method (0 disables)",
	}
	PoolFlag = &cli.IntFlag{
		Name:    "pool",
		EnvVars: []string{envPrefix + "POOL"},
		Usage:   "Shared pool capacity (0 gives each level its own pools)",
	}
	ParallelSuitesFlag = &cli.StringFlag{
		Name:  "parallel-suites",
		Usage: "Suite level parallelism: sequential, unbounded or a number",
	}
	ParallelClassesFlag = &cli.StringFlag{
		Name:  "parallel-classes",
		Usage: "Class level parallelism: sequential, unbounded or a number",
	}
	ParallelMethodsFlag = &cli.StringFlag{
		Name:  "parallel-methods",
		Usage: "Method level parallelism: sequential, unbounded or a number",
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Shut the computer down after this long (0 disables)",
	}
	InterruptFlag = &cli.BoolFlag{
		Name:  "interrupt",
		Usage: "Interrupt running tests on timeout or signal",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		EnvVars: []string{envPrefix + "METRICS_ADDR"},
		Usage:   "Serve /metrics, /healthz and /shutdown on this address",
	}
	DBFlag = &cli.StringFlag{
		Name:    "db",
		EnvVars: []string{envPrefix + "DB"},
		Usage:   "Store results in this SQLite database",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		EnvVars: []string{envPrefix + "LOG_LEVEL"},
		Usage:   "Log level (debug, info, warn, error)",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format (text, json)",
	}
)

var Flags = []cli.Flag{
	ConfigFlag,
	SuitesFlag,
	ClassesFlag,
	MethodsFlag,
	SleepFlag,
	FailEveryFlag,
	PoolFlag,
	ParallelSuitesFlag,
	ParallelClassesFlag,
	ParallelMethodsFlag,
	TimeoutFlag,
	InterruptFlag,
	MetricsAddrFlag,
	DBFlag,
	LogLevelFlag,
	LogFormatFlag,
}

func main() {
	app := cli.NewApp()
	app.Name = "suiterunner-bench"
	app.Version = Version
	app.Usage = "Run a synthetic suite tree on a parallel computer"
	app.Flags = Flags
	app.Action = run

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logrus.WithError(err).Error("suiterunner-bench failed")
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags set on the command line.
func loadConfig(c *cli.Context) (*suiterunner.Config, error) {
	cfg, err := suiterunner.LoadConfig(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if c.IsSet(PoolFlag.Name) {
		cfg.PoolCapacity = c.Int(PoolFlag.Name)
	}
	if c.IsSet(ParallelSuitesFlag.Name) {
		cfg.Parallel.Suites = c.String(ParallelSuitesFlag.Name)
	}
	if c.IsSet(ParallelClassesFlag.Name) {
		cfg.Parallel.Classes = c.String(ParallelClassesFlag.Name)
	}
	if c.IsSet(ParallelMethodsFlag.Name) {
		cfg.Parallel.Methods = c.String(ParallelMethodsFlag.Name)
	}
	if c.IsSet(TimeoutFlag.Name) {
		cfg.RunTimeout = c.Duration(TimeoutFlag.Name).String()
	}
	if c.IsSet(InterruptFlag.Name) {
		cfg.InterruptOnTimeout = c.Bool(InterruptFlag.Name)
	}
	if c.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = c.String(MetricsAddrFlag.Name)
	}
	if c.IsSet(DBFlag.Name) {
		cfg.ResultsDB = c.String(DBFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.LogLevel = c.String(LogLevelFlag.Name)
	}
	if c.IsSet(LogFormatFlag.Name) {
		cfg.LogFormat = c.String(LogFormatFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	coreLogger := core.NewLogrusLogger(logger)

	reg := prom.NewRegistry()
	exporter, err := promobs.NewMetricsExporter("", reg, promobs.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("create metrics exporter: %w", err)
	}
	outcomes, err := promobs.NewOutcomeListener("", reg, promobs.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("create outcome listener: %w", err)
	}
	poller, err := promobs.NewSnapshotPoller(reg, time.Second)
	if err != nil {
		return fmt.Errorf("create snapshot poller: %w", err)
	}

	builder, err := cfg.NewBuilder()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := builder.SetLogger(coreLogger); err != nil {
		return err
	}
	if err := builder.SetMetrics(exporter); err != nil {
		return err
	}
	computer, err := builder.Build()
	if err != nil {
		return err
	}
	for _, lp := range computer.Plan().Levels() {
		logger.WithFields(logrus.Fields{
			"level":     lp.Level.String(),
			"requested": lp.Requested.String(),
			"effective": lp.Effective.String(),
			"mode":      lp.Mode.String(),
		}).Info("allocation")
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(newLogSpanProcessor(logger)))
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown failed")
		}
	}()

	tree := BuildTree(TreeOptions{
		Suites:    c.Int(SuitesFlag.Name),
		Classes:   c.Int(ClassesFlag.Name),
		Methods:   c.Int(MethodsFlag.Name),
		Sleep:     c.Duration(SleepFlag.Name),
		FailEvery: c.Int(FailEveryFlag.Name),
	})

	ctx := c.Context
	notifier := core.NewRunNotifierWithConfig(&core.NotifierConfig{Logger: coreLogger, Metrics: exporter})
	reporter := reporting.NewTableReporter(tree.Describe().DisplayName())
	notifier.AddListener(reporter)
	notifier.AddListener(outcomes)
	notifier.AddListener(tracing.NewSpanListener(ctx, tp.Tracer("suiterunner-bench")))

	var store *sqlitestore.Store
	if cfg.ResultsDB != "" {
		store, err = sqlitestore.Open(ctx, cfg.ResultsDB)
		if err != nil {
			return err
		}
		defer store.Close()
		notifier.AddListener(store.Listener(context.WithoutCancel(ctx), notifier.RunID()))
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		return err
	}
	if timeout > 0 {
		disarm := computer.ShutdownAfter(timeout, cfg.InterruptOnTimeout)
		defer disarm()
	}

	poller.AddPoolSet(computer.SharedPoolStats)
	poller.AddSchedulerSet(computer.SchedulerStats)
	poller.Start(ctx)
	defer poller.Stop()

	runCtx, runDone := context.WithCancel(context.WithoutCancel(ctx))
	defer runDone()

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newRouter(reg, computer, store, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			inFlight := computer.Shutdown(cfg.InterruptOnTimeout)
			logger.WithField("in_flight", len(inFlight)).Warn("signal received, shutting down")
		case <-gctx.Done():
		}
		return nil
	})

	var result *core.Result
	g.Go(func() error {
		defer runDone()
		result = computer.Run(runCtx, tree, notifier)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := reporter.Render(os.Stdout); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"run_id":   notifier.RunID(),
		"run":      result.RunCount(),
		"failures": result.FailureCount(),
		"ignored":  result.IgnoreCount(),
		"elapsed":  result.RunTime().String(),
	}).Info("run complete")

	if !result.WasSuccessful() {
		return cli.Exit(fmt.Sprintf("%d failures", result.FailureCount()), 1)
	}
	return nil
}

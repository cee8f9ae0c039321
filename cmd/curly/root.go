package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/curly/internal/config"
	"github.com/Sternrassler/curly/internal/report"
	"github.com/Sternrassler/curly/pkg/client"
	"github.com/Sternrassler/curly/pkg/logging"
	"github.com/Sternrassler/curly/pkg/metrics"
	"github.com/Sternrassler/curly/pkg/multi"
	"github.com/Sternrassler/curly/pkg/request"
)

// app holds the flags and the resources of one command run.
type app struct {
	out io.Writer
	cfg *config.Config

	// Flag values; applied over the environment when set
	logLevel    string
	logPretty   bool
	noColor     bool
	format      string
	showBody    bool
	redisAddr   string
	metricsAddr string
	userAgent   string
	timeout     time.Duration
	noRedirects bool
	attempts    int
	parallel    int
	throttle    time.Duration
	rateLimit   float64

	logger  zerolog.Logger
	redis   *redis.Client
	client  *client.Client
	metrics *metrics.Server
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "curly",
		Short: "Fetch URLs with retries, or run request batches in parallel",
		Long: `curly builds HTTP requests from a URL, a payload and a method, retries
failed transfers with exponential backoff, and runs keyed batches of
requests in parallel chunks with an optional throttle.

Every flag can also be set through a CURLY_* environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&a.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error, disabled (env: CURLY_LOG_LEVEL)")
	f.BoolVar(&a.logPretty, "log-pretty", false, "Human-readable log output (env: CURLY_LOG_PRETTY)")
	f.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	f.StringVarP(&a.format, "format", "o", "text", "Output format: text, json")
	f.BoolVar(&a.showBody, "body", false, "Print response bodies in text output")
	f.StringVar(&a.redisAddr, "redis", "", "Redis address for caching and rate limit tracking (env: CURLY_REDIS_ADDR)")
	f.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (env: CURLY_METRICS_ADDR)")
	f.StringVar(&a.userAgent, "user-agent", "", "User-Agent header (env: CURLY_USER_AGENT)")
	f.DurationVar(&a.timeout, "timeout", 0, "Timeout per attempt (env: CURLY_TIMEOUT)")
	f.BoolVar(&a.noRedirects, "no-redirects", false, "Do not follow redirects (env: CURLY_FOLLOW_REDIRECTS=false)")
	f.IntVarP(&a.attempts, "attempts", "a", 0, "Attempts per request, 0 builds without executing (env: CURLY_ATTEMPTS)")
	f.IntVarP(&a.parallel, "parallel", "p", 0, "Operations per chunk, 0 runs everything at once (env: CURLY_PARALLEL)")
	f.DurationVar(&a.throttle, "throttle", 0, "Minimum duration of each chunk (env: CURLY_THROTTLE)")
	f.Float64Var(&a.rateLimit, "rate-limit", 0, "Maximum attempts per second, 0 is unlimited (env: CURLY_RATE_LIMIT_RPS)")

	root.AddCommand(newGetCmd(a))
	root.AddCommand(newBatchCmd(a))
	return root
}

// setup loads the environment, applies flags and opens the resources.
func (a *app) setup(cmd *cobra.Command) error {
	if _, err := report.ParseFormat(a.format); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	a.cfg = cfg

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Setup(logging.Config{
		Level:   level,
		Pretty:  cfg.Logging.Pretty,
		NoColor: a.noColor,
		Output:  cmd.ErrOrStderr(),
	})
	a.logger = logging.NewLogger("cli")

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: connect to redis at %s: %v", errConfig, cfg.Redis.Addr, err)
		}
		a.logger.Debug().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	clientCfg := client.DefaultConfig(a.redis, cfg.Request.UserAgent)
	clientCfg.RateLimit = cfg.RateLimit.RequestsPerSecond
	clientCfg.Burst = cfg.RateLimit.Burst
	clientCfg.Request.FollowRedirects = cfg.Request.FollowRedirects
	clientCfg.Request.MaxRedirects = cfg.Request.MaxRedirects
	clientCfg.Request.Timeout = cfg.Request.Timeout
	clientCfg.Request.TempDir = cfg.Request.CookieDir

	a.client, err = client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	if cfg.Metrics.Addr != "" {
		a.metrics, err = metrics.NewServer(cfg.Metrics.Addr, a.redis)
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		a.metrics.Start()
	}
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.Logging.Pretty = a.logPretty
	}
	if flags.Changed("redis") {
		cfg.Redis.Addr = a.redisAddr
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if flags.Changed("user-agent") {
		cfg.Request.UserAgent = a.userAgent
	}
	if flags.Changed("timeout") {
		cfg.Request.Timeout = a.timeout
	}
	if flags.Changed("no-redirects") {
		cfg.Request.FollowRedirects = !a.noRedirects
	}
	if flags.Changed("attempts") {
		cfg.Request.Attempts = a.attempts
	}
	if flags.Changed("parallel") {
		cfg.Scheduler.Parallel = a.parallel
	}
	if flags.Changed("throttle") {
		cfg.Scheduler.Throttle = a.throttle
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit.RequestsPerSecond = a.rateLimit
	}
}

func (a *app) teardown() error {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// printer returns the output printer for the current flags.
func (a *app) printer() (*report.Printer, error) {
	format, err := report.ParseFormat(a.format)
	if err != nil {
		return nil, err
	}
	return report.NewPrinter(
		report.WithWriter(a.out),
		report.WithFormat(format),
		report.WithBody(a.showBody),
		report.WithNoColor(a.noColor),
	), nil
}

// schedulerOptions returns the scheduler options for the current config.
func (a *app) schedulerOptions() multi.Options {
	opts := multi.DefaultOptions()
	opts.Parallel = a.cfg.Scheduler.Parallel
	opts.Throttle = a.cfg.Scheduler.Throttle
	return opts
}

// print writes rows and reports failed requests through the returned error.
func (a *app) print(rows []report.Row, elapsed time.Duration) error {
	p, err := a.printer()
	if err != nil {
		return err
	}
	if err := p.Print(rows, elapsed); err != nil {
		return err
	}
	for _, r := range rows {
		if r.Failed() {
			return errRequestsFailed
		}
	}
	return nil
}

// headerOptions converts header values into request options.
func headerOptions(headers map[string]string) []request.Option {
	opts := make([]request.Option, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, request.WithHeader(k, v))
	}
	return opts
}

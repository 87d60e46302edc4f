// Command zowie-bridge runs the relay conversion bridge between the home
// automation host and ZowieBox decoders.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"zowie-bridge/internal/api"
	"zowie-bridge/internal/observability/logging"
	"zowie-bridge/internal/observability/metrics"
	"zowie-bridge/internal/observability/tracing"
	"zowie-bridge/internal/platform"
	"zowie-bridge/internal/relay"
	"zowie-bridge/internal/server"
	"zowie-bridge/internal/serverutil"
)

const (
	defaultListenAddr      = ":8099"
	defaultShutdownTimeout = 15 * time.Second
	serviceName            = "zowie-bridge"
)

type options struct {
	addr             string
	logLevel         string
	logFormat        string
	traceExporter    string
	traceEndpoint    string
	traceSampleRate  float64
	tlsCert          string
	tlsKey           string
	shutdownTimeout  time.Duration
	globalRPS        float64
	globalBurst      int
	conversionLimit  int
	conversionWindow time.Duration
	rateRedisAddr    string
	rateRedisPass    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&opts.addr, "addr", "", "HTTP listen address (default "+defaultListenAddr+")")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format (json or text)")
	flagSet.StringVar(&opts.traceExporter, "trace-exporter", "", "trace exporter (none, stdout, otlp)")
	flagSet.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP gRPC endpoint for the otlp exporter")
	flagSet.Float64Var(&opts.traceSampleRate, "trace-sample-rate", 1, "fraction of traces to sample")
	flagSet.StringVar(&opts.tlsCert, "tls-cert", "", "path to TLS certificate file")
	flagSet.StringVar(&opts.tlsKey, "tls-key", "", "path to TLS private key file")
	flagSet.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "graceful shutdown bound")
	flagSet.Float64Var(&opts.globalRPS, "rate-global-rps", 0, "global request rate limit in requests per second")
	flagSet.IntVar(&opts.globalBurst, "rate-global-burst", 0, "global rate limit burst allowance")
	flagSet.IntVar(&opts.conversionLimit, "rate-conversion-limit", 0, "maximum conversion requests per window for a single client")
	flagSet.DurationVar(&opts.conversionWindow, "rate-conversion-window", time.Minute, "window for counting conversion requests")
	flagSet.StringVar(&opts.rateRedisAddr, "rate-redis-addr", "", "Redis address for shared conversion throttling")
	flagSet.StringVar(&opts.rateRedisPass, "rate-redis-password", "", "Redis password for shared conversion throttling")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	opts.addr = firstNonEmpty(opts.addr, os.Getenv("ZOWIE_ADDR"), defaultListenAddr)
	opts.logLevel = firstNonEmpty(opts.logLevel, os.Getenv("ZOWIE_LOG_LEVEL"), "info")
	opts.logFormat = firstNonEmpty(opts.logFormat, os.Getenv("ZOWIE_LOG_FORMAT"), string(logging.FormatJSON))
	opts.traceExporter = firstNonEmpty(opts.traceExporter, os.Getenv("ZOWIE_TRACE_EXPORTER"), tracing.ExporterNone)
	opts.traceEndpoint = firstNonEmpty(opts.traceEndpoint, os.Getenv("ZOWIE_TRACE_ENDPOINT"))
	opts.tlsCert = firstNonEmpty(opts.tlsCert, os.Getenv("ZOWIE_TLS_CERT"))
	opts.tlsKey = firstNonEmpty(opts.tlsKey, os.Getenv("ZOWIE_TLS_KEY"))
	opts.rateRedisAddr = firstNonEmpty(opts.rateRedisAddr, os.Getenv("ZOWIE_RATE_REDIS_ADDR"))
	opts.rateRedisPass = firstNonEmpty(opts.rateRedisPass, os.Getenv("ZOWIE_RATE_REDIS_PASSWORD"))
	if opts.traceSampleRate < 0 || opts.traceSampleRate > 1 {
		return options{}, fmt.Errorf("trace sample rate %s out of range", strconv.FormatFloat(opts.traceSampleRate, 'f', -1, 64))
	}
	return opts, nil
}

// run wires the daemon and blocks until ctx is cancelled. listening, when
// non-nil, receives the bound HTTP address.
func run(ctx context.Context, args []string, stdout io.Writer, listening chan<- net.Addr) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}

	logger := logging.Init(logging.Config{Level: opts.logLevel, Format: opts.logFormat, Writer: stdout})

	relayCfg, err := relay.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load relay config: %w", err)
	}
	platformCfg, err := platform.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load platform config: %w", err)
	}

	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:     opts.traceExporter,
		OTLPEndpoint: opts.traceEndpoint,
		SampleRate:   opts.traceSampleRate,
		ServiceName:  serviceName,
		Writer:       stdout,
	})
	if err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	recorder := metrics.New()
	metrics.SetDefault(recorder)

	host, registry, closeHost, err := configurePlatform(ctx, platformCfg, logger)
	if err != nil {
		return err
	}
	defer closeHost()

	manager := relay.NewManager(relay.Options{
		Config:   relayCfg,
		Platform: host,
		Logger:   logger,
		Metrics:  recorder,
		Tracer:   tracer.Tracer(),
	})
	manager.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		manager.Stop(stopCtx)
		logger.Info("relay conversions torn down")
	}()

	handler := api.NewHandler(manager, nil, logger)
	if registry != nil {
		handler.Registry = registry
	}

	srv, err := server.New(handler, server.Config{
		Addr: opts.addr,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:        opts.globalRPS,
			GlobalBurst:      opts.globalBurst,
			ConversionLimit:  opts.conversionLimit,
			ConversionWindow: opts.conversionWindow,
			RedisAddr:        opts.rateRedisAddr,
			RedisPassword:    opts.rateRedisPass,
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	logger.Info("starting zowie bridge",
		"addr", opts.addr,
		"relay_present", manager.Available(ctx),
		"retention", relayCfg.Retention,
		"sweep_interval", relayCfg.SweepInterval,
		"redis_registry", platformCfg.Redis.Enabled(),
		"tracing", tracer.Enabled(),
	)

	return serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: opts.tlsCert, KeyFile: opts.tlsKey},
		ShutdownTimeout: opts.shutdownTimeout,
		Addr:            listening,
		Logger:          logger,
	})
}

// configurePlatform returns the static host, or a Redis-backed host that
// publishes the static configuration and falls back to it for the internal
// URL when a registry is configured.
func configurePlatform(ctx context.Context, cfg platform.Config, logger *slog.Logger) (relay.Platform, api.Pinger, func(), error) {
	static := platform.NewStaticHost(cfg, logging.WithComponent(logger, "platform"))
	if !cfg.Redis.Enabled() {
		return static, nil, func() {}, nil
	}

	host, err := platform.NewRedisHost(ctx, cfg.Redis, static, logging.WithComponent(logger, "platform"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect platform registry: %w", err)
	}
	if err := host.Publish(ctx, cfg); err != nil {
		host.Close()
		return nil, nil, nil, err
	}
	closeHost := func() {
		if err := host.Close(); err != nil {
			logger.Warn("failed to close platform registry", "error", err)
		}
	}
	return host, host, closeHost, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sergioferragut/from-kafka-to-polaris/auth"
	"github.com/sergioferragut/from-kafka-to-polaris/batcher"
	"github.com/sergioferragut/from-kafka-to-polaris/buffer"
	"github.com/sergioferragut/from-kafka-to-polaris/config"
	"github.com/sergioferragut/from-kafka-to-polaris/dispatcher"
	"github.com/sergioferragut/from-kafka-to-polaris/ingest"
	"github.com/sergioferragut/from-kafka-to-polaris/logging"
	"github.com/sergioferragut/from-kafka-to-polaris/pipeline"
	"github.com/sergioferragut/from-kafka-to-polaris/retry"
	"github.com/sergioferragut/from-kafka-to-polaris/sender"
	"github.com/sergioferragut/from-kafka-to-polaris/signals"
	"github.com/sergioferragut/from-kafka-to-polaris/source"
)

var (
	configPath = flag.StringP("config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")
	sourceKind = flag.String("source", "kafka", "event source: kafka or file")
	filePath   = flag.String("file", "", "newline delimited JSON file, with --source=file")
	follow     = flag.Bool("follow", false, "keep reading the file as it grows")
	replay     = flag.Bool("replay", false, "redeliver dead-lettered batches before starting")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Agent.LogLevel, cfg.Agent.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("agent failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
	logger.Info("agent exited cleanly")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting",
		zap.String("org", cfg.Polaris.Org),
		zap.String("table", cfg.Polaris.TableID),
		zap.String("source", *sourceKind),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsSrv := serveMetrics(cfg.Agent.MetricsAddr, reg, logger)

	s := sender.New(
		sender.WithTimeout(cfg.Push.RequestTimeout),
		sender.WithCompression(cfg.Push.Compress),
	)

	a, err := auth.New(auth.Config{
		TokenURLTemplate: cfg.Polaris.TokenURLTemplate,
		Org:              cfg.Polaris.Org,
		ClientID:         cfg.Polaris.ClientID,
		ClientSecret:     cfg.Polaris.ClientSecret,
	}, s, logger)
	if err != nil {
		return err
	}

	client, err := ingest.New(ingest.Options{
		APIHost:       cfg.Polaris.APIHost,
		TableID:       cfg.Polaris.TableID,
		MaxBatchBytes: cfg.Push.MaxBatchBytes,
		Strategy:      cfg.Push.Strategy,
		Dispatcher: dispatcher.Config{
			MaxConcurrency:    cfg.Push.MaxConcurrency,
			RequestsPerSecond: cfg.Push.RequestsPerSecond,
		},
	}, a, s, logger, dispatcher.WithMetrics(dispatcher.NewMetrics(reg)))
	if err != nil {
		return err
	}

	// a token is required before anything is read from the source
	policy := retry.DefaultPolicy(cfg.Agent.RetryAttempts)
	if err := retry.Execute(ctx, policy, logger, func() error {
		return a.Authenticate(ctx)
	}); err != nil {
		return fmt.Errorf("initial authentication: %w", err)
	}

	src, err := newSource(cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	p := &pipeline.Pipeline{
		Source: src,
		Collector: batcher.NewCollector(batcher.Config{
			MaxEvents:   cfg.Agent.MicroBatchEvents,
			MaxInterval: cfg.Agent.MicroBatchInterval,
		}, nil),
		Client:  client,
		Auth:    a,
		Signals: signals.New(nil),
		Retry:   policy,
		Logger:  logger,
	}
	if cfg.Agent.DeadLetterPath != "" {
		p.DeadLetter = buffer.New(cfg.Agent.DeadLetterPath)
	}

	if *replay {
		report, err := p.Replay(ctx)
		if err != nil {
			return fmt.Errorf("replaying dead letters: %w", err)
		}
		logger.Info("dead letters replayed",
			zap.Int("batches", report.Batches),
			zap.Int("delivered", report.Delivered),
			zap.Int("still_failed", report.DeadLettered),
		)
	}

	runErr := p.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	return runErr
}

func newSource(cfg *config.Config, logger *zap.Logger) (source.Source, error) {
	switch *sourceKind {
	case "kafka":
		return source.NewKafka(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, logger)
	case "file":
		if *filePath == "" {
			return nil, errors.New("--file is required with --source=file")
		}
		return source.NewFile(*filePath, *follow, logger)
	default:
		return nil, fmt.Errorf("unknown source %q", *sourceKind)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

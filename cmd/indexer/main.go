package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openscan/internal/application"
	"openscan/internal/config"
	"openscan/internal/infrastructure/ethrpc"
	"openscan/internal/infrastructure/kafka"
	"openscan/internal/infrastructure/logging"
	"openscan/internal/infrastructure/storage"
	"openscan/internal/infrastructure/telemetry"
	"openscan/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		network      = flag.String("network", "", "network to index (mainnet, sepolia, local); overrides NETWORK")
		blocks       = flag.Uint64("blocks", 0, "backfill the latest N blocks and exit")
		startBlock   = flag.Uint64("start-block", 0, "backfill range start; requires --end-block")
		endBlock     = flag.Uint64("end-block", 0, "backfill range end, inclusive")
		sync         = flag.Bool("sync", false, "follow the chain head after the backfill")
		syncOnly     = flag.Bool("sync-only", false, "follow the chain head without a backfill")
		pollInterval = flag.Duration("poll-interval", 0, "poll cadence when following the head; overrides POLL_INTERVAL")
		status       = flag.Bool("status", false, "print sync status as JSON and exit")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if *network != "" {
		chainID, ok := config.ChainIDForNetwork(*network)
		if !ok {
			slog.Error("unknown network", "network", *network, "known", config.NetworkNames())
			os.Exit(1)
		}
		cfg.Network = *network
		cfg.ChainID = chainID
	}
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/indexer.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "openscan-indexer", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	store, err := storage.New(storage.Config{
		Driver:    cfg.StorageDriver,
		DSN:       cfg.DBDSN,
		CacheAddr: cfg.RedisAddr,
		CacheTTL:  time.Hour,
	})
	if err != nil {
		slog.Error("storage error", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := verifyChain(ctx, rpcClient, cfg); err != nil {
		slog.Error("chain verification failed", "err", err)
		os.Exit(1)
	}

	var stream application.StreamWriter
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
		})
		if err != nil {
			slog.Error("kafka error", "err", err)
			os.Exit(1)
		}
		defer producer.Close()
		stream = producer
	}

	metrics := httpapi.NewMetrics()
	engine, err := application.NewEngine(rpcClient, store, stream, metrics, nil, application.EngineConfig{
		Confirmations:  cfg.Confirmations,
		PollInterval:   cfg.PollInterval,
		BackfillSize:   cfg.BackfillBlocks,
		ReceiptWorkers: cfg.ReceiptWorkers,
		Retry: application.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})
	if err != nil {
		slog.Error("engine error", "err", err)
		os.Exit(1)
	}

	if *status {
		printStatus(ctx, engine)
		return
	}

	httpServer, err := httpapi.NewServer(cfg, store, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	backfill, err := backfillRequest(cfg, *blocks, *startBlock, *endBlock, *syncOnly)
	if err != nil {
		slog.Error("invalid flags", "err", err)
		os.Exit(1)
	}

	slog.Info("indexer started",
		"network", cfg.Network,
		"chain_id", cfg.ChainID,
		"rpc", cfg.RPCURL,
		"storage", cfg.StorageDriver,
		"streaming", stream != nil,
	)

	if *sync || *syncOnly {
		err = engine.Run(ctx, application.RunOptions{InitialBackfill: backfill})
	} else {
		err = engine.Backfill(ctx, *backfill)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("indexer stopped", "err", err, "state", engine.State())
		os.Exit(1)
	}
	if gaps := engine.Gaps(); len(gaps) > 0 {
		slog.Warn("blocks skipped during run", "blocks", gaps)
	}
	slog.Info("indexer done", "state", engine.State())
}

// verifyChain rejects an endpoint whose chain does not match the configured
// network before anything is written under that chain id.
func verifyChain(ctx context.Context, client *ethrpc.Client, cfg config.Config) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(checkCtx)
	if err != nil {
		return fmt.Errorf("eth_chainId: %w", err)
	}
	if chainID != cfg.ChainID {
		return fmt.Errorf("endpoint reports chain %d, network %q expects %d", chainID, cfg.Network, cfg.ChainID)
	}
	return nil
}

func backfillRequest(cfg config.Config, blocks, start, end uint64, syncOnly bool) (*application.BackfillRequest, error) {
	if syncOnly {
		if blocks != 0 || start != 0 || end != 0 {
			return nil, errors.New("--sync-only cannot be combined with a backfill range")
		}
		return nil, nil
	}
	if start != 0 || end != 0 {
		if blocks != 0 {
			return nil, errors.New("--blocks cannot be combined with --start-block/--end-block")
		}
		if end < start {
			return nil, errors.New("--end-block must be >= --start-block")
		}
		return &application.BackfillRequest{Start: &start, End: &end}, nil
	}
	if blocks == 0 {
		blocks = cfg.BackfillBlocks
	}
	return &application.BackfillRequest{Count: blocks}, nil
}

func printStatus(ctx context.Context, engine *application.Engine) {
	status, err := engine.Status(ctx)
	if err != nil {
		slog.Error("status error", "err", err)
		os.Exit(1)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(status)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openscan/internal/config"
	"openscan/internal/infrastructure/ethrpc"
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

// The API process serves reads from storage only. It shares no state with
// the indexer beyond the database, so the two can be deployed and scaled
// independently.
func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/api.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "openscan-api", cfg.OtelEndpoint)
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

	server, err := httpapi.NewServer(cfg, store, rpcClient, nil, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("api listening", "addr", cfg.HTTPAddr, "network", cfg.Network, "chain_id", cfg.ChainID)
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
		slog.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

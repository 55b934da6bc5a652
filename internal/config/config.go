package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Known networks. The chain id from config is advisory; the engine verifies
// it against eth_chainId at startup.
var networks = map[string]uint64{
	"mainnet": 1,
	"sepolia": 11155111,
	"local":   31337,
}

func ChainIDForNetwork(name string) (uint64, bool) {
	chainID, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	return chainID, ok
}

func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	return names
}

type Config struct {
	Network string
	ChainID uint64
	RPCURL  string

	StorageDriver string
	DBDSN         string
	RedisAddr     string

	HTTPAddr     string
	OtelEndpoint string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	Confirmations          uint64
	BackfillBlocks         uint64
	PollInterval           time.Duration
	ReceiptWorkers         int
	RetryAttempts          int
	RetryBaseDelay         time.Duration
	MaxConsecutiveFailures int

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	network := "local"
	if raw, ok := source.Lookup("NETWORK"); ok && strings.TrimSpace(raw) != "" {
		network = strings.ToLower(strings.TrimSpace(raw))
	}
	chainID, ok := ChainIDForNetwork(network)
	if !ok {
		return Config{}, fmt.Errorf("unknown network %q (known: %s)", network, strings.Join(NetworkNames(), ", "))
	}

	// A network-specific key wins over the generic one, so one environment
	// can hold endpoints for several networks at once.
	rpcURL, _ := source.Lookup("RPC_URL_" + strings.ToUpper(network))
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		rpcURL, _ = source.Lookup("RPC_URL")
		rpcURL = strings.TrimSpace(rpcURL)
	}
	if rpcURL == "" {
		if network != "local" {
			return Config{}, fmt.Errorf("RPC_URL is required for network %q", network)
		}
		rpcURL = "http://127.0.0.1:8545"
	}

	storageDriver := "mysql"
	if raw, ok := source.Lookup("STORAGE_DRIVER"); ok && strings.TrimSpace(raw) != "" {
		storageDriver = strings.ToLower(strings.TrimSpace(raw))
	}
	if storageDriver != "mysql" && storageDriver != "sqlite" {
		return Config{}, fmt.Errorf("unknown STORAGE_DRIVER %q", storageDriver)
	}

	dbDSN, ok := source.Lookup("DB_DSN")
	if !ok || strings.TrimSpace(dbDSN) == "" {
		switch storageDriver {
		case "mysql":
			dbDSN = "root:@tcp(127.0.0.1:3306)/openscan?parseTime=true&multiStatements=true"
		case "sqlite":
			dbDSN = "openscan.db"
		}
	}

	redisAddr, _ := source.Lookup("REDIS_ADDR")
	redisAddr = strings.TrimSpace(redisAddr)

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	// Streaming is off unless brokers are configured.
	kafkaBrokers := parseList(source, "KAFKA_BROKERS")
	kafkaTopicPrefix, ok := source.Lookup("KAFKA_TOPIC_PREFIX")
	if !ok || kafkaTopicPrefix == "" {
		kafkaTopicPrefix = "openscan-chain"
	}

	confirmations, err := parseUintEnv(source, "CONFIRMATIONS", 0)
	if err != nil {
		return Config{}, err
	}
	backfillBlocks, err := parseUintEnv(source, "BACKFILL_BLOCKS", 100)
	if err != nil {
		return Config{}, err
	}
	receiptWorkers, err := parseIntEnv(source, "RECEIPT_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	retryAttempts, err := parseIntEnv(source, "RETRY_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	maxConsecutiveFailures, err := parseIntEnv(source, "MAX_CONSECUTIVE_FAILURES", 5)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 12*time.Second)
	if err != nil {
		return Config{}, err
	}
	retryBaseDelay, err := parseDurationEnv(source, "RETRY_BASE_DELAY", time.Second)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSizeMB, err := parseIntEnv(source, "LOG_MAX_SIZE_MB", 0)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseIntEnv(source, "LOG_MAX_BACKUPS", 0)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Network:                network,
		ChainID:                chainID,
		RPCURL:                 rpcURL,
		StorageDriver:          storageDriver,
		DBDSN:                  dbDSN,
		RedisAddr:              redisAddr,
		HTTPAddr:               httpAddr,
		OtelEndpoint:           otelEndpoint,
		KafkaBrokers:           kafkaBrokers,
		KafkaTopicPrefix:       kafkaTopicPrefix,
		Confirmations:          confirmations,
		BackfillBlocks:         backfillBlocks,
		PollInterval:           pollInterval,
		ReceiptWorkers:         receiptWorkers,
		RetryAttempts:          retryAttempts,
		RetryBaseDelay:         retryBaseDelay,
		MaxConsecutiveFailures: maxConsecutiveFailures,
		LogLevel:               logLevel,
		LogFile:                logFile,
		LogMaxSizeMB:           logMaxSizeMB,
		LogMaxBackups:          logMaxBackups,
	}, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseIntEnv(source EnvSource, key string, defaultValue int) (int, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}

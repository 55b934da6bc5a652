package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != "local" || cfg.ChainID != 31337 {
		t.Fatalf("network = %s/%d", cfg.Network, cfg.ChainID)
	}
	if cfg.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("rpc url = %s", cfg.RPCURL)
	}
	if cfg.StorageDriver != "mysql" {
		t.Fatalf("driver = %s", cfg.StorageDriver)
	}
	if cfg.PollInterval != 12*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.BackfillBlocks != 100 {
		t.Fatalf("backfill = %d", cfg.BackfillBlocks)
	}
	if cfg.MaxConsecutiveFailures != 5 {
		t.Fatalf("max failures = %d", cfg.MaxConsecutiveFailures)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("kafka enabled by default: %v", cfg.KafkaBrokers)
	}
}

func TestLoadNetworkRegistry(t *testing.T) {
	cfg, err := Load(EnvMap{"NETWORK": "sepolia", "RPC_URL": "https://rpc.example"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChainID != 11155111 {
		t.Fatalf("chain id = %d", cfg.ChainID)
	}

	if _, err := Load(EnvMap{"NETWORK": "ropsten"}); err == nil {
		t.Fatal("unknown network accepted")
	}
}

func TestLoadNetworkSpecificRPCURL(t *testing.T) {
	cfg, err := Load(EnvMap{
		"NETWORK":         "sepolia",
		"RPC_URL":         "https://fallback.example",
		"RPC_URL_SEPOLIA": "https://sepolia.example",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "https://sepolia.example" {
		t.Fatalf("rpc url = %s, want network-specific key to win", cfg.RPCURL)
	}
}

func TestLoadRequiresRPCURLOffLocal(t *testing.T) {
	_, err := Load(EnvMap{"NETWORK": "mainnet"})
	if err == nil || !strings.Contains(err.Error(), "RPC_URL") {
		t.Fatalf("err = %v, want RPC_URL requirement", err)
	}
}

func TestLoadStorageDriver(t *testing.T) {
	cfg, err := Load(EnvMap{"STORAGE_DRIVER": "sqlite"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDriver != "sqlite" || cfg.DBDSN != "openscan.db" {
		t.Fatalf("driver/dsn = %s/%s", cfg.StorageDriver, cfg.DBDSN)
	}

	if _, err := Load(EnvMap{"STORAGE_DRIVER": "mongodb"}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"POLL_INTERVAL":   "3s",
		"BACKFILL_BLOCKS": "250",
		"CONFIRMATIONS":   "6",
		"RECEIPT_WORKERS": "8",
		"KAFKA_BROKERS":   "k1:9092, k2:9092",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.BackfillBlocks != 250 || cfg.Confirmations != 6 || cfg.ReceiptWorkers != 8 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	for _, env := range []EnvMap{
		{"POLL_INTERVAL": "soon"},
		{"BACKFILL_BLOCKS": "-1"},
		{"RECEIPT_WORKERS": "many"},
	} {
		if _, err := Load(env); err == nil {
			t.Fatalf("bad value accepted: %v", env)
		}
	}
}

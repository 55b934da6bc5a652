package httpapi

import (
	"sync"
	"time"
)

// Metrics is the indexing progress snapshot served on /metrics. It doubles
// as the engine's progress observer.
type Metrics struct {
	mu            sync.RWMutex
	startTime     time.Time
	latestBlock   uint64
	lastIndexed   uint64
	blocksIndexed uint64
	blocksSkipped uint64
	txsIndexed    uint64
	logsIndexed   uint64
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = block
}

func (m *Metrics) OnBlockIndexed(block uint64, txCount, logCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > m.lastIndexed {
		m.lastIndexed = block
	}
	m.blocksIndexed++
	m.txsIndexed += uint64(txCount)
	m.logsIndexed += uint64(logCount)
}

func (m *Metrics) OnBlockSkipped(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocksSkipped++
}

type Snapshot struct {
	StartTime     time.Time
	LatestBlock   uint64
	LastIndexed   uint64
	BlocksIndexed uint64
	BlocksSkipped uint64
	TxsIndexed    uint64
	LogsIndexed   uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:     m.startTime,
		LatestBlock:   m.latestBlock,
		LastIndexed:   m.lastIndexed,
		BlocksIndexed: m.blocksIndexed,
		BlocksSkipped: m.blocksSkipped,
		TxsIndexed:    m.txsIndexed,
		LogsIndexed:   m.logsIndexed,
	}
}

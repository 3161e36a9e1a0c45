package core

// Health logging and Prometheus metrics export. Uses a JSON-file logger
// plus Prometheus registry shape, covering the PoRW/PoRS chain's own
// components (chain store, state, mempool, node) rather than a single
// coin/ledger/txpool trio.

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NodeMetrics is a snapshot of chain and runtime health.
type NodeMetrics struct {
	Height          uint64 `json:"height"`
	LastHash        string `json:"last_hash"`
	PendingTx       int    `json:"pending_tx"`
	PeerCount       int    `json:"peer_count"`
	TotalSupply     uint64 `json:"total_supply"`
	TotalFeesTaken  uint64 `json:"total_fees_collected"`
	MemAllocBytes   uint64 `json:"mem_alloc_bytes"`
	NumGoroutines   int    `json:"goroutines"`
	Timestamp       int64  `json:"timestamp"`
}

// HealthLogger writes structured JSON health events and exports Prometheus
// gauges for the chain store, mempool, and network components it is
// attached to.
type HealthLogger struct {
	chain   *ChainStore
	state   *State
	mempool *Mempool
	network *Node

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry        *prometheus.Registry
	heightGauge     prometheus.Gauge
	pendingTxGauge  prometheus.Gauge
	peerCountGauge  prometheus.Gauge
	totalSupplyGauge prometheus.Gauge
	totalFeesGauge  prometheus.Gauge
	memAllocGauge   prometheus.Gauge
	goroutinesGauge prometheus.Gauge
	errorCounter    prometheus.Counter
	reorgCounter    prometheus.Counter
}

// NewHealthLogger configures a logger writing JSON events to path and
// registers its Prometheus collectors. Any of chain/state/mempool/network
// may be nil if this node doesn't run that subsystem.
func NewHealthLogger(chain *ChainStore, state *State, mempool *Mempool, network *Node, path string) (*HealthLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, NewError(KindStoreIO, "new_health_logger", err)
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	h := &HealthLogger{chain: chain, state: state, mempool: mempool, network: network, log: lg, file: f, registry: reg}

	h.heightGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_block_height", Help: "Current block height of the node"})
	h.pendingTxGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_pending_transactions", Help: "Number of pending mempool transactions"})
	h.peerCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_peer_count", Help: "Number of connected peers"})
	h.totalSupplyGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_total_supply", Help: "Total minted supply in minor units"})
	h.totalFeesGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_total_fees_collected", Help: "Total fees collected in minor units"})
	h.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_mem_alloc_bytes", Help: "Current memory allocation in bytes"})
	h.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "porwchain_goroutines", Help: "Number of running goroutines"})
	h.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "porwchain_log_errors_total", Help: "Total number of error events logged"})
	h.reorgCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "porwchain_reorgs_total", Help: "Total number of chain reorganizations observed"})

	reg.MustRegister(
		h.heightGauge,
		h.pendingTxGauge,
		h.peerCountGauge,
		h.totalSupplyGauge,
		h.totalFeesGauge,
		h.memAllocGauge,
		h.goroutinesGauge,
		h.errorCounter,
		h.reorgCounter,
	)

	return h, nil
}

// Close releases the underlying log file.
func (h *HealthLogger) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// Rotate switches logging to a new file path.
func (h *HealthLogger) Rotate(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	h.log.SetOutput(f)
	h.file = f
	return nil
}

// LogEvent records an arbitrary message at the given level.
func (h *HealthLogger) LogEvent(level logrus.Level, msg string) {
	h.mu.Lock()
	if level >= logrus.ErrorLevel {
		h.errorCounter.Inc()
	}
	h.log.Log(level, msg)
	h.mu.Unlock()
}

// RecordReorg notes a chain reorganization from fromHeight to toHeight,
// bumping the reorg counter.
func (h *HealthLogger) RecordReorg(fromHeight, toHeight uint64) {
	h.reorgCounter.Inc()
	h.mu.Lock()
	h.log.WithFields(logrus.Fields{"from_height": fromHeight, "to_height": toHeight}).Warn("chain reorganization")
	h.mu.Unlock()
}

// Snapshot gathers current metrics from the chain store, mempool, network,
// and Go runtime.
func (h *HealthLogger) Snapshot() NodeMetrics {
	m := NodeMetrics{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.MemAllocBytes = mem.Alloc

	if h.chain != nil {
		m.Height = h.chain.Height()
		if tip, err := h.chain.Latest(); err == nil {
			m.LastHash = tip.BlockHash.Short()
		}
	}
	if h.mempool != nil {
		m.PendingTx = h.mempool.Len()
	}
	if h.network != nil {
		m.PeerCount = h.network.ActivePeerCount()
	}
	if h.state != nil {
		m.TotalSupply = uint64(h.state.TotalSupply())
		m.TotalFeesTaken = uint64(h.state.TotalFeesCollected())
	}
	return m
}

// Record captures the current snapshot and updates Prometheus gauges.
func (h *HealthLogger) Record() {
	m := h.Snapshot()
	h.heightGauge.Set(float64(m.Height))
	h.pendingTxGauge.Set(float64(m.PendingTx))
	h.peerCountGauge.Set(float64(m.PeerCount))
	h.totalSupplyGauge.Set(float64(m.TotalSupply))
	h.totalFeesGauge.Set(float64(m.TotalFeesTaken))
	h.memAllocGauge.Set(float64(m.MemAllocBytes))
	h.goroutinesGauge.Set(float64(m.NumGoroutines))
	h.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// Run periodically records metrics until ctx is cancelled.
func (h *HealthLogger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Record()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes the Prometheus registry on addr's /metrics endpoint,
// returning the HTTP server so the caller manages its shutdown.
func (h *HealthLogger) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv
}

// Package engine wires the three long-lived components (MemTable,
// manager, router) together and is the single embedding entry point for
// the HTTP adapter and CLI.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/guycipher/lsmstore/internal/command"
	"github.com/guycipher/lsmstore/internal/config"
	"github.com/guycipher/lsmstore/internal/manager"
	"github.com/guycipher/lsmstore/internal/memtable"
	"github.com/guycipher/lsmstore/internal/metrics"
	"github.com/guycipher/lsmstore/internal/router"
)

// channelBuffer sizes the bounded channels between components; a
// saturated inbox provides natural backpressure on the adapter.
const channelBuffer = 64

// Engine owns the MemTable, manager, and router goroutines and their
// channels for its lifetime.
type Engine struct {
	router  *router.Router
	mem     *memtable.MemTable
	mgr     *manager.Manager
	metrics *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Open starts the engine: it recovers the manager's SSTable list from
// cfg.Directory, then spawns the MemTable and manager listener
// goroutines and builds the router over their inboxes.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)

	toMemTable := make(chan command.Envelope, channelBuffer)
	toManager := make(chan command.Envelope, channelBuffer)
	flushToManager := make(chan command.Envelope, channelBuffer)

	m := metrics.New()

	mgr, err := manager.Open(runCtx, manager.Options{
		Directory:                 cfg.Directory,
		BlockStride:               cfg.BlockStride,
		CompactionTriggerRatio:    cfg.CompactionTriggerRatio,
		BloomFilter:               cfg.BloomFilterEnabled,
		Compression:               cfg.CompressionEnabled,
		Checksum:                  cfg.ChecksumEnabled,
		CompactionDropsTombstones: cfg.CompactionDropsTombstones,
		Inbox:                     mergeInboxes(runCtx, toManager, flushToManager),
		Logger:                    logger.With("component", "manager"),
		Metrics: manager.Metrics{
			FlushesTotal:     m.FlushesTotal.Inc,
			CompactionsTotal: m.CompactionsTotal.Inc,
			SSTableCount:     func(n int) { m.SSTableCount.Set(float64(n)) },
			SSTableBytes:     func(b int64) { m.SSTableBytes.Set(float64(b)) },
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	mem := memtable.New(memtable.Options{
		SizeLimit: cfg.MemtableLimit,
		Inbox:     toMemTable,
		FlushOut:  flushToManager,
		Logger:    logger.With("component", "memtable"),
	})

	e := &Engine{
		router:  router.New(toMemTable, toManager),
		mem:     mem,
		mgr:     mgr,
		metrics: m,
		cancel:  cancel,
		logger:  logger,
	}

	e.wg.Add(2)
	go mem.Listen(runCtx, &e.wg)
	go mgr.Listen(runCtx, &e.wg)

	return e, nil
}

// mergeInboxes fans two send-side channels into a single inbox the
// manager listens on: Get requests arrive from the router on toManager,
// Flush requests arrive from the MemTable on flushToManager. When the two
// are the same channel it is returned as is; otherwise a new channel is
// created and a goroutine forwards every envelope from both senders into
// it, so the manager's single Listen loop reads one multiplexed mailbox.
//
// The forwarding goroutine selects on ctx alongside both inboxes and the
// outbound send: toManager/flushToManager are never closed during
// Engine.Close (only ctx is canceled), so without the ctx case this
// goroutine would block forever on a receive or on out<-env once nothing
// is left to drain it, leaking for the life of the process.
func mergeInboxes(ctx context.Context, toManager, flushToManager chan command.Envelope) chan command.Envelope {
	if toManager == flushToManager {
		return toManager
	}
	out := make(chan command.Envelope, cap(toManager)+cap(flushToManager))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-toManager:
				if !ok {
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			case env, ok := <-flushToManager:
				if !ok {
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Get performs a point read: router → MemTable → (miss) manager.
func (e *Engine) Get(ctx context.Context, key []byte) (value []byte, tombstone bool, found bool, err error) {
	e.metrics.GetsTotal.Inc()
	reply, err := e.router.Dispatch(ctx, command.NewGet(key))
	if err != nil {
		return nil, false, false, err
	}
	if reply.Err != nil {
		return nil, false, false, reply.Err
	}
	return reply.Value, reply.Tombstone, reply.Found, nil
}

// Put writes value for key, possibly triggering a synchronous flush.
func (e *Engine) Put(ctx context.Context, key, value []byte) error {
	e.metrics.PutsTotal.Inc()
	reply, err := e.router.Dispatch(ctx, command.NewPut(key, value))
	if err != nil {
		return err
	}
	return reply.Err
}

// Delete writes a tombstone for key.
func (e *Engine) Delete(ctx context.Context, key []byte) error {
	e.metrics.DeletesTotal.Inc()
	reply, err := e.router.Dispatch(ctx, command.NewDelete(key))
	if err != nil {
		return err
	}
	return reply.Err
}

// Metrics exposes the engine's private Prometheus registry for the
// adapter's /metrics endpoint.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Manager exposes the SSTable manager for the stats CLI's read-only
// diagnostics.
func (e *Engine) Manager() *manager.Manager {
	return e.mgr
}

// Close signals every component goroutine to exit, waits for them, and
// closes the manager's SSTable file handles.
func (e *Engine) Close() error {
	e.logger.Info("engine closing")
	e.cancel()
	e.wg.Wait()
	return e.mgr.Close()
}

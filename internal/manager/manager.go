// Package manager implements the SSTable manager: the single long-lived
// task that owns the ordered SSTable sequence, services reads that miss
// the MemTable, and drives k-way merge compaction.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/guycipher/lsmstore/internal/command"
	"github.com/guycipher/lsmstore/internal/record"
	"github.com/guycipher/lsmstore/internal/sstable"
	"golang.org/x/sync/errgroup"
)

const (
	filePrefix   = "table_"
	counterWidth = 20 // zero-padded decimal digits; enough for any uint64
)

// openConcurrency bounds how many SSTable files are decoded in parallel
// during startup recovery.
const openConcurrency = 4

// Options configures a Manager.
type Options struct {
	Directory              string
	BlockStride            int
	CompactionTriggerRatio float64

	BloomFilter               bool
	Compression               bool
	Checksum                  bool
	CompactionDropsTombstones bool

	Inbox chan command.Envelope

	Logger  *slog.Logger
	Metrics Metrics
}

// Metrics is the subset of observability hooks the manager drives. A nil
// field is simply not called; engine wires the real Prometheus
// implementation (see internal/metrics).
type Metrics struct {
	FlushesTotal      func()
	CompactionsTotal  func()
	SSTableCount      func(int)
	SSTableBytes      func(int64)
}

// Manager owns the ordered SSTable sequence (oldest first, newest at the
// tail) and the data directory. It is single-task: everything below is
// touched only from the goroutine running Listen.
type Manager struct {
	dir     string
	opts    Options
	tables  []*sstable.Table
	counter uint64

	inbox   chan command.Envelope
	logger  *slog.Logger
	metrics Metrics
}

// Open scans dir for existing SSTable files, opens them concurrently
// (bounded by openConcurrency), and returns a Manager ready to Listen.
func Open(ctx context.Context, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(opts.Directory)
	if err != nil {
		return nil, errors.Wrapf(err, "manager: read directory %s", opts.Directory)
	}

	type named struct {
		path string
		n    uint64
	}
	var files []named
	var maxN uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, sstable.MetaSuffix()) {
			continue
		}
		if !strings.HasPrefix(name, filePrefix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(name, filePrefix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, named{path: filepath.Join(opts.Directory, name), n: n})
		if n > maxN {
			maxN = n
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	tables := make([]*sstable.Table, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			t, err := sstable.Open(f.path, tableOptions(opts))
			if err != nil {
				return errors.Wrapf(err, "manager: open %s", f.path)
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counter := uint64(0)
	if len(files) > 0 {
		counter = maxN + 1
	}

	m := &Manager{
		dir:     opts.Directory,
		opts:    opts,
		tables:  tables,
		counter: counter,
		inbox:   opts.Inbox,
		logger:  logger,
		metrics: opts.Metrics,
	}
	m.reportGauges()
	logger.Info("manager recovered", "directory", opts.Directory, "tables", len(tables))
	return m, nil
}

func tableOptions(opts Options) sstable.Options {
	return sstable.Options{
		BlockStride: opts.BlockStride,
		BloomFilter: opts.BloomFilter,
		Compression: opts.Compression,
		Checksum:    opts.Checksum,
	}
}

// Listen drives the manager's command loop until ctx is canceled or
// inbox is closed.
func (m *Manager) Listen(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	m.logger.Info("manager listener started")
	defer m.logger.Info("manager listener stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-m.inbox:
			if !ok {
				return
			}
			env.Reply <- m.handle(env.Cmd)
		}
	}
}

func (m *Manager) handle(cmd command.Command) command.Reply {
	switch cmd.Kind {
	case command.Get:
		return m.get(cmd.Key)
	case command.Flush:
		return m.flushIntake(cmd.FlushRecords, cmd.FlushSize)
	default:
		return command.Reply{}
	}
}

// get iterates the table list from newest (tail) to oldest (front); the
// first match, live or tombstone, wins.
func (m *Manager) get(key []byte) command.Reply {
	for i := len(m.tables) - 1; i >= 0; i-- {
		r, found, err := m.tables[i].Get(key)
		if err != nil {
			return command.Reply{Err: err}
		}
		if found {
			return command.Reply{Found: true, Tombstone: r.Tombstone, Value: r.Value}
		}
	}
	return command.Reply{}
}

// flushIntake writes pairs as a new SSTable, appends it, and then checks
// the compaction trigger.
func (m *Manager) flushIntake(pairs []record.Record, _ int) command.Reply {
	path := m.nextTablePath()
	table, err := sstable.Build(path, pairs, tableOptions(m.opts))
	if err != nil {
		m.logger.Error("flush intake failed", "error", err, "path", path)
		return command.Reply{Err: err}
	}
	m.tables = append(m.tables, table)
	if m.metrics.FlushesTotal != nil {
		m.metrics.FlushesTotal()
	}
	m.logger.Info("flushed memtable to sstable", "path", path, "records", len(pairs))

	if m.shouldCompact() {
		if err := m.compact(); err != nil {
			// Compaction failure never invalidates the flush that just
			// succeeded; the manager simply tries again on the next
			// flush.
			m.logger.Error("compaction failed", "error", err)
		}
	}
	m.reportGauges()
	return command.Reply{Found: true}
}

func (m *Manager) nextTablePath() string {
	name := fmt.Sprintf("%s%0*d", filePrefix, counterWidth, m.counter)
	m.counter++
	return filepath.Join(m.dir, name)
}

// shouldCompact evaluates S_newer / S_old >= compaction_trigger_ratio.
// With zero or one table the trigger never fires.
func (m *Manager) shouldCompact() bool {
	if len(m.tables) < 2 {
		return false
	}
	sOld := m.tables[0].Size()
	if sOld == 0 {
		return true
	}
	sNewer := 0
	for _, t := range m.tables[1:] {
		sNewer += t.Size()
	}
	return float64(sNewer)/float64(sOld) >= m.opts.CompactionTriggerRatio
}

// compact merges every current SSTable into one, newest-wins on
// duplicate keys, and atomically replaces the table list. Failure before
// the final replace leaves the original list and files intact.
func (m *Manager) compact() error {
	inputs := make([]mergeInput, len(m.tables))
	for i, t := range m.tables {
		records, err := t.GetAll()
		if err != nil {
			return errors.Wrapf(err, "manager: read %s for compaction", t.Path())
		}
		// rank 0 is newest; m.tables is oldest-first, so the newest
		// table is the last element.
		rank := len(m.tables) - 1 - i
		inputs[i] = mergeInput{records: records, rank: rank}
	}

	merged := Merge(inputs)
	if m.opts.CompactionDropsTombstones {
		merged = dropTombstones(merged)
	}

	path := m.nextTablePath()
	newTable, err := sstable.Build(path, merged, tableOptions(m.opts))
	if err != nil {
		return errors.Wrapf(err, "manager: write compacted table %s", path)
	}

	oldTables := m.tables
	m.tables = []*sstable.Table{newTable}

	for _, t := range oldTables {
		if err := t.Delete(); err != nil {
			m.logger.Error("failed to delete compacted-away table", "path", t.Path(), "error", err)
		}
	}

	if m.metrics.CompactionsTotal != nil {
		m.metrics.CompactionsTotal()
	}
	m.logger.Info("compaction complete", "inputs", len(oldTables), "output", path, "records", len(merged))
	return nil
}

// dropTombstones removes tombstone records. Only called when compacting
// the full current table set (always true for this manager, since
// compaction always merges every table), so a dropped tombstone can
// never resurrect an older, already-compacted value.
func dropTombstones(records []record.Record) []record.Record {
	out := records[:0]
	for _, r := range records {
		if !r.Tombstone {
			out = append(out, r)
		}
	}
	return out
}

// Close closes every open SSTable file handle without deleting them.
func (m *Manager) Close() error {
	var firstErr error
	for _, t := range m.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tables returns a snapshot of the current table list, oldest first.
// Used by the stats CLI and by tests; callers must not mutate the slice.
func (m *Manager) Tables() []*sstable.Table {
	return m.tables
}

func (m *Manager) reportGauges() {
	if m.metrics.SSTableCount != nil {
		m.metrics.SSTableCount(len(m.tables))
	}
	if m.metrics.SSTableBytes != nil {
		total := int64(0)
		for _, t := range m.tables {
			total += int64(t.Size())
		}
		m.metrics.SSTableBytes(total)
	}
}

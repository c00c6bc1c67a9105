// Package memtable implements the in-memory ordered map tier of the LSM
// tree: the only component in the system that takes a lock, and the only
// one that triggers a synchronous flush to the SSTable manager.
package memtable

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/guycipher/lsmstore/internal/command"
	"github.com/guycipher/lsmstore/internal/record"
)

// ErrDegraded is surfaced to Put callers once the manager has replied to
// a flush with an error: the MemTable cannot safely snapshot-and-clear
// again without risking silent data loss, so it refuses further Puts
// until the process restarts. Delete does not check it.
var ErrDegraded = errors.New("memtable: degraded after a failed flush, restart required")

type entry struct {
	value     []byte
	tombstone bool
}

// counterWeight returns the entry's contribution to the accounting
// counter. Tombstones contribute nothing: the counter tracks only live
// bytes (§4.5, "ignoring tombstones"), and Delete never adds a
// tombstone's weight, so this must return 0 here too or a later
// put/delete subtracting a prior tombstone's weight would underflow
// the counter for bytes that were never added.
func counterWeight(key string, e entry) int {
	if e.tombstone {
		return 0
	}
	return len(key) + len(e.value)
}

// MemTable is the size-bounded in-memory tier. It is safe to drive
// concurrently through Listen's channel; Put/Get/Delete are exported for
// direct, lock-protected use by tests.
type MemTable struct {
	mu       sync.RWMutex
	entries  map[string]entry
	counter  int
	degraded bool

	sizeLimit int

	inbox    chan command.Envelope
	flushOut chan command.Envelope

	logger *slog.Logger
}

// Options configures a MemTable.
type Options struct {
	SizeLimit int
	Inbox     chan command.Envelope
	FlushOut  chan command.Envelope
	Logger    *slog.Logger
}

// New constructs a MemTable. Call Listen in its own goroutine to start
// serving requests from Inbox.
func New(opts Options) *MemTable {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemTable{
		entries:   make(map[string]entry),
		sizeLimit: opts.SizeLimit,
		inbox:     opts.Inbox,
		flushOut:  opts.FlushOut,
		logger:    logger,
	}
}

// Get returns the current value or tombstone for key, and whether the
// key is present at all (in either form).
func (m *MemTable) Get(key []byte) (value []byte, tombstone bool, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[string(key)]
	if !ok {
		return nil, false, false
	}
	return e.value, e.tombstone, true
}

// Put inserts or overwrites key with value, adjusts the accounting
// counter, and triggers a synchronous flush if the counter now exceeds
// the size limit. It returns the prior live value, if any.
func (m *MemTable) Put(ctx context.Context, key, value []byte) (prior []byte, hadPrior bool, err error) {
	if len(value) == 0 {
		return nil, false, errors.WithStack(record.ErrEmptyValue)
	}

	m.mu.Lock()
	if m.degraded {
		m.mu.Unlock()
		return nil, false, errors.WithStack(ErrDegraded)
	}

	k := string(key)
	old, existed := m.entries[k]
	if existed {
		m.counter -= counterWeight(k, old)
	}
	e := entry{value: value}
	m.entries[k] = e
	m.counter += counterWeight(k, e)

	needsFlush := m.counter > m.sizeLimit
	var snapshot []record.Record
	var snapshotSize int
	if needsFlush {
		snapshot, snapshotSize = m.snapshotLocked()
	}
	m.mu.Unlock()

	if needsFlush {
		if err := m.flush(ctx, snapshot, snapshotSize); err != nil {
			return nil, false, err
		}
	}

	if existed && !old.tombstone {
		return old.value, true, nil
	}
	return nil, false, nil
}

// Delete inserts a tombstone for key. Tombstones shrink the accounting
// counter and never themselves trigger a flush.
func (m *MemTable) Delete(key []byte) (prior []byte, hadPrior bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	old, existed := m.entries[k]
	if existed {
		m.counter -= counterWeight(k, old)
	}
	m.entries[k] = entry{tombstone: true}

	if existed && !old.tombstone {
		return old.value, true
	}
	return nil, false
}

// snapshotLocked materializes every entry as a record, sorted by key.
// Caller must hold the write lock; the lock is held across this call and
// the subsequent clear so no concurrent put/delete is lost (see the
// ordering guarantee in the component's design notes).
func (m *MemTable) snapshotLocked() ([]record.Record, int) {
	records := make([]record.Record, 0, len(m.entries))
	for k, e := range m.entries {
		if e.tombstone {
			records = append(records, record.NewTombstone([]byte(k)))
		} else {
			records = append(records, record.New([]byte(k), e.value))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Key, records[j].Key) < 0
	})
	return records, m.counter
}

// flush sends the snapshot to the manager, awaits acknowledgement, then
// clears the map and resets the counter. The write lock is NOT held
// across the channel round-trip (that would block readers for the
// duration of a disk write); instead the caller already holds it only
// through snapshot, and flush re-acquires it just to clear.
func (m *MemTable) flush(ctx context.Context, snapshot []record.Record, size int) error {
	env := command.NewEnvelope(command.NewFlush(snapshot, size))
	select {
	case m.flushOut <- env:
	case <-ctx.Done():
		return ctx.Err()
	}

	var reply command.Reply
	select {
	case reply = <-env.Reply:
	case <-ctx.Done():
		return ctx.Err()
	}

	if reply.Err != nil {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		m.logger.Error("flush failed, memtable degraded", "error", reply.Err)
		return errors.Wrap(reply.Err, "memtable: flush failed")
	}

	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.counter = 0
	m.mu.Unlock()
	return nil
}

// Listen drives the MemTable's command loop until ctx is canceled or
// inbox is closed. Run it as the component's single long-lived goroutine.
func (m *MemTable) Listen(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	m.logger.Info("memtable listener started")
	defer m.logger.Info("memtable listener stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-m.inbox:
			if !ok {
				return
			}
			env.Reply <- m.handle(ctx, env.Cmd)
		}
	}
}

func (m *MemTable) handle(ctx context.Context, cmd command.Command) command.Reply {
	switch cmd.Kind {
	case command.Get:
		value, tombstone, found := m.Get(cmd.Key)
		return command.Reply{Found: found, Tombstone: tombstone, Value: value}
	case command.Put:
		_, _, err := m.Put(ctx, cmd.Key, cmd.Value)
		if err != nil {
			return command.Reply{Err: err}
		}
		return command.Reply{Found: true}
	case command.Delete:
		m.Delete(cmd.Key)
		return command.Reply{Found: true, Tombstone: true}
	default:
		// Flush and any other variant belong to the manager, not the
		// MemTable; ignore per the component contract.
		return command.Reply{}
	}
}

// Len reports the current number of live+tombstone entries, for tests
// and diagnostics.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Counter reports the current accounting counter value.
func (m *MemTable) Counter() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counter
}

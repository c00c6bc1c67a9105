package memtable

import (
	"context"
	"testing"

	"github.com/guycipher/lsmstore/internal/command"
	"github.com/stretchr/testify/require"
)

func newTestMemTable(t *testing.T, sizeLimit int) (*MemTable, chan command.Envelope) {
	t.Helper()
	flushOut := make(chan command.Envelope, 8)
	m := New(Options{
		SizeLimit: sizeLimit,
		Inbox:     make(chan command.Envelope, 8),
		FlushOut:  flushOut,
	})
	return m, flushOut
}

// ackFlushes drains flushOut, replying success to every Flush message,
// standing in for the manager so Put's synchronous flush never blocks.
func ackFlushes(t *testing.T, flushOut chan command.Envelope) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case env := <-flushOut:
				env.Reply <- command.Reply{Found: true}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func TestPutThenGetReadsBack(t *testing.T) {
	m, flushOut := newTestMemTable(t, 1<<20)
	defer ackFlushes(t, flushOut)()

	_, _, err := m.Put(context.Background(), []byte("abc"), []byte("def"))
	require.NoError(t, err)

	value, tombstone, found := m.Get([]byte("abc"))
	require.True(t, found)
	require.False(t, tombstone)
	require.Equal(t, []byte("def"), value)
}

func TestDeleteAlwaysLeavesTombstone(t *testing.T) {
	m, flushOut := newTestMemTable(t, 1<<20)
	defer ackFlushes(t, flushOut)()

	// Tombstone a key that was never present.
	m.Delete([]byte("never-seen"))
	_, tombstone, found := m.Get([]byte("never-seen"))
	require.True(t, found)
	require.True(t, tombstone)

	// Tombstone a key that currently holds a live value.
	_, _, err := m.Put(context.Background(), []byte("abc"), []byte("def"))
	require.NoError(t, err)
	prior, hadPrior := m.Delete([]byte("abc"))
	require.True(t, hadPrior)
	require.Equal(t, []byte("def"), prior)

	_, tombstone, found = m.Get([]byte("abc"))
	require.True(t, found)
	require.True(t, tombstone)
}

func TestPutEmptyValueRejected(t *testing.T) {
	m, flushOut := newTestMemTable(t, 1<<20)
	defer ackFlushes(t, flushOut)()

	_, _, err := m.Put(context.Background(), []byte("abc"), nil)
	require.Error(t, err)
}

func TestAccountingCounterTracksLiveBytesOnly(t *testing.T) {
	m, flushOut := newTestMemTable(t, 1<<20)
	defer ackFlushes(t, flushOut)()
	ctx := context.Background()

	_, _, err := m.Put(ctx, []byte("abc"), []byte("defg")) // +7
	require.NoError(t, err)
	require.Equal(t, 7, m.Counter())

	_, _, err = m.Put(ctx, []byte("xy"), []byte("z")) // +3
	require.NoError(t, err)
	require.Equal(t, 10, m.Counter())

	m.Delete([]byte("abc")) // tombstones contribute 0; -7 for the live bytes it replaces
	require.Equal(t, 3, m.Counter())

	// Regression: delete-then-reinsert must not double-subtract a
	// tombstone's (zero) weight. After deleting "abc" above, the
	// counter is 3 (just "xy"->"z"). Re-putting "abc"->"bar" (+6) must
	// land the counter on exactly 9, not 6 (3 - 3 + 6, which is what it
	// would be if the tombstone had been treated as contributing len(key)).
	_, _, err = m.Put(ctx, []byte("abc"), []byte("bar"))
	require.NoError(t, err)
	require.Equal(t, 9, m.Counter())

	// Deleting it again should bring the counter back down by exactly
	// the live weight it just added, with no residual tombstone bytes.
	prior, hadPrior := m.Delete([]byte("abc"))
	require.True(t, hadPrior)
	require.Equal(t, []byte("bar"), prior)
	require.Equal(t, 3, m.Counter())
}

func TestFlushFiresOnFirstPutExceedingLimit(t *testing.T) {
	// "abc"->"defg" weighs 7 bytes; a limit of 6 is exceeded by the very
	// first put.
	m, flushOut := newTestMemTable(t, 6)

	var flushed command.Command
	done := make(chan struct{})
	go func() {
		env := <-flushOut
		flushed = env.Cmd
		env.Reply <- command.Reply{Found: true}
		close(done)
	}()

	_, _, err := m.Put(context.Background(), []byte("abc"), []byte("defg"))
	require.NoError(t, err)
	<-done

	require.Equal(t, command.Flush, flushed.Kind)
	require.Len(t, flushed.FlushRecords, 1)
	require.Equal(t, []byte("abc"), flushed.FlushRecords[0].Key)

	// The map is cleared and the counter reset after the flush
	// acknowledgement.
	require.Equal(t, 0, m.Len())
	require.Equal(t, 0, m.Counter())
	_, _, found := m.Get([]byte("abc"))
	require.False(t, found)
}

func TestFlushSendsExactPreFlushEntriesIncludingTombstones(t *testing.T) {
	m, flushOut := newTestMemTable(t, 4)
	ctx := context.Background()

	var flushed command.Command
	done := make(chan struct{})
	go func() {
		env := <-flushOut
		flushed = env.Cmd
		env.Reply <- command.Reply{Found: true}
		close(done)
	}()

	_, _, err := m.Put(ctx, []byte("a"), []byte("1"))
	require.NoError(t, err)
	m.Delete([]byte("b"))
	_, _, err = m.Put(ctx, []byte("c"), []byte("defg")) // pushes counter over the limit
	require.NoError(t, err)
	<-done

	byKey := make(map[string]bool) // key -> tombstone
	for _, r := range flushed.FlushRecords {
		byKey[string(r.Key)] = r.Tombstone
	}
	require.Len(t, byKey, 3)
	require.False(t, byKey["a"])
	require.True(t, byKey["b"])
	require.False(t, byKey["c"])

	require.Equal(t, 0, m.Len())
	require.Equal(t, 0, m.Counter())
}

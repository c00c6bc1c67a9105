// Package command defines the tagged-union message every core component
// speaks: a typed request paired with a reply channel.
package command

import "github.com/guycipher/lsmstore/internal/record"

// Kind identifies which variant a Command carries.
type Kind int

const (
	// Get reads the current value for Key.
	Get Kind = iota
	// Put writes Value for Key.
	Put
	// Delete writes a tombstone for Key.
	Delete
	// Flush is internal: the MemTable emits it to the manager when its
	// size threshold is exceeded. The router never forwards this
	// variant from the adapter.
	Flush
)

// Command is the single message type routed between adapter, router,
// MemTable, and manager.
type Command struct {
	Kind Kind

	Key   []byte
	Value []byte

	// FlushRecords and FlushSize are only meaningful when Kind == Flush.
	FlushRecords []record.Record
	FlushSize    int
}

// Reply is the single response type every component sends back on a
// command's reply channel.
type Reply struct {
	// Found is true when the lookup matched a live record or a
	// tombstone. It is false for "absent".
	Found bool
	// Tombstone is true when Found is true but the match was a
	// deletion marker rather than a live value.
	Tombstone bool
	Value     []byte

	// Err, if non-nil, means the command could not be completed. Value
	// and Found are meaningless when Err is set.
	Err error
}

// NewGet builds a Get command.
func NewGet(key []byte) Command {
	return Command{Kind: Get, Key: key}
}

// NewPut builds a Put command.
func NewPut(key, value []byte) Command {
	return Command{Kind: Put, Key: key, Value: value}
}

// NewDelete builds a Delete command.
func NewDelete(key []byte) Command {
	return Command{Kind: Delete, Key: key}
}

// NewFlush builds an internal Flush command carrying a MemTable snapshot.
func NewFlush(records []record.Record, size int) Command {
	return Command{Kind: Flush, FlushRecords: records, FlushSize: size}
}

// Envelope pairs a Command with the channel its reply must be sent on.
// Every long-lived component's inbox is a channel of Envelope.
type Envelope struct {
	Cmd   Command
	Reply chan Reply
}

// NewEnvelope builds an Envelope with a fresh reply channel buffered for
// exactly one Reply, so the responder never blocks on sending it.
func NewEnvelope(cmd Command) Envelope {
	return Envelope{Cmd: cmd, Reply: make(chan Reply, 1)}
}

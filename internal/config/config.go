// Package config defines the typed, validated configuration surface for
// the store.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
)

// Config is the full set of options accepted by the engine and its
// adapter.
type Config struct {
	// Port is the adapter's listening port; the core never reads it.
	Port int

	// Directory is where SSTable files live. Must exist.
	Directory string

	// BlockStride is the number of records per sparse-index block.
	BlockStride int

	// MemtableLimit is the byte threshold that triggers a flush.
	MemtableLimit int

	// CompactionTriggerRatio is S_newer/S_old; compaction fires when the
	// ratio meets or exceeds this value.
	CompactionTriggerRatio float64

	// BloomFilterEnabled turns the SSTable negative-filter read-path
	// optimization on or off.
	BloomFilterEnabled bool

	// CompressionEnabled turns per-table value compression on or off.
	CompressionEnabled bool

	// ChecksumEnabled appends a trailing xxhash64 checksum to every
	// SSTable file and verifies it on open.
	ChecksumEnabled bool

	// CompactionDropsTombstones opts into dropping tombstones when a
	// compaction merges every currently-known table (see the manager's
	// design notes for why this is conservative).
	CompactionDropsTombstones bool
}

// Default returns a Config with conservative defaults suitable for
// local development.
func Default() Config {
	return Config{
		Port:                   8080,
		Directory:              "lsmstore_data",
		BlockStride:            16,
		MemtableLimit:          4 * 1024 * 1024,
		CompactionTriggerRatio: 1.0,
		BloomFilterEnabled:     true,
		CompressionEnabled:     false,
		ChecksumEnabled:        false,
	}
}

// Validate reports a configuration error before the engine starts, per
// the exit/error behavior contract: unrecoverable startup errors should
// terminate the process with a nonzero exit code rather than fail a
// request later.
func (c Config) Validate() error {
	if c.BlockStride < 1 {
		return errors.Newf("config: block_stride must be >= 1, got %d", c.BlockStride)
	}
	if c.MemtableLimit <= 0 {
		return errors.Newf("config: memtable_limit must be > 0, got %d", c.MemtableLimit)
	}
	if c.CompactionTriggerRatio < 0 {
		return errors.Newf("config: compaction_trigger_ratio must be >= 0, got %f", c.CompactionTriggerRatio)
	}
	info, err := os.Stat(c.Directory)
	if err != nil {
		return errors.Wrapf(err, "config: directory %s", c.Directory)
	}
	if !info.IsDir() {
		return errors.Newf("config: %s is not a directory", c.Directory)
	}
	return nil
}

// EnsureDirectory creates Directory if it does not already exist.
func (c Config) EnsureDirectory() error {
	if err := os.MkdirAll(c.Directory, 0o755); err != nil {
		return errors.Wrapf(err, "config: create directory %s", c.Directory)
	}
	return nil
}

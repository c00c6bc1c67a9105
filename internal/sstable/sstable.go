// Package sstable implements the immutable, on-disk sorted run that backs
// one generation of flushed or compacted records.
package sstable

import (
	"bytes"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/guycipher/lsmstore/internal/bloom"
	"github.com/guycipher/lsmstore/internal/compressor"
	"github.com/guycipher/lsmstore/internal/record"
	"github.com/guycipher/lsmstore/internal/sparseindex"
	"github.com/guycipher/lsmstore/internal/storage"
)

const metaSuffix = ".meta"

// MetaSuffix returns the sidecar file suffix used for a table's bloom
// filter and compression flag, so callers enumerating a directory can
// tell data files from sidecars.
func MetaSuffix() string {
	return metaSuffix
}

// Options configures how a Table is built or opened. The same Options
// must be used for Build and for every later Open of that file, since
// the on-disk bytes depend on them.
type Options struct {
	BlockStride      int
	BloomFilter      bool
	Compression      bool
	Checksum         bool
	ExpectedKeyCount int // not read: Build sizes the bloom filter from len(records)
}

// Table is a read-only handle to one SSTable file plus its sparse index
// and optional bloom filter. Table is immutable between construction and
// Delete.
type Table struct {
	file  *storage.File
	index sparseindex.Index
	bloom *bloom.Filter
	size  int

	compression bool
	checksum    bool

	// cachedAll holds the full, uncompressed record set: Build keeps the
	// records it was given and Open keeps the ones it decoded, so GetAll
	// and the compaction reader never re-decode from disk. Get does not
	// use it and always reads its block from the file.
	cachedAll []record.Record
}

// Build writes records (assumed already sorted and unique by key) to a
// new file at path and returns a read-only handle to it.
func Build(path string, records []record.Record, opts Options) (*Table, error) {
	stride := opts.BlockStride
	if stride < 1 {
		stride = 1
	}

	encodeRecords := records
	if opts.Compression {
		encodeRecords = make([]record.Record, len(records))
		comp := compressor.Default()
		for i, r := range records {
			if r.Tombstone {
				encodeRecords[i] = r
				continue
			}
			encodeRecords[i] = record.Record{Key: r.Key, Value: comp.Compress(r.Value)}
		}
	}

	idx := sparseindex.Build(encodeRecords, stride)
	payload := record.EncodeAll(encodeRecords)

	file, err := storage.Create(path, payload, opts.Checksum)
	if err != nil {
		return nil, err
	}

	size := 0
	for _, r := range records {
		size += record.Size(r)
	}

	var filter *bloom.Filter
	if opts.BloomFilter {
		keys := make([][]byte, len(records))
		for i, r := range records {
			keys[i] = r.Key
		}
		filter = bloom.Build(keys)
	}

	if err := writeMeta(path, opts, filter); err != nil {
		file.Close()
		return nil, err
	}

	return &Table{
		file:        file,
		index:       idx,
		bloom:       filter,
		size:        size,
		compression: opts.Compression,
		checksum:    opts.Checksum,
		cachedAll:   records,
	}, nil
}

// Open loads an existing file, decodes all its records to rebuild the
// sparse index (there is no persisted index; it is always derived from
// the data, matching the reference's recovery behavior), loads the bloom
// filter, if any, from the .meta sidecar, and returns a read-only handle.
func Open(path string, opts Options) (*Table, error) {
	file, err := storage.Open(path, opts.Checksum)
	if err != nil {
		return nil, err
	}

	raw, err := file.ReadAll()
	if err != nil {
		file.Close()
		return nil, err
	}
	encodeRecords, err := record.DecodeAll(raw)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "sstable: corrupt file %s", path)
	}

	stride := opts.BlockStride
	if stride < 1 {
		stride = 1
	}
	idx := sparseindex.Build(encodeRecords, stride)

	liveRecords := encodeRecords
	size := 0
	if opts.Compression {
		comp := compressor.Default()
		liveRecords = make([]record.Record, len(encodeRecords))
		for i, r := range encodeRecords {
			if r.Tombstone {
				liveRecords[i] = r
				size += record.Size(r)
				continue
			}
			decoded := record.Record{Key: r.Key, Value: comp.Decompress(r.Value)}
			liveRecords[i] = decoded
			size += record.Size(decoded)
		}
	} else {
		for _, r := range encodeRecords {
			size += record.Size(r)
		}
	}

	filter, err := readMetaBloom(path)
	if err != nil {
		file.Close()
		return nil, err
	}

	t := &Table{
		file:        file,
		index:       idx,
		bloom:       filter,
		size:        size,
		compression: opts.Compression,
		checksum:    opts.Checksum,
		cachedAll:   liveRecords,
	}
	return t, nil
}

// Get consults the bloom filter (if any), then the sparse index, then
// decodes the target block and binary-searches it. A tombstone is
// returned as a legitimate match with Tombstone set.
func (t *Table) Get(key []byte) (record.Record, bool, error) {
	if t.bloom != nil && !t.bloom.Check(key) {
		return record.Record{}, false, nil
	}

	offset, length, ok := t.index.Lookup(key)
	if !ok {
		return record.Record{}, false, nil
	}

	raw, err := t.file.ReadAt(offset, length)
	if err != nil {
		return record.Record{}, false, err
	}
	blockRecords, err := record.DecodeAll(raw)
	if err != nil {
		return record.Record{}, false, errors.Wrapf(err, "sstable: corrupt block in %s", t.file.Path())
	}

	i := sort.Search(len(blockRecords), func(i int) bool {
		return bytes.Compare(blockRecords[i].Key, key) >= 0
	})
	if i == len(blockRecords) || !bytes.Equal(blockRecords[i].Key, key) {
		return record.Record{}, false, nil
	}

	r := blockRecords[i]
	if t.compression && !r.Tombstone {
		r.Value = compressor.Default().Decompress(r.Value)
	}
	return r, true, nil
}

// GetAll decodes and returns every record in the file, decompressing
// values if the table was built with compression.
func (t *Table) GetAll() ([]record.Record, error) {
	if t.cachedAll != nil {
		return t.cachedAll, nil
	}
	raw, err := t.file.ReadAll()
	if err != nil {
		return nil, err
	}
	records, err := record.DecodeAll(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: corrupt file %s", t.file.Path())
	}
	if t.compression {
		comp := compressor.Default()
		for i, r := range records {
			if !r.Tombstone {
				records[i].Value = comp.Decompress(r.Value)
			}
		}
	}
	return records, nil
}

// Size returns the live-bytes accounting total used by the compaction
// trigger.
func (t *Table) Size() int {
	return t.size
}

// Path returns the table's file path.
func (t *Table) Path() string {
	return t.file.Path()
}

// Delete removes the table's file (and its metadata sidecar) from disk.
// The Table is unusable afterward.
func (t *Table) Delete() error {
	if err := t.file.Delete(); err != nil {
		return err
	}
	if err := os.Remove(t.file.Path() + metaSuffix); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "sstable: remove meta sidecar")
	}
	return nil
}

// Close releases the file handle without deleting it from disk.
func (t *Table) Close() error {
	return t.file.Close()
}

func writeMeta(path string, opts Options, filter *bloom.Filter) error {
	var buf bytes.Buffer
	if opts.Compression {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if filter != nil {
		buf.WriteByte(1)
		buf.Write(filter.Serialize())
	} else {
		buf.WriteByte(0)
	}
	return os.WriteFile(path+metaSuffix, buf.Bytes(), 0o644)
}

func readMetaBloom(path string) (*bloom.Filter, error) {
	data, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "sstable: read meta sidecar")
	}
	if len(data) < 2 {
		return nil, nil
	}
	hasFilter := data[1] == 1
	if !hasFilter {
		return nil, nil
	}
	return bloom.Deserialize(data[2:])
}

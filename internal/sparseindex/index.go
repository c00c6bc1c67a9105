// Package sparseindex builds and queries the sparse block index that sits
// in front of every SSTable's on-disk records.
package sparseindex

import (
	"bytes"
	"sort"

	"github.com/guycipher/lsmstore/internal/record"
)

// Block describes one contiguous run of records inside an SSTable file:
// its first key, and its byte extent in the concatenated encoding.
type Block struct {
	FirstKey []byte
	Offset   int
	Length   int
}

// Index is the ordered sequence of blocks for one SSTable. Blocks are
// monotone in key and in offset.
type Index struct {
	blocks []Block
}

// Build partitions records (assumed already sorted by key) into blocks of
// exactly blockStride records each (the last block may be shorter).
func Build(records []record.Record, blockStride int) Index {
	if blockStride < 1 {
		blockStride = 1
	}

	var blocks []Block
	offset := 0
	for i := 0; i < len(records); i += blockStride {
		end := i + blockStride
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]
		length := len(record.EncodeAll(chunk))

		blocks = append(blocks, Block{
			FirstKey: append([]byte(nil), chunk[0].Key...),
			Offset:   offset,
			Length:   length,
		})
		offset += length
	}
	return Index{blocks: blocks}
}

// Lookup returns the (offset, length) extent of the block that must
// contain key if it is present anywhere in the table. The search uses a
// binary search over first keys with a "floor" tie-break: the returned
// block has the greatest FirstKey <= key. Returns ok=false when key is
// smaller than every block's first key, meaning key cannot be present.
func (idx Index) Lookup(key []byte) (offset, length int, ok bool) {
	blocks := idx.blocks
	if len(blocks) == 0 {
		return 0, 0, false
	}

	// sort.Search finds the first index for which the predicate holds;
	// we want the first block whose FirstKey is > key, then step back
	// one to get the floor.
	pos := sort.Search(len(blocks), func(i int) bool {
		return bytes.Compare(blocks[i].FirstKey, key) > 0
	})

	if pos == 0 {
		return 0, 0, false
	}
	b := blocks[pos-1]
	return b.Offset, b.Length, true
}

// Blocks exposes the underlying block sequence, chiefly for tests and for
// the manager's startup diagnostics.
func (idx Index) Blocks() []Block {
	return idx.blocks
}

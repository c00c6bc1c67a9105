package sparseindex

import (
	"testing"

	"github.com/guycipher/lsmstore/internal/record"
	"github.com/stretchr/testify/assert"
)

func sample16() []record.Record {
	return []record.Record{
		record.New([]byte("abc00"), []byte("def")),
		record.New([]byte("abc01"), []byte("defg")),
		record.New([]byte("abc02"), []byte("de")),
		record.New([]byte("abc03"), []byte("defgh")),
		record.New([]byte("abc04"), []byte("defg")),
		record.New([]byte("abc05"), []byte("defghij")),
		record.New([]byte("abc06"), []byte("def")),
		record.New([]byte("abc07"), []byte("defgh")),
		record.NewTombstone([]byte("abc08")),
		record.NewTombstone([]byte("abc09")),
		record.NewTombstone([]byte("abc10")),
		record.NewTombstone([]byte("abc11")),
		record.NewTombstone([]byte("abc12")),
		record.NewTombstone([]byte("abc13")),
		record.NewTombstone([]byte("abc14")),
		record.NewTombstone([]byte("abc15")),
	}
}

func TestBuildBlockExtents(t *testing.T) {
	idx := Build(sample16(), 3)
	blocks := idx.Blocks()

	want := []Block{
		{FirstKey: []byte("abc00"), Offset: 0, Length: 72},
		{FirstKey: []byte("abc03"), Offset: 72, Length: 79},
		{FirstKey: []byte("abc06"), Offset: 151, Length: 71},
		{FirstKey: []byte("abc09"), Offset: 222, Length: 63},
		{FirstKey: []byte("abc12"), Offset: 285, Length: 63},
		{FirstKey: []byte("abc15"), Offset: 348, Length: 21},
	}
	assert.Len(t, blocks, len(want))
	for i, b := range want {
		assert.Equal(t, b.FirstKey, blocks[i].FirstKey)
		assert.Equal(t, b.Offset, blocks[i].Offset)
		assert.Equal(t, b.Length, blocks[i].Length)
	}
}

func TestLookupFloorTieBreak(t *testing.T) {
	idx := Build(sample16(), 3)

	_, _, ok := idx.Lookup([]byte("a"))
	assert.False(t, ok)

	off, length, ok := idx.Lookup([]byte("abc01"))
	assert.True(t, ok)
	assert.Equal(t, 0, off)
	assert.Equal(t, 72, length)

	off, length, ok = idx.Lookup([]byte("abc03"))
	assert.True(t, ok)
	assert.Equal(t, 72, off)
	assert.Equal(t, 79, length)

	off, length, ok = idx.Lookup([]byte("abc15"))
	assert.True(t, ok)
	assert.Equal(t, 348, off)
	assert.Equal(t, 21, length)
}

func TestLookupEmptyIndex(t *testing.T) {
	idx := Build(nil, 3)
	_, _, ok := idx.Lookup([]byte("anything"))
	assert.False(t, ok)
}

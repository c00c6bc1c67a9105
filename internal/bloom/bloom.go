// Package bloom
// BSD 3-Clause License
//
// Copyright (c) 2024, Alex Gaetano Padula
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
//  1. Redistributions of source code must retain the above copyright notice, this
//     list of conditions and the following disclaimer.
//
//  2. Redistributions in binary form must reproduce the above copyright notice,
//     this list of conditions and the following disclaimer in the documentation
//     and/or other materials provided with the distribution.
//
//  3. Neither the name of the copyright holder nor the names of its
//     contributors may be used to endorse or promote products derived from
//     this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
//
// Package bloom is a fixed-size bloom filter used by an SSTable as a
// read-path optimization: a negative Check means the key is definitely
// absent and the sparse index need not be consulted at all. Unlike a
// mutable structure, an SSTable's key set is known in full at
// construction time, so this filter never resizes — it is sized once
// from the expected key count and never touched again after Build.
package bloom

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/guycipher/lsmstore/internal/murmur"
)

const bitsPerKey = 10 // ~1% false positive rate at k=7, the Bloom-filter textbook ratio

// Filter is an immutable bloom filter over a fixed set of keys.
type Filter struct {
	bits    []bool
	numHash int
}

// New allocates a filter sized for expectedKeys.
func New(expectedKeys int) *Filter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	size := expectedKeys * bitsPerKey
	if size < 64 {
		size = 64
	}
	return &Filter{bits: make([]bool, size), numHash: 7}
}

// Build constructs a filter containing exactly the given keys.
func Build(keys [][]byte) *Filter {
	f := New(len(keys))
	for _, k := range keys {
		f.Add(k)
	}
	return f
}

// Add records key as a member of the filter.
func (f *Filter) Add(key []byte) {
	for i := 0; i < f.numHash; i++ {
		pos := murmur.Hash32(key, uint32(i)) % uint32(len(f.bits))
		f.bits[pos] = true
	}
}

// Check reports whether key might be present. false means key is
// definitely absent; true means key may or may not be present.
func (f *Filter) Check(key []byte) bool {
	for i := 0; i < f.numHash; i++ {
		pos := murmur.Hash32(key, uint32(i)) % uint32(len(f.bits))
		if !f.bits[pos] {
			return false
		}
	}
	return true
}

// Serialize encodes the filter for storage alongside an SSTable.
func (f *Filter) Serialize() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(len(f.bits)))
	binary.Write(&buf, binary.LittleEndian, int32(f.numHash))
	packed := make([]byte, (len(f.bits)+7)/8)
	for i, b := range f.bits {
		if b {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	buf.Write(packed)
	return buf.Bytes()
}

// Deserialize decodes a filter previously produced by Serialize.
func Deserialize(data []byte) (*Filter, error) {
	buf := bytes.NewReader(data)
	var size, numHash int32
	if err := binary.Read(buf, binary.LittleEndian, &size); err != nil {
		return nil, errors.Wrap(err, "bloom: decode size")
	}
	if err := binary.Read(buf, binary.LittleEndian, &numHash); err != nil {
		return nil, errors.Wrap(err, "bloom: decode numHash")
	}
	if size < 0 || size > 1<<24 {
		return nil, errors.New("bloom: invalid filter size")
	}
	packed := make([]byte, (size+7)/8)
	if _, err := buf.Read(packed); err != nil {
		return nil, errors.Wrap(err, "bloom: decode bits")
	}
	bits := make([]bool, size)
	for i := range bits {
		bits[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}
	return &Filter{bits: bits, numHash: int(numHash)}, nil
}

// Package storage
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
// Package storage wraps a single SSTable file with positioned reads and a
// one-shot truncate-write. Unlike a mutable paged file, an SSTable file is
// written exactly once and never again, so there is no periodic background
// sync goroutine here: Create syncs synchronously before returning and the
// file is read-only from then on.
package storage

import (
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// ErrIO wraps an underlying OS error from a file operation.
var ErrIO = errors.New("storage: io failure")

// ErrChecksumMismatch is returned by Open when ChecksumEnabled was used at
// Create time and the trailing checksum does not match the payload.
var ErrChecksumMismatch = errors.New("storage: checksum mismatch")

const checksumSize = 8 // one xxhash64 sum, little-endian via binary is not needed: raw uint64 via Sprint is avoided, we use a fixed 8-byte big-endian encoding

// File is a handle to one immutable on-disk file. Reads are safe for
// concurrent callers because the handle serializes them with its own
// mutex; writers never share a File across goroutines.
type File struct {
	path string
	mu   sync.Mutex
	fh   *os.File
	size int64
}

// Create truncate-writes data to path and returns a read-only handle to
// it. If checksum is true, an 8-byte trailing xxhash64 checksum of data is
// appended after the payload so Open can detect partial writes.
func Create(path string, data []byte, checksum bool) (*File, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "create %s: %v", path, err)
	}

	payload := data
	if checksum {
		sum := xxhash.Sum64(data)
		var sumBytes [checksumSize]byte
		for i := 0; i < checksumSize; i++ {
			sumBytes[checksumSize-1-i] = byte(sum >> (8 * i))
		}
		payload = append(append([]byte(nil), data...), sumBytes[:]...)
	}

	if _, err := fh.Write(payload); err != nil {
		fh.Close()
		return nil, errors.Wrapf(ErrIO, "write %s: %v", path, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return nil, errors.Wrapf(ErrIO, "sync %s: %v", path, err)
	}

	return &File{path: path, fh: fh, size: int64(len(data))}, nil
}

// Open opens an existing file read-only. If checksum is true, the
// trailing 8-byte xxhash64 sum is verified and stripped from the logical
// content the caller sees via ReadAll/ReadAt.
func Open(path string, checksum bool) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "open %s: %v", path, err)
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, errors.Wrapf(ErrIO, "stat %s: %v", path, err)
	}

	size := info.Size()
	if checksum {
		if size < checksumSize {
			fh.Close()
			return nil, errors.WithStack(ErrChecksumMismatch)
		}
		content := make([]byte, size-checksumSize)
		if _, err := fh.ReadAt(content, 0); err != nil {
			fh.Close()
			return nil, errors.Wrapf(ErrIO, "read %s: %v", path, err)
		}
		trailer := make([]byte, checksumSize)
		if _, err := fh.ReadAt(trailer, size-checksumSize); err != nil {
			fh.Close()
			return nil, errors.Wrapf(ErrIO, "read %s: %v", path, err)
		}
		var want uint64
		for i := 0; i < checksumSize; i++ {
			want = want<<8 | uint64(trailer[i])
		}
		if xxhash.Sum64(content) != want {
			fh.Close()
			return nil, errors.WithStack(ErrChecksumMismatch)
		}
		size -= checksumSize
	}

	return &File{path: path, fh: fh, size: size}, nil
}

// ReadAt performs a positioned read of length bytes starting at offset.
func (f *File) ReadAt(offset, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, length)
	if _, err := f.fh.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return nil, errors.Wrapf(ErrIO, "read_at %s: %v", f.path, err)
	}
	return buf, nil
}

// ReadAll reads the entire logical content of the file (checksum trailer,
// if any, already excluded).
func (f *File) ReadAll() ([]byte, error) {
	return f.ReadAt(0, int(f.size))
}

// Size returns the logical content size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Path returns the file's path on disk.
func (f *File) Path() string {
	return f.path
}

// Close closes the underlying handle. Safe to call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fh == nil {
		return nil
	}
	err := f.fh.Close()
	f.fh = nil
	if err != nil {
		return errors.Wrapf(ErrIO, "close %s: %v", f.path, err)
	}
	return nil
}

// Delete closes the handle and removes the file from disk. The handle is
// unusable afterward.
func (f *File) Delete() error {
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(ErrIO, "remove %s: %v", f.path, err)
	}
	return nil
}

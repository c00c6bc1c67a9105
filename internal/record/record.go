// Package record implements the on-disk record codec shared by every
// SSTable: a key, and either a value or a tombstone marker.
package record

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ErrMalformedRecord is returned when a decode would read past the end of
// the buffer, or a length prefix is otherwise inconsistent with the data
// that follows it.
var ErrMalformedRecord = errors.New("record: malformed record")

// ErrEmptyValue is returned by write paths that refuse to store a
// zero-length live value, since the wire format cannot distinguish
// "present but empty" from a tombstone.
var ErrEmptyValue = errors.New("record: empty value is not representable; use Delete")

const lengthPrefixSize = 8 // one little-endian uint64

// Record is a single key-value pair as it appears inside an SSTable.
// A Record with Tombstone set to true carries no meaningful Value.
type Record struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// New builds a live record.
func New(key, value []byte) Record {
	return Record{Key: key, Value: value}
}

// NewTombstone builds a deletion marker for key.
func NewTombstone(key []byte) Record {
	return Record{Key: key, Tombstone: true}
}

// Encode writes the record's wire representation:
// u64 key_length, u64 value_length, key bytes, value bytes.
// A tombstone is encoded with value_length = 0 and no value bytes.
func Encode(r Record) []byte {
	valueLen := len(r.Value)
	if r.Tombstone {
		valueLen = 0
	}

	buf := make([]byte, 0, lengthPrefixSize*2+len(r.Key)+valueLen)
	out := bytes.NewBuffer(buf)

	binary.Write(out, binary.LittleEndian, uint64(len(r.Key)))
	binary.Write(out, binary.LittleEndian, uint64(valueLen))
	out.Write(r.Key)
	if !r.Tombstone {
		out.Write(r.Value)
	}
	return out.Bytes()
}

// Decode reads a single record from the front of data and returns the
// record along with the number of bytes consumed.
func Decode(data []byte) (Record, int, error) {
	if len(data) < lengthPrefixSize*2 {
		return Record{}, 0, errors.WithStack(ErrMalformedRecord)
	}
	keyLen := binary.LittleEndian.Uint64(data[0:8])
	valueLen := binary.LittleEndian.Uint64(data[8:16])

	total := lengthPrefixSize*2 + keyLen + valueLen
	if uint64(len(data)) < total {
		return Record{}, 0, errors.WithStack(ErrMalformedRecord)
	}

	key := make([]byte, keyLen)
	copy(key, data[16:16+keyLen])

	if valueLen == 0 {
		return Record{Key: key, Tombstone: true}, int(total), nil
	}

	value := make([]byte, valueLen)
	copy(value, data[16+keyLen:16+keyLen+valueLen])
	return Record{Key: key, Value: value}, int(total), nil
}

// EncodeAll concatenates the encodings of every record in order, with no
// framing between them.
func EncodeAll(records []Record) []byte {
	var out bytes.Buffer
	for _, r := range records {
		out.Write(Encode(r))
	}
	return out.Bytes()
}

// DecodeAll decodes records from data until the buffer is exhausted.
func DecodeAll(data []byte) ([]Record, error) {
	var records []Record
	for len(data) > 0 {
		r, n, err := Decode(data)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
		data = data[n:]
	}
	return records, nil
}

// Size returns the live-bytes accounting weight of a record: key and value
// length for a live record, key length only for a tombstone.
func Size(r Record) int {
	if r.Tombstone {
		return len(r.Key)
	}
	return len(r.Key) + len(r.Value)
}

// Less reports whether a sorts strictly before b by key, the only
// ordering records ever participate in.
func Less(a, b Record) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

package buffer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// On-disk record layout, big endian:
//
//	magic[4] seq[8] created_at_unix_nano[8] xxh3(payload)[8] len(payload)[4] payload
const (
	recordMagic      = "VTB1"
	recordHeaderSize = 4 + 8 + 8 + 8 + 4
)

// IndexEntry locates a stored record without reading its payload.
type IndexEntry struct {
	Seq  uint64
	Size int64
}

// Backend persists records. Index must return entries in ascending Seq order.
// Read returns ErrRecordNotFound for a missing record and an error wrapping
// ErrCorruptRecord when the stored bytes fail validation. Deleting a missing
// record succeeds.
type Backend interface {
	Append(rec Record) error
	Index() ([]IndexEntry, error)
	Read(seq uint64) (Record, error)
	Delete(seq uint64) error
	Close() error
}

func encodeRecord(rec Record) []byte {
	buf := make([]byte, recordHeaderSize+len(rec.Payload))
	copy(buf[0:4], recordMagic)
	binary.BigEndian.PutUint64(buf[4:12], rec.Seq)
	binary.BigEndian.PutUint64(buf[12:20], uint64(rec.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[20:28], xxh3.Hash(rec.Payload))
	binary.BigEndian.PutUint32(buf[28:32], uint32(len(rec.Payload)))
	copy(buf[recordHeaderSize:], rec.Payload)
	return buf
}

// decodeRecord validates and decodes an encoded record. The returned payload
// does not alias data.
func decodeRecord(data []byte) (Record, error) {
	if len(data) < recordHeaderSize {
		return Record{}, fmt.Errorf("%w: short header (%d bytes)", ErrCorruptRecord, len(data))
	}
	if string(data[0:4]) != recordMagic {
		return Record{}, fmt.Errorf("%w: bad magic %q", ErrCorruptRecord, data[0:4])
	}

	seq := binary.BigEndian.Uint64(data[4:12])
	nanos := int64(binary.BigEndian.Uint64(data[12:20]))
	sum := binary.BigEndian.Uint64(data[20:28])
	n := binary.BigEndian.Uint32(data[28:32])

	payload := data[recordHeaderSize:]
	if int(n) != len(payload) {
		return Record{}, fmt.Errorf("%w: length %d, have %d bytes", ErrCorruptRecord, n, len(payload))
	}
	if xxh3.Hash(payload) != sum {
		return Record{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}

	return Record{
		Seq:       seq,
		CreatedAt: unixNanoUTC(nanos),
		Payload:   append([]byte(nil), payload...),
	}, nil
}

func unixNanoUTC(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

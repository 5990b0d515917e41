package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "batch/"

// PebbleBackend stores encoded records in an embedded LSM store keyed by
// big-endian sequence number. Every write is synced.
type PebbleBackend struct {
	db *pebble.DB
}

// OpenPebbleBackend opens or creates the store directory at path.
func OpenPebbleBackend(path string) (*PebbleBackend, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create buffer directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble buffer: %w", err)
	}
	return &PebbleBackend{db: db}, nil
}

func pebbleKey(seq uint64) []byte {
	key := make([]byte, len(pebbleKeyPrefix)+8)
	copy(key, pebbleKeyPrefix)
	binary.BigEndian.PutUint64(key[len(pebbleKeyPrefix):], seq)
	return key
}

func pebbleUpperBound() []byte {
	upper := []byte(pebbleKeyPrefix)
	upper[len(upper)-1]++
	return upper
}

// Append stores rec under its sequence key with a synced write.
func (p *PebbleBackend) Append(rec Record) error {
	return p.db.Set(pebbleKey(rec.Seq), encodeRecord(rec), pebble.Sync)
}

// Index scans the record key range in sequence order.
func (p *PebbleBackend) Index() ([]IndexEntry, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleKeyPrefix),
		UpperBound: pebbleUpperBound(),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	defer iter.Close()

	var index []IndexEntry
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(pebbleKeyPrefix)+8 {
			continue
		}
		size := int64(len(iter.Value())) - recordHeaderSize
		if size < 0 {
			size = 0
		}
		index = append(index, IndexEntry{
			Seq:  binary.BigEndian.Uint64(key[len(pebbleKeyPrefix):]),
			Size: size,
		})
	}
	return index, iter.Error()
}

// Read loads and validates the record stored under seq.
func (p *PebbleBackend) Read(seq uint64) (Record, error) {
	value, closer, err := p.db.Get(pebbleKey(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	defer closer.Close()

	rec, err := decodeRecord(value)
	if err != nil {
		return Record{}, err
	}
	if rec.Seq != seq {
		return Record{}, fmt.Errorf("%w: key %d holds seq %d", ErrCorruptRecord, seq, rec.Seq)
	}
	return rec, nil
}

// Delete removes the record stored under seq.
func (p *PebbleBackend) Delete(seq uint64) error {
	return p.db.Delete(pebbleKey(seq), pebble.Sync)
}

// Close closes the underlying store.
func (p *PebbleBackend) Close() error { return p.db.Close() }

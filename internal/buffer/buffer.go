// Package buffer provides durable local storage for metric batches that could
// not be delivered. Each batch is persisted as one record holding an opaque
// payload and a monotonically increasing sequence number, so records survive
// crashes and reboots and are replayed in the order they were stored.
//
// Retrieval is non-destructive: RetrieveAll returns copies and the caller
// removes a record with Delete only once its outcome is confirmed (delivered
// or deliberately dropped). A crash between a resend and its Delete may
// therefore deliver the same batch twice, never zero times.
package buffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// EvictionPolicy decides what Store does when the buffer is at capacity.
type EvictionPolicy string

const (
	// DropOldest deletes the oldest records until the new one fits.
	DropOldest EvictionPolicy = "drop_oldest"
	// RejectNew refuses the new record with ErrBufferFull.
	RejectNew EvictionPolicy = "reject_new"
)

var (
	ErrBufferFull     = errors.New("buffer is full")
	ErrRecordTooLarge = errors.New("record exceeds buffer size limit")
	ErrEmptyPayload   = errors.New("refusing to store empty payload")
	ErrCorruptRecord  = errors.New("corrupt buffer record")
	ErrRecordNotFound = errors.New("buffer record not found")
	ErrLocked         = errors.New("buffer is locked by another process")
	ErrClosed         = errors.New("buffer is closed")
)

// Record is one persisted batch.
type Record struct {
	Seq       uint64
	CreatedAt time.Time
	Payload   []byte
}

// Options configures a Buffer. Zero limits mean unlimited.
type Options struct {
	Backend    string
	Path       string
	MaxRecords int
	MaxBytes   int64
	Eviction   EvictionPolicy
}

// Stats summarises the buffer contents.
type Stats struct {
	Backend   string
	Records   int
	Bytes     int64
	OldestSeq uint64
	NewestSeq uint64
}

// Buffer stores undelivered batches through a Backend and enforces the
// capacity policy. It is safe for concurrent use.
type Buffer struct {
	backend Backend
	name    string
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics
	lock    *processLock
	now     func() time.Time

	mu      sync.Mutex
	index   []IndexEntry
	bytes   int64
	nextSeq uint64
	closed  bool
}

// Open acquires the process lock for opts.Path and opens the configured backend.
func Open(opts Options, logger *zap.Logger, m *telemetry.Metrics) (*Buffer, error) {
	if opts.Path == "" {
		return nil, errors.New("buffer path is required")
	}
	if opts.Backend == "" {
		opts.Backend = BackendFile
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(filepath.Clean(opts.Path)), 0750); err != nil {
		return nil, fmt.Errorf("create buffer parent directory: %w", err)
	}
	lock, err := acquireLock(filepath.Clean(opts.Path) + ".lock")
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch opts.Backend {
	case BackendFile:
		backend, err = OpenFileBackend(opts.Path, logger)
	case BackendSQLite:
		backend, err = OpenSQLiteBackend(opts.Path)
	case BackendPebble:
		backend, err = OpenPebbleBackend(opts.Path)
	default:
		err = fmt.Errorf("unknown buffer backend %q", opts.Backend)
	}
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	b, err := New(backend, opts, logger, m)
	if err != nil {
		_ = backend.Close()
		_ = lock.release()
		return nil, err
	}
	b.lock = lock
	return b, nil
}

// New wraps an already opened backend. Sequence numbering resumes after the
// highest stored record.
func New(backend Backend, opts Options, logger *zap.Logger, m *telemetry.Metrics) (*Buffer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = telemetry.New()
	}
	if opts.Eviction == "" {
		opts.Eviction = DropOldest
	}
	if opts.Eviction != DropOldest && opts.Eviction != RejectNew {
		return nil, fmt.Errorf("unknown eviction policy %q", opts.Eviction)
	}
	if opts.MaxRecords < 0 || opts.MaxBytes < 0 {
		return nil, errors.New("buffer limits must not be negative")
	}

	index, err := backend.Index()
	if err != nil {
		return nil, fmt.Errorf("load buffer index: %w", err)
	}

	b := &Buffer{
		backend: backend,
		name:    opts.Backend,
		opts:    opts,
		logger:  logger.Named("buffer"),
		metrics: m,
		now:     time.Now,
		index:   index,
		nextSeq: 1,
	}
	for _, e := range index {
		b.bytes += e.Size
	}
	if n := len(index); n > 0 {
		b.nextSeq = index[n-1].Seq + 1
	}
	b.updateGauges()

	if len(index) > 0 {
		b.logger.Info("Opened buffer with pending batches",
			zap.String("backend", b.name),
			zap.Int("records", len(index)),
			zap.String("size", humanize.Bytes(uint64(b.bytes))))
	}
	return b, nil
}

// Store appends payload as a new record and returns its sequence number.
// When the buffer is at capacity the eviction policy decides between dropping
// the oldest records and rejecting the new one.
func (b *Buffer) Store(payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	size := int64(len(payload))
	if b.opts.MaxBytes > 0 && size > b.opts.MaxBytes {
		return 0, fmt.Errorf("%w: %s > %s", ErrRecordTooLarge,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(b.opts.MaxBytes)))
	}

	for b.overCapacity(size) {
		if b.opts.Eviction == RejectNew {
			return 0, ErrBufferFull
		}
		oldest := b.index[0]
		if err := b.backend.Delete(oldest.Seq); err != nil {
			return 0, fmt.Errorf("evict record %d: %w", oldest.Seq, err)
		}
		b.removeAt(0)
		b.metrics.BufferEvictions.Inc()
		b.logger.Warn("Buffer full, dropped oldest batch",
			zap.Uint64("seq", oldest.Seq),
			zap.String("size", humanize.Bytes(uint64(oldest.Size))))
	}

	rec := Record{
		Seq:       b.nextSeq,
		CreatedAt: b.now().UTC(),
		Payload:   payload,
	}
	if err := b.backend.Append(rec); err != nil {
		return 0, fmt.Errorf("store record %d: %w", rec.Seq, err)
	}

	b.nextSeq++
	b.index = append(b.index, IndexEntry{Seq: rec.Seq, Size: size})
	b.bytes += size
	b.updateGauges()

	b.logger.Debug("Stored batch",
		zap.Uint64("seq", rec.Seq),
		zap.Int("records", len(b.index)),
		zap.String("total", humanize.Bytes(uint64(b.bytes))))
	return rec.Seq, nil
}

// RetrieveAll returns every stored record in ascending sequence order without
// removing anything. Corrupt records are deleted and skipped. Any other read
// error aborts retrieval and leaves the stored records untouched.
func (b *Buffer) RetrieveAll() ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	records := make([]Record, 0, len(b.index))
	remaining := make([]IndexEntry, 0, len(b.index))
	for i, e := range b.index {
		rec, err := b.backend.Read(e.Seq)
		switch {
		case err == nil:
			records = append(records, rec)
			remaining = append(remaining, e)
		case errors.Is(err, ErrRecordNotFound):
			b.logger.Warn("Buffered batch disappeared from storage", zap.Uint64("seq", e.Seq))
			b.bytes -= e.Size
		case errors.Is(err, ErrCorruptRecord):
			b.logger.Warn("Removing corrupted buffer record",
				zap.Uint64("seq", e.Seq),
				zap.Error(err))
			if delErr := b.backend.Delete(e.Seq); delErr != nil {
				b.logger.Error("Failed to remove corrupted record",
					zap.Uint64("seq", e.Seq),
					zap.Error(delErr))
				remaining = append(remaining, e)
				continue
			}
			b.bytes -= e.Size
		default:
			b.index = append(remaining, b.index[i:]...)
			b.updateGauges()
			return nil, fmt.Errorf("read record %d: %w", e.Seq, err)
		}
	}
	b.index = remaining
	b.updateGauges()
	return records, nil
}

// Delete removes the record with the given sequence number. Deleting a record
// that is already gone is not an error.
func (b *Buffer) Delete(seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	i := sort.Search(len(b.index), func(i int) bool { return b.index[i].Seq >= seq })
	if i == len(b.index) || b.index[i].Seq != seq {
		return nil
	}
	if err := b.backend.Delete(seq); err != nil {
		return fmt.Errorf("delete record %d: %w", seq, err)
	}
	b.removeAt(i)
	b.updateGauges()
	return nil
}

// Count returns the number of stored records.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.index)
}

// Stats reports the current buffer contents.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Backend: b.name,
		Records: len(b.index),
		Bytes:   b.bytes,
	}
	if n := len(b.index); n > 0 {
		s.OldestSeq = b.index[0].Seq
		s.NewestSeq = b.index[n-1].Seq
	}
	return s
}

// Close closes the backend and releases the process lock.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	err := b.backend.Close()
	if b.lock != nil {
		if lerr := b.lock.release(); err == nil {
			err = lerr
		}
	}
	return err
}

// overCapacity reports whether adding size bytes would break a limit.
// Must be called with b.mu held.
func (b *Buffer) overCapacity(size int64) bool {
	if len(b.index) == 0 {
		return false
	}
	if b.opts.MaxRecords > 0 && len(b.index)+1 > b.opts.MaxRecords {
		return true
	}
	return b.opts.MaxBytes > 0 && b.bytes+size > b.opts.MaxBytes
}

// removeAt drops index entry i. Must be called with b.mu held.
func (b *Buffer) removeAt(i int) {
	b.bytes -= b.index[i].Size
	b.index = append(b.index[:i], b.index[i+1:]...)
}

// Must be called with b.mu held.
func (b *Buffer) updateGauges() {
	b.metrics.BufferRecords.Set(float64(len(b.index)))
	b.metrics.BufferBytes.Set(float64(b.bytes))
}

package buffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	recordExt = ".rec"
	tmpPrefix = ".tmp-"
)

// FileBackend stores one file per record in a directory. File names are the
// zero-padded sequence number, so lexical order is sequence order. Writes go
// to a temporary file that is synced and renamed into place, so a crash never
// leaves a partially written record under its final name.
type FileBackend struct {
	dir    string
	logger *zap.Logger
}

// OpenFileBackend creates dir if needed and removes temporary files left by
// interrupted writes.
func OpenFileBackend(dir string, logger *zap.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create buffer directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read buffer directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			logger.Warn("Failed to remove stale temp file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		logger.Info("Removed stale temp file", zap.String("file", e.Name()))
	}

	return &FileBackend{dir: dir, logger: logger}, nil
}

func recordName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, recordExt)
}

// Append writes rec to its own file and syncs it into place.
func (f *FileBackend) Append(rec Record) error {
	name := recordName(rec.Seq)
	tmp := filepath.Join(f.dir, tmpPrefix+name)

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := file.Write(encodeRecord(rec)); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write record: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync record: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(f.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename record: %w", err)
	}
	f.syncDir()
	return nil
}

// syncDir makes the rename durable. Not supported on every platform, so
// failures are ignored.
func (f *FileBackend) syncDir() {
	d, err := os.Open(f.dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Index lists record files in sequence order, skipping foreign files.
func (f *FileBackend) Index() ([]IndexEntry, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read buffer directory: %w", err)
	}

	var index []IndexEntry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, recordExt), 10, 64)
		if err != nil {
			f.logger.Warn("Ignoring unexpected file in buffer directory", zap.String("file", name))
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		size := info.Size() - recordHeaderSize
		if size < 0 {
			size = 0
		}
		index = append(index, IndexEntry{Seq: seq, Size: size})
	}
	return index, nil
}

// Read loads and validates the record file for seq.
func (f *FileBackend) Read(seq uint64) (Record, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, recordName(seq)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, err
	}
	if rec.Seq != seq {
		return Record{}, fmt.Errorf("%w: file %d holds seq %d", ErrCorruptRecord, seq, rec.Seq)
	}
	return rec, nil
}

// Delete removes the record file for seq.
func (f *FileBackend) Delete(seq uint64) error {
	err := os.Remove(filepath.Join(f.dir, recordName(seq)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op; FileBackend holds no open handles.
func (f *FileBackend) Close() error { return nil }

package buffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestBuffer(t *testing.T, backend string, opts Options) (*Buffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer")
	if backend == BackendSQLite {
		path = filepath.Join(t.TempDir(), "buffer.db")
	}
	opts.Backend = backend
	opts.Path = path
	b, err := Open(opts, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, path
}

var allBackends = []string{BackendFile, BackendSQLite, BackendPebble}

func TestBuffer_StoreRetrieveOrder(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			b, _ := openTestBuffer(t, backend, Options{})

			for i := 1; i <= 3; i++ {
				seq, err := b.Store([]byte(fmt.Sprintf(`[{"n":%d}]`, i)))
				require.NoError(t, err)
				assert.Equal(t, uint64(i), seq)
			}

			records, err := b.RetrieveAll()
			require.NoError(t, err)
			require.Len(t, records, 3)
			for i, rec := range records {
				assert.Equal(t, uint64(i+1), rec.Seq)
				assert.Equal(t, fmt.Sprintf(`[{"n":%d}]`, i+1), string(rec.Payload))
				assert.False(t, rec.CreatedAt.IsZero())
			}

			// Retrieval does not remove anything.
			assert.Equal(t, 3, b.Count())
		})
	}
}

func TestBuffer_SurvivesReopen(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			opts := Options{Backend: backend, Path: filepath.Join(dir, "buffer")}

			b, err := Open(opts, zap.NewNop(), nil)
			require.NoError(t, err)
			_, err = b.Store([]byte("first"))
			require.NoError(t, err)
			_, err = b.Store([]byte("second"))
			require.NoError(t, err)
			require.NoError(t, b.Delete(1))
			require.NoError(t, b.Close())

			b, err = Open(opts, zap.NewNop(), nil)
			require.NoError(t, err)
			defer b.Close()

			records, err := b.RetrieveAll()
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, uint64(2), records[0].Seq)
			assert.Equal(t, "second", string(records[0].Payload))

			seq, err := b.Store([]byte("third"))
			require.NoError(t, err)
			assert.Equal(t, uint64(3), seq, "sequence resumes after the highest stored record")
		})
	}
}

func TestBuffer_Delete(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{})

	_, err := b.Store([]byte("a"))
	require.NoError(t, err)
	_, err = b.Store([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, b.Delete(1))
	require.NoError(t, b.Delete(1), "deleting twice is not an error")
	require.NoError(t, b.Delete(42), "deleting an unknown seq is not an error")

	records, err := b.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", string(records[0].Payload))
}

func TestBuffer_DropOldest(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{MaxRecords: 2, Eviction: DropOldest})

	for _, p := range []string{"one", "two", "three"} {
		_, err := b.Store([]byte(p))
		require.NoError(t, err)
	}

	records, err := b.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "two", string(records[0].Payload))
	assert.Equal(t, "three", string(records[1].Payload))
}

func TestBuffer_DropOldestByBytes(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{MaxBytes: 10})

	_, err := b.Store([]byte("aaaa"))
	require.NoError(t, err)
	_, err = b.Store([]byte("bbbb"))
	require.NoError(t, err)
	_, err = b.Store([]byte("cccc"))
	require.NoError(t, err)

	stats := b.Stats()
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, int64(8), stats.Bytes)
	assert.Equal(t, uint64(2), stats.OldestSeq)
	assert.Equal(t, uint64(3), stats.NewestSeq)
}

func TestBuffer_RejectNew(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{MaxRecords: 1, Eviction: RejectNew})

	_, err := b.Store([]byte("kept"))
	require.NoError(t, err)
	_, err = b.Store([]byte("rejected"))
	assert.ErrorIs(t, err, ErrBufferFull)

	records, err := b.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", string(records[0].Payload))
}

func TestBuffer_RecordTooLarge(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{MaxBytes: 4})

	_, err := b.Store([]byte("too large"))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, 0, b.Count())
}

func TestBuffer_EmptyPayload(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{})

	_, err := b.Store(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestBuffer_CorruptRecordIsRemoved(t *testing.T) {
	b, path := openTestBuffer(t, BackendFile, Options{})

	_, err := b.Store([]byte("good"))
	require.NoError(t, err)
	_, err = b.Store([]byte("soon corrupt"))
	require.NoError(t, err)

	name := filepath.Join(path, recordName(2))
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(name, data, 0640))

	records, err := b.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", string(records[0].Payload))
	assert.Equal(t, 1, b.Count())

	_, err = os.Stat(name)
	assert.True(t, errors.Is(err, os.ErrNotExist), "corrupt record file removed")
}

func TestFileBackend_RemovesStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, tmpPrefix+recordName(7))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0640))

	fb, err := OpenFileBackend(dir, zap.NewNop())
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	index, err := fb.Index()
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestFileBackend_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.rec"), []byte("x"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0640))

	fb, err := OpenFileBackend(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fb.Append(Record{Seq: 5, Payload: []byte("p")}))

	index, err := fb.Index()
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, uint64(5), index[0].Seq)
	assert.Equal(t, int64(1), index[0].Size)
}

func TestOpen_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer")
	first, err := Open(Options{Path: path}, zap.NewNop(), nil)
	require.NoError(t, err)

	_, err = Open(Options{Path: path}, zap.NewNop(), nil)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := Open(Options{Path: path}, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "tape", Path: filepath.Join(t.TempDir(), "b")}, zap.NewNop(), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "tape"))
}

func TestBuffer_ClosedOperations(t *testing.T) {
	b, _ := openTestBuffer(t, BackendFile, Options{})
	require.NoError(t, b.Close())

	_, err := b.Store([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.RetrieveAll()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Delete(1), ErrClosed)
	assert.NoError(t, b.Close())
}

// failingBackend fails reads for one sequence number with a non-corruption error.
type failingBackend struct {
	Backend
	failSeq uint64
}

func (f *failingBackend) Read(seq uint64) (Record, error) {
	if seq == f.failSeq {
		return Record{}, errors.New("disk on fire")
	}
	return f.Backend.Read(seq)
}

func TestBuffer_ReadErrorKeepsRecords(t *testing.T) {
	fb, err := OpenFileBackend(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	b, err := New(&failingBackend{Backend: fb, failSeq: 2}, Options{Backend: BackendFile}, zap.NewNop(), nil)
	require.NoError(t, err)
	for _, p := range []string{"a", "b", "c"} {
		_, err := b.Store([]byte(p))
		require.NoError(t, err)
	}

	_, err = b.RetrieveAll()
	require.Error(t, err)
	assert.Equal(t, 3, b.Count())
}

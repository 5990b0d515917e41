package sender

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/buffer"
	"github.com/vitalis-app/telemetry-agent/internal/models"
	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

var (
	delivered   = Outcome{Kind: OutcomeDelivered, StatusCode: http.StatusOK}
	failed      = Outcome{Kind: OutcomeFailed, StatusCode: http.StatusServiceUnavailable, Err: errors.New("server returned 503")}
	rateLimited = Outcome{Kind: OutcomeRateLimited, StatusCode: http.StatusTooManyRequests, Err: errors.New("rate limited (429)")}
)

// scriptedTransport replays outcomes in order, repeating the last one.
type scriptedTransport struct {
	mu       sync.Mutex
	outcomes []Outcome
	bodies   [][]byte
}

func newScripted(outcomes ...Outcome) *scriptedTransport {
	return &scriptedTransport{outcomes: outcomes}
}

func (t *scriptedTransport) Post(_ context.Context, body []byte) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bodies = append(t.bodies, body)
	i := len(t.bodies) - 1
	if i >= len(t.outcomes) {
		i = len(t.outcomes) - 1
	}
	return t.outcomes[i]
}

func (t *scriptedTransport) set(outcomes ...Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = outcomes
	t.bodies = nil
}

func (t *scriptedTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bodies)
}

type failingStore struct {
	storeErr error
	readErr  error
}

func (f *failingStore) Store([]byte) (uint64, error)          { return 0, f.storeErr }
func (f *failingStore) RetrieveAll() ([]buffer.Record, error) { return nil, f.readErr }
func (f *failingStore) Delete(uint64) error                   { return nil }

// newTestSender returns a sender whose backoff sleeps are recorded instead of
// waited out.
func newTestSender(t *testing.T, tr Transport, store Store) (*Sender, *[]time.Duration) {
	t.Helper()
	s := New(Options{
		MachineToken: "machine-token",
		MaxRetries:   3,
		BaseDelay:    2 * time.Second,
	}, tr, store, zap.NewNop(), telemetry.New())

	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return s, &delays
}

func openStore(t *testing.T) *buffer.Buffer {
	t.Helper()
	b, err := buffer.Open(buffer.Options{Path: filepath.Join(t.TempDir(), "buffer")}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testBatch(n int) models.Batch {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snaps := make([]models.MetricSnapshot, n)
	for i := range snaps {
		snaps[i] = models.MetricSnapshot{
			Timestamp:  start.Add(time.Duration(i) * 15 * time.Second),
			CPUOverall: float64(i + 1),
			RAMTotal:   8 << 30,
		}
	}
	return models.Batch(snaps)
}

func gunzip(t *testing.T, body []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return data
}

func decodeEnvelope(t *testing.T, body []byte) models.IngestPayload {
	t.Helper()
	var env models.IngestPayload
	require.NoError(t, json.Unmarshal(gunzip(t, body), &env))
	return env
}

func TestSend_HTTPRequestFormat(t *testing.T) {
	type captured struct {
		method, path, contentType, encoding, auth string
		payload                                   models.IngestPayload
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			encoding:    r.Header.Get("Content-Encoding"),
			auth:        r.Header.Get("Authorization"),
		}
		zr, err := gzip.NewReader(r.Body)
		if err == nil {
			_ = json.NewDecoder(zr).Decode(&c.payload)
		}
		got <- c
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, delays := newTestSender(t, NewHTTPTransport(srv.URL+"/", "machine-token", time.Second), nil)
	res := s.Send(context.Background(), testBatch(2))

	assert.Equal(t, StateDelivered, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, *delays)
	assert.Equal(t, []State{StateCollected, StateSending, StateDelivered}, res.Path)

	c := <-got
	assert.Equal(t, http.MethodPost, c.method)
	assert.Equal(t, "/api/ingest", c.path)
	assert.Equal(t, "application/json", c.contentType)
	assert.Equal(t, "gzip", c.encoding)
	assert.Equal(t, "Bearer machine-token", c.auth)
	assert.Equal(t, "machine-token", c.payload.MachineToken)
	var snaps []models.MetricSnapshot
	require.NoError(t, json.Unmarshal(c.payload.Metrics, &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, 1.0, snaps[0].CPUOverall)
	assert.Equal(t, 2.0, snaps[1].CPUOverall)
}

func TestSend_RetriesWithBackoffThenBuffers(t *testing.T) {
	tr := newScripted(failed)
	store := openStore(t)
	s, delays := newTestSender(t, tr, store)

	res := s.Send(context.Background(), testBatch(3))

	assert.Equal(t, StateBuffered, res.State)
	assert.Equal(t, ReasonRetriesExhausted, res.Reason)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, tr.calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *delays)
	assert.Equal(t, []State{StateCollected, StateSending, StateRetriesExhausted, StateBuffered}, res.Path)
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 4.0, testutil.ToFloat64(s.metrics.SendAttempts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.BatchOutcomes.WithLabelValues("buffered", ReasonRetriesExhausted)))

	// The buffered payload is the snapshot array that was sent.
	records, err := store.RetrieveAll()
	require.NoError(t, err)
	env := decodeEnvelope(t, tr.bodies[0])
	assert.Equal(t, []byte(env.Metrics), records[0].Payload)
}

func TestSend_SucceedsAfterTransientFailure(t *testing.T) {
	tr := newScripted(failed, delivered)
	store := openStore(t)
	s, delays := newTestSender(t, tr, store)

	res := s.Send(context.Background(), testBatch(1))

	assert.Equal(t, StateDelivered, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, *delays)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, store.Count())
}

func TestSend_RateLimitedFirstAttemptBuffersImmediately(t *testing.T) {
	tr := newScripted(rateLimited, delivered)
	store := openStore(t)
	s, delays := newTestSender(t, tr, store)

	res := s.Send(context.Background(), testBatch(2))

	assert.Equal(t, StateBuffered, res.State)
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, tr.calls())
	assert.Empty(t, *delays)
	assert.Equal(t, []State{StateCollected, StateSending, StateRateLimited, StateBuffered}, res.Path)
	assert.Equal(t, 1, store.Count())

	rep := s.FlushBuffer(context.Background())
	assert.True(t, rep.Skipped, "drain waits out the rate-limit pause")
	assert.Equal(t, 1, tr.calls())
	assert.Equal(t, 1, store.Count())
}

func TestSend_EncodeFailureDrops(t *testing.T) {
	tr := newScripted(delivered)
	store := openStore(t)
	s, _ := newTestSender(t, tr, store)

	batch := testBatch(1)
	batch[0].CPUOverall = math.NaN()
	res := s.Send(context.Background(), batch)

	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, ReasonEncodeFailed, res.Reason)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, tr.calls())
	assert.Equal(t, 0, store.Count(), "encode failures are not buffered")
}

func TestSend_CompressFailureBuffersWithoutAttempt(t *testing.T) {
	tr := newScripted(delivered)
	store := openStore(t)
	s, _ := newTestSender(t, tr, store)
	s.compress = func([]byte) ([]byte, error) { return nil, errors.New("compressor broken") }

	res := s.Send(context.Background(), testBatch(2))

	assert.Equal(t, StateBuffered, res.State)
	assert.Equal(t, ReasonCompressFailed, res.Reason)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, tr.calls())
	assert.Equal(t, []State{StateCollected, StateCompressFailed, StateBuffered}, res.Path)
	assert.Equal(t, 1, store.Count())
}

func TestSend_EmptyBatchNeverSentOrBuffered(t *testing.T) {
	tr := newScripted(delivered)
	store := openStore(t)
	s, _ := newTestSender(t, tr, store)

	res := s.Send(context.Background(), nil)

	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, ReasonEmpty, res.Reason)
	assert.Equal(t, 0, tr.calls())
	assert.Equal(t, 0, store.Count())
}

func TestSend_NoStoreDrops(t *testing.T) {
	tr := newScripted(failed)
	s, _ := newTestSender(t, tr, nil)

	res := s.Send(context.Background(), testBatch(1))

	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, ReasonNoBuffer, res.Reason)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, []State{StateCollected, StateSending, StateRetriesExhausted, StateBufferFailed, StateDropped}, res.Path)
}

func TestSend_StoreFailureDrops(t *testing.T) {
	tr := newScripted(failed)
	storeErr := errors.New("disk full")
	s, _ := newTestSender(t, tr, &failingStore{storeErr: storeErr})

	res := s.Send(context.Background(), testBatch(1))

	assert.Equal(t, StateDropped, res.State)
	assert.Equal(t, ReasonBufferFailed, res.Reason)
	assert.ErrorIs(t, res.Err, storeErr)
}

func TestSend_CancelledDuringBackoffBuffers(t *testing.T) {
	tr := newScripted(failed)
	store := openStore(t)
	s, delays := newTestSender(t, tr, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Send(ctx, testBatch(1))

	assert.Equal(t, StateBuffered, res.State)
	assert.Equal(t, ReasonInterrupted, res.Reason)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, *delays, 1)
	assert.Equal(t, 1, store.Count())
}

func TestSend_ConsecutiveExhaustionsBufferSeparately(t *testing.T) {
	tr := newScripted(failed)
	store := openStore(t)
	s, _ := newTestSender(t, tr, store)

	var payloads [][]byte
	for i := 1; i <= 3; i++ {
		res := s.Send(context.Background(), testBatch(i))
		require.Equal(t, StateBuffered, res.State)
		require.Equal(t, uint64(i), res.Seq)
		payloads = append(payloads, []byte(decodeEnvelope(t, tr.bodies[len(tr.bodies)-1]).Metrics))
	}

	records, err := store.RetrieveAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.Equal(t, payloads[i], rec.Payload)

		var snaps []models.MetricSnapshot
		require.NoError(t, json.Unmarshal(rec.Payload, &snaps))
		assert.Len(t, snaps, i+1, "records are never merged")
	}
}

func TestSender_WaitHonoursContext(t *testing.T) {
	s := New(Options{}, newScripted(delivered), nil, zap.NewNop(), telemetry.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.wait(ctx, time.Hour), context.Canceled)
}

package transmit

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu       sync.Mutex
	nextID   int
	created  []string
	sending  []string
	success  []string
	failures map[string]string
	retries  map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{failures: map[string]string{}, retries: map[string]int{}}
}

func (f *fakeLedger) CreateBatch(ctx context.Context, itemCount, payloadSize int, destinationURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("batch-%d", f.nextID)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeLedger) MarkSending(ctx context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sending = append(f.sending, batchID)
	return nil
}

func (f *fakeLedger) MarkSuccess(ctx context.Context, batchID string, httpStatus int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success = append(f.success, batchID)
	return nil
}

func (f *fakeLedger) MarkFailure(ctx context.Context, batchID string, httpStatus int, errMessage string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[batchID] = errMessage
	f.retries[batchID] = retryCount
	return nil
}

func (f *fakeLedger) Stats(ctx context.Context) (LedgerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return LedgerStats{Success: len(f.success), Failed: len(f.failures)}, nil
}

func testProcessor(t *testing.T, serverURL string, cfg ProcessorConfig) (*Processor, *fakeLedger) {
	t.Helper()
	clientCfg := DefaultClientConfig(serverURL, "")
	clientCfg.RetryMaxAttempts = 1
	client := NewClient(clientCfg, zerolog.Nop())
	client.sleep = func(time.Duration) {}
	ledger := newFakeLedger()
	return NewProcessor(cfg, client, ledger, zerolog.Nop()), ledger
}

func TestFlushSendsRawBatch(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		raw, err := io.ReadAll(zr)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, ledger := testProcessor(t, srv.URL, DefaultProcessorConfig())
	p.Add(map[string]any{"hostname": "a"})
	p.Add(map[string]any{"hostname": "b"})
	require.NoError(t, p.Flush(context.Background()))

	assert.Equal(t, "raw", received["format"])
	assert.Equal(t, "1.0.0", received["version"])
	assert.Len(t, received["discoveries"].([]any), 2)
	assert.Equal(t, float64(2), received["metadata"].(map[string]any)["item_count"])

	assert.Len(t, ledger.created, 1)
	assert.Len(t, ledger.sending, 1)
	assert.Len(t, ledger.success, 1)
	assert.Equal(t, int64(1), p.BatchesSent())
	assert.Equal(t, 0, p.PendingCount())
}

func TestFlushGraphEncodingIncludesClaims(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zr, _ := gzip.NewReader(r.Body)
		raw, _ := io.ReadAll(zr)
		require.NoError(t, json.Unmarshal(raw, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultProcessorConfig()
	cfg.Encoding = EncodingGraph
	p, _ := testProcessor(t, srv.URL, cfg)
	p.Add(map[string]any{
		"server_id":  "srv-1",
		"hostname":   "web-01",
		"enrichment": map[string]any{"entity_label": "Server"},
	})
	require.NoError(t, p.Flush(context.Background()))

	assert.Equal(t, "neo4j", received["format"])
	assert.NotEmpty(t, received["claims"].([]any))
	meta := received["metadata"].(map[string]any)
	assert.Equal(t, float64(1), meta["node_count"])
	assert.NotZero(t, meta["claim_count"])
}

func TestFlushOversizeBatchRejected(t *testing.T) {
	// Any request reaching the server fails the test.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversize batch must not be transmitted")
	}))
	defer srv.Close()

	cfg := DefaultProcessorConfig()
	cfg.MaxBytes = 16
	p, ledger := testProcessor(t, srv.URL, cfg)
	p.Add(map[string]any{"id": "first", "blob": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	p.Add(map[string]any{"id": "second"})

	err := p.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch rejected")

	require.Len(t, ledger.created, 1)
	assert.Contains(t, ledger.failures[ledger.created[0]], "Batch rejected")

	// Items restored to the head in original order.
	require.Equal(t, 2, p.PendingCount())
	restored := p.queue.PopN(2)
	assert.Equal(t, "first", restored[0]["id"])
	assert.Equal(t, "second", restored[1]["id"])
	assert.Equal(t, int64(1), p.BatchesFailed())
}

func TestFlushClientErrorDropsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "schema mismatch", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p, ledger := testProcessor(t, srv.URL, DefaultProcessorConfig())
	p.Add(map[string]any{"id": "x"})
	require.NoError(t, p.Flush(context.Background()))

	require.Len(t, ledger.created, 1)
	assert.Contains(t, ledger.failures[ledger.created[0]], "schema mismatch")
	assert.Equal(t, 0, ledger.retries[ledger.created[0]])
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, int64(1), p.BatchesFailed())
}

func TestFlushServerErrorRequeuesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, ledger := testProcessor(t, srv.URL, DefaultProcessorConfig())
	p.Add(map[string]any{"id": "a"})
	p.Add(map[string]any{"id": "b"})

	err := p.Flush(context.Background())
	require.Error(t, err)

	require.Len(t, ledger.created, 1)
	assert.Equal(t, 1, ledger.retries[ledger.created[0]])

	require.Equal(t, 2, p.PendingCount())
	restored := p.queue.PopN(2)
	assert.Equal(t, "a", restored[0]["id"])
	assert.Equal(t, "b", restored[1]["id"])
}

func TestProcessorStats(t *testing.T) {
	p, _ := testProcessor(t, "http://example.invalid", DefaultProcessorConfig())
	p.Add(map[string]any{"id": "pending"})

	stats := p.Stats()
	assert.Equal(t, 1, stats["pending_items"])
	assert.Equal(t, int64(0), stats["batches_sent"])
	assert.Equal(t, int64(0), stats["batches_failed"])
}

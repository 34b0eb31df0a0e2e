package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportProgressSequenceAndCounts(t *testing.T) {
	var mu sync.Mutex
	var got []ProgressReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep ProgressReport
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		assert.Equal(t, "secret-key", r.Header.Get("X-Internal-API-Key"))
		mu.Lock()
		got = append(got, rep)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("scan-1", "network-scanner", srv.URL, "", "secret-key", zerolog.Nop())
	r.ReportProgress(context.Background(), "initializing", 0, "starting")
	r.IncrementDiscoveryCount(3)
	r.ReportProgress(context.Background(), "scanning", 50, "halfway")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Equal(t, int64(2), got[1].Sequence)
	assert.Equal(t, int64(0), got[0].DiscoveryCount)
	assert.Equal(t, int64(3), got[1].DiscoveryCount)
	assert.Equal(t, "scan-1", got[1].ScanID)
	assert.Equal(t, "network-scanner", got[1].Collector)
}

func TestReportCompletePayload(t *testing.T) {
	var got CompletionReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("scan-9", "code-analyzer", "", srv.URL, "", zerolog.Nop())
	r.IncrementDiscoveryCount(12)
	r.ReportComplete(context.Background(), StatusPartial, "1/5 repos failed analysis")

	assert.Equal(t, "scan-9", got.ScanID)
	assert.Equal(t, StatusPartial, got.Status)
	assert.Equal(t, int64(12), got.DiscoveryCount)
	assert.Equal(t, "1/5 repos failed analysis", got.ErrorMessage)
	assert.NotEmpty(t, got.Timestamp)
}

func TestCallbackFailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New("scan-2", "db-inspector", srv.URL, srv.URL, "", zerolog.Nop())
	// Must not panic or return errors to the caller.
	r.ReportProgress(context.Background(), "scanning", 10, "")
	r.ReportComplete(context.Background(), StatusCompleted, "")

	// Unreachable endpoint is equally non-fatal.
	r2 := New("scan-3", "db-inspector", "http://127.0.0.1:1", "http://127.0.0.1:1", "", zerolog.Nop())
	r2.ReportProgress(context.Background(), "scanning", 10, "")
	r2.ReportComplete(context.Background(), StatusFailed, "boom")
}

func TestDisabledURLsSkipPosts(t *testing.T) {
	r := New("scan-4", "infra-probe", "", "", "", zerolog.Nop())
	r.ReportProgress(context.Background(), "scanning", 10, "")
	r.ReportComplete(context.Background(), StatusCompleted, "")
	assert.Equal(t, int64(0), r.DiscoveryCount())
}

package codescan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	types   []string
	failOn  string
	payload []map[string]any
}

func (p *recordingPoster) PostDiscovery(ctx context.Context, sessionID, discoveryType string, data map[string]any) error {
	if p.failOn != "" && discoveryType == p.failOn {
		return errors.New("store unavailable")
	}
	p.types = append(p.types, discoveryType)
	p.payload = append(p.payload, data)
	return nil
}

func TestDryRunScanPostsDiscoveries(t *testing.T) {
	base := t.TempDir()
	seedGoRepo(t, base, "svc-a")

	a := testCodeAnalyzer(t, Config{})
	poster := &recordingPoster{}

	result, err := a.DryRunScan(context.Background(), "sess-1", base, poster)
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 1, result.ReposScanned)
	require.Len(t, result.AnalysisIDs, 1)
	assert.Equal(t, []string{"repository", "codebase_metrics", "dependency"}, poster.types)

	repo := poster.payload[0]
	assert.Equal(t, "dryrun://sess-1/svc-a", repo["repo_url"])
	assert.Equal(t, result.AnalysisIDs[0], repo["analysis_id"])
}

func TestDryRunScanFailedPostOmitsAnalysisID(t *testing.T) {
	base := t.TempDir()
	seedGoRepo(t, base, "svc-a")

	a := testCodeAnalyzer(t, Config{})
	poster := &recordingPoster{failOn: "dependency"}

	result, err := a.DryRunScan(context.Background(), "sess-1", base, poster)
	require.NoError(t, err)

	// The repository and metrics posts went through, but the repo does
	// not count as scanned until every post succeeds.
	assert.Equal(t, "failed", result.Status)
	assert.Zero(t, result.ReposScanned)
	assert.Empty(t, result.AnalysisIDs)
}

func TestDryRunScanPartial(t *testing.T) {
	base := t.TempDir()
	seedGoRepo(t, base, "svc-a")
	root := seedGoRepo(t, base, "svc-b")
	writeFile(t, root, "package.json", "{not json")

	a := testCodeAnalyzer(t, Config{})

	// Malformed manifests are skipped, not fatal, so both repos succeed.
	result, err := a.DryRunScan(context.Background(), "sess-2", base, &recordingPoster{})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 2, result.ReposScanned)
}

func TestDryRunScanEmptyBaseFails(t *testing.T) {
	a := testCodeAnalyzer(t, Config{})
	_, err := a.DryRunScan(context.Background(), "sess-3", t.TempDir(), &recordingPoster{})
	assert.Error(t, err)
}

func TestCallbackPoster(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dryrun/internal/discoveries", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	poster := NewCallbackPoster(server.URL + "/")
	err := poster.PostDiscovery(context.Background(), "sess-9", "repository", map[string]any{"repo_name": "svc-a"})
	require.NoError(t, err)

	assert.Equal(t, "sess-9", received["session_id"])
	assert.Equal(t, "code-analyzer", received["source"])
	assert.Equal(t, "repository", received["discovery_type"])
	assert.Equal(t, "svc-a", received["data"].(map[string]any)["repo_name"])
}

func TestCallbackPosterRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	poster := NewCallbackPoster(server.URL)
	err := poster.PostDiscovery(context.Background(), "sess-9", "repository", map[string]any{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"))
}

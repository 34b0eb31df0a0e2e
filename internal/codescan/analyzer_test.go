package codescan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiforce/discovery-mesh/internal/scan"
)

func testCodeAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(cfg, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func seedGoRepo(t *testing.T, base, name string) string {
	t.Helper()
	root := filepath.Join(base, name)
	writeFile(t, root, "go.mod", "module example.com/"+name+"\n\ngo 1.21\n\nrequire github.com/rs/zerolog v1.33.0\n")
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	return root
}

func TestEnumerateFindsRepositories(t *testing.T) {
	base := t.TempDir()
	seedGoRepo(t, base, "svc-a")
	seedGoRepo(t, base, "svc-b")
	writeFile(t, base, "not-a-repo/notes.txt", "plain directory\n")
	writeFile(t, base, ".hidden/go.mod", "module hidden\n")

	a := testCodeAnalyzer(t, Config{ScanPaths: []string{base}})
	repos, err := a.Enumerate(context.Background(), scan.Request{})
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Contains(t, repos, filepath.Join(base, "svc-a"))
	assert.Contains(t, repos, filepath.Join(base, "svc-b"))
}

func TestEnumerateHonorsMaxTargets(t *testing.T) {
	base := t.TempDir()
	seedGoRepo(t, base, "svc-a")
	seedGoRepo(t, base, "svc-b")
	seedGoRepo(t, base, "svc-c")

	a := testCodeAnalyzer(t, Config{ScanPaths: []string{base}})
	repos, err := a.Enumerate(context.Background(), scan.Request{MaxTargets: 2})
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestEnumerateWithoutScanPathsFails(t *testing.T) {
	a := testCodeAnalyzer(t, Config{})
	_, err := a.Enumerate(context.Background(), scan.Request{})
	assert.Error(t, err)
}

func TestAnalyzeEmitsRepositoryCodebaseAndDependencyRecords(t *testing.T) {
	base := t.TempDir()
	root := seedGoRepo(t, base, "svc-a")

	a := testCodeAnalyzer(t, Config{ScanPaths: []string{base}})
	records, err := a.Analyze(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, records, 3)

	repo := records[0]
	assert.Equal(t, "repository", repo.Entity)
	assert.Equal(t, "file://"+root, repo.Data["repo_url"])
	assert.Equal(t, "svc-a", repo.Data["repo_name"])
	assert.Equal(t, "Go", repo.Data["primary_language"])

	runtimes := repo.Data["runtimes"].([]any)
	require.Len(t, runtimes, 1)
	goRuntime := runtimes[0].(map[string]any)
	assert.Equal(t, "go", goRuntime["product"])
	assert.Equal(t, "1.21", goRuntime["matched_version"])

	codebase := records[1]
	assert.Equal(t, "codebase", codebase.Entity)
	metrics := codebase.Data["metrics"].(map[string]any)
	assert.Equal(t, 2, metrics["total_files"])

	dep := records[2]
	assert.Equal(t, "dependency", dep.Entity)
	depData := dep.Data["dependency"].(map[string]any)
	assert.Equal(t, "github.com/rs/zerolog", depData["name"])
	assert.Equal(t, "go", depData["package_manager"])

	// All three records share one analysis ID.
	analysisID := repo.Data["analysis_id"]
	assert.NotEmpty(t, analysisID)
	assert.Equal(t, analysisID, codebase.Data["analysis_id"])
	assert.Equal(t, analysisID, dep.Data["analysis_id"])
}

func TestAnalyzeMissingPathFails(t *testing.T) {
	a := testCodeAnalyzer(t, Config{})
	_, err := a.Analyze(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestIsRepository(t *testing.T) {
	base := t.TempDir()
	assert.False(t, IsRepository(base))
	writeFile(t, base, "package.json", "{}")
	assert.True(t, IsRepository(base))
}

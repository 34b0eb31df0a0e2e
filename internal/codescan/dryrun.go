package codescan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DiscoveryPoster delivers one dry-run discovery to the session store.
type DiscoveryPoster interface {
	PostDiscovery(ctx context.Context, sessionID, discoveryType string, data map[string]any) error
}

// CallbackPoster posts discoveries to the orchestrator's internal
// discovery endpoint.
type CallbackPoster struct {
	baseURL string
	client  *http.Client
}

func NewCallbackPoster(baseURL string) *CallbackPoster {
	return &CallbackPoster{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *CallbackPoster) PostDiscovery(ctx context.Context, sessionID, discoveryType string, data map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"session_id":     sessionID,
		"source":         "code-analyzer",
		"discovery_type": discoveryType,
		"data":           data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/dryrun/internal/discoveries", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post discovery: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// DryRunResult summarizes one dry-run scan.
type DryRunResult struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	ReposScanned int      `json:"repos_scanned"`
	AnalysisIDs  []string `json:"analysis_ids"`
}

// DryRunScan analyzes every repository under reposBase and posts
// repository, codebase_metrics, and dependency discoveries for the
// session. An analysis ID joins the result list only once every post
// for its repo has succeeded; a repo that fails partway is counted as
// failed and the scan moves on.
func (a *Analyzer) DryRunScan(ctx context.Context, sessionID, reposBase string, poster DiscoveryPoster) (DryRunResult, error) {
	entries, err := os.ReadDir(reposBase)
	if err != nil {
		return DryRunResult{}, fmt.Errorf("repos path %s: %w", reposBase, err)
	}

	var repoDirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			repoDirs = append(repoDirs, filepath.Join(reposBase, entry.Name()))
		}
	}
	if len(repoDirs) == 0 {
		return DryRunResult{}, fmt.Errorf("no repositories found in %s", reposBase)
	}

	analysisIDs := []string{}
	discoveriesPosted := 0
	failed := 0

	for _, repoPath := range repoDirs {
		analysisID, posted, err := a.dryRunRepo(ctx, sessionID, repoPath, poster)
		discoveriesPosted += posted
		if err != nil {
			failed++
			a.log.Error().Err(err).Str("repo", filepath.Base(repoPath)).Msg("Dry-run analysis failed")
			continue
		}
		analysisIDs = append(analysisIDs, analysisID)
	}

	status := "completed"
	switch {
	case failed > 0 && len(analysisIDs) == 0:
		status = "failed"
	case failed > 0:
		status = "partial"
	}

	detail := ""
	if failed > 0 {
		detail = fmt.Sprintf(" (%d failed)", failed)
	}
	return DryRunResult{
		Status:       status,
		Message:      fmt.Sprintf("Scanned %d/%d repositories, posted %d discoveries%s", len(analysisIDs), len(repoDirs), discoveriesPosted, detail),
		ReposScanned: len(analysisIDs),
		AnalysisIDs:  analysisIDs,
	}, nil
}

func (a *Analyzer) dryRunRepo(ctx context.Context, sessionID, repoPath string, poster DiscoveryPoster) (string, int, error) {
	analysis, err := a.AnalyzeRepo(repoPath)
	if err != nil {
		return "", 0, err
	}

	analysisID := uuid.NewString()
	repoName := filepath.Base(repoPath)
	repoURL := fmt.Sprintf("dryrun://%s/%s", sessionID, repoName)
	posted := 0

	repoData := repositoryData(analysisID, repoURL, repoName, analysis)
	if err := poster.PostDiscovery(ctx, sessionID, "repository", repoData); err != nil {
		return "", posted, err
	}
	posted++

	metricsData := map[string]any{
		"analysis_id": analysisID,
		"repo_url":    repoURL,
		"repo_name":   repoName,
		"metrics":     analysis.Metrics.Data(),
	}
	if err := poster.PostDiscovery(ctx, sessionID, "codebase_metrics", metricsData); err != nil {
		return "", posted, err
	}
	posted++

	for _, dep := range analysis.Dependencies {
		depData := map[string]any{
			"analysis_id": analysisID,
			"repo_url":    repoURL,
			"repo_name":   repoName,
			"dependency":  dependencyData(dep),
		}
		if err := poster.PostDiscovery(ctx, sessionID, "dependency", depData); err != nil {
			return "", posted, err
		}
		posted++
	}
	return analysisID, posted, nil
}

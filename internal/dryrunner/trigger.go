package dryrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPAnalyzerTrigger invokes the code-analyzer dry-run endpoint. The
// analyzer posts its discoveries to the callback URL, not back to us, so
// the call only has to land.
type HTTPAnalyzerTrigger struct {
	analyzerURL string
	callbackURL string
	apiKey      string
	client      *http.Client
	log         zerolog.Logger
}

func NewHTTPAnalyzerTrigger(analyzerURL, callbackURL, apiKey string, log zerolog.Logger) *HTTPAnalyzerTrigger {
	return &HTTPAnalyzerTrigger{
		analyzerURL: analyzerURL,
		callbackURL: callbackURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 120 * time.Second},
		log:         log,
	}
}

func (t *HTTPAnalyzerTrigger) TriggerDryRun(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{
		"session_id":   sessionID,
		"callback_url": t.callbackURL,
	})
	if err != nil {
		return err
	}

	url := t.analyzerURL + "/api/v1/dryrun/analyze"
	t.log.Info().Str("session_id", sessionID).Str("url", url).Msg("Triggering code analyzer")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach code analyzer: %w", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("code analyzer returned status %d", resp.StatusCode)
	}

	var result struct {
		ReposScanned int `json:"repos_scanned"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		t.log.Info().Str("session_id", sessionID).Int("repos_scanned", result.ReposScanned).
			Msg("Code analysis completed")
	}
	return nil
}

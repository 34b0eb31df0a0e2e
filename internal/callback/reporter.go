// Package callback posts scan progress and completion reports to the
// approval API. Callback failures are logged and swallowed so a broken
// callback channel never aborts a running scan.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scan completion statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

const requestTimeout = 10 * time.Second

// ProgressReport is the body posted to the progress URL.
type ProgressReport struct {
	ScanID         string  `json:"scan_id"`
	Collector      string  `json:"collector"`
	Sequence       int64   `json:"sequence"`
	Phase          string  `json:"phase"`
	Progress       float64 `json:"progress"`
	DiscoveryCount int64   `json:"discovery_count"`
	Message        string  `json:"message"`
	Timestamp      string  `json:"timestamp"`
}

// CompletionReport is the body posted to the completion URL.
type CompletionReport struct {
	ScanID         string `json:"scan_id"`
	Collector      string `json:"collector"`
	Status         string `json:"status"`
	DiscoveryCount int64  `json:"discovery_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Reporter tracks per-scan progress state and posts callbacks. One
// Reporter serves one scan.
type Reporter struct {
	scanID        string
	collector     string
	progressURL   string
	completionURL string
	apiKey        string

	sequence       atomic.Int64
	discoveryCount atomic.Int64

	client *http.Client
	log    zerolog.Logger
}

// New builds a reporter for one scan. apiKey, progressURL and
// completionURL may be empty; empty URLs disable the respective callback.
func New(scanID, collector, progressURL, completionURL, apiKey string, log zerolog.Logger) *Reporter {
	return &Reporter{
		scanID:        scanID,
		collector:     collector,
		progressURL:   progressURL,
		completionURL: completionURL,
		apiKey:        apiKey,
		client:        &http.Client{Timeout: requestTimeout},
		log:           log.With().Str("scan_id", scanID).Logger(),
	}
}

// IncrementDiscoveryCount bumps the counter surfaced on subsequent
// progress reports.
func (r *Reporter) IncrementDiscoveryCount(n int64) {
	r.discoveryCount.Add(n)
}

// DiscoveryCount returns the number of discoveries reported so far.
func (r *Reporter) DiscoveryCount() int64 {
	return r.discoveryCount.Load()
}

// ReportProgress posts a progress record with a monotonically increasing
// sequence number. Transport errors are logged and swallowed.
func (r *Reporter) ReportProgress(ctx context.Context, phase string, progress float64, message string) {
	if r.progressURL == "" {
		return
	}
	report := ProgressReport{
		ScanID:         r.scanID,
		Collector:      r.collector,
		Sequence:       r.sequence.Add(1),
		Phase:          phase,
		Progress:       progress,
		DiscoveryCount: r.discoveryCount.Load(),
		Message:        message,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.post(ctx, r.progressURL, report); err != nil {
		r.log.Warn().Err(err).Str("phase", phase).Msg("progress callback failed")
	}
}

// ReportComplete posts the final record for the scan. Exactly one
// completion is expected per scan; enforcing that is the caller's job.
func (r *Reporter) ReportComplete(ctx context.Context, status, errorMessage string) {
	if r.completionURL == "" {
		return
	}
	report := CompletionReport{
		ScanID:         r.scanID,
		Collector:      r.collector,
		Status:         status,
		DiscoveryCount: r.discoveryCount.Load(),
		ErrorMessage:   errorMessage,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.post(ctx, r.completionURL, report); err != nil {
		r.log.Warn().Err(err).Str("status", status).Msg("completion callback failed")
	}
}

func (r *Reporter) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

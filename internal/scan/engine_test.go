package scan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiforce/discovery-mesh/internal/callback"
	"github.com/aiforce/discovery-mesh/internal/cloudevents"
)

type fakeAnalyzer struct {
	targets  []string
	enumErr  error
	failOn   map[string]bool
	perCount int
	block    chan struct{}
}

func (f *fakeAnalyzer) Collector() string  { return "code-analyzer" }
func (f *fakeAnalyzer) Source() string     { return "/collectors/code-analyzer" }
func (f *fakeAnalyzer) TargetNoun() string { return "repos" }

func (f *fakeAnalyzer) Enumerate(ctx context.Context, req Request) ([]string, error) {
	return f.targets, f.enumErr
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, target string) ([]Record, error) {
	if f.block != nil {
		<-f.block
	}
	if f.failOn[target] {
		return nil, errors.New("parse error")
	}
	count := f.perCount
	if count == 0 {
		count = 1
	}
	records := make([]Record, count)
	for i := range records {
		records[i] = Record{Entity: "repository", Data: map[string]any{"name": target}}
	}
	return records, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*cloudevents.Event
	keys   []string
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, ev *cloudevents.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	p.keys = append(p.keys, key)
	return nil
}

func completionRecorder(t *testing.T) (*httptest.Server, *[]callback.CompletionReport) {
	t.Helper()
	var mu sync.Mutex
	reports := &[]callback.CompletionReport{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep callback.CompletionReport
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		mu.Lock()
		*reports = append(*reports, rep)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, reports
}

func TestRunAllTargetsSucceed(t *testing.T) {
	srv, reports := completionRecorder(t)
	pub := &fakePublisher{}
	eng := NewEngine(&fakeAnalyzer{targets: []string{"a", "b"}, perCount: 2}, pub, zerolog.Nop())

	summary, err := eng.Run(context.Background(), Request{ScanID: "s1", CompletionURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, callback.StatusCompleted, summary.Status)
	assert.Equal(t, int64(4), summary.DiscoveryCount)
	assert.Empty(t, summary.ErrorMessage)

	require.Len(t, *reports, 1)
	assert.Equal(t, callback.StatusCompleted, (*reports)[0].Status)

	require.Len(t, pub.events, 4)
	for i, ev := range pub.events {
		assert.Equal(t, "discovered.repository", pub.keys[i])
		assert.Equal(t, "s1", ev.Subject)
		assert.Equal(t, "discovery.repository.discovered", ev.Type)
	}
}

func TestRunPartialFailure(t *testing.T) {
	srv, reports := completionRecorder(t)
	pub := &fakePublisher{}
	an := &fakeAnalyzer{
		targets: []string{"r1", "r2", "r3", "r4", "r5"},
		failOn:  map[string]bool{"r3": true},
	}
	eng := NewEngine(an, pub, zerolog.Nop())

	summary, err := eng.Run(context.Background(), Request{ScanID: "s6", CompletionURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, callback.StatusPartial, summary.Status)
	assert.Equal(t, "1/5 repos failed analysis", summary.ErrorMessage)
	assert.Equal(t, int64(4), summary.DiscoveryCount)

	require.Len(t, *reports, 1)
	assert.Equal(t, callback.StatusPartial, (*reports)[0].Status)
	assert.Equal(t, "1/5 repos failed analysis", (*reports)[0].ErrorMessage)
	assert.Equal(t, int64(4), (*reports)[0].DiscoveryCount)
}

func TestRunAllTargetsFail(t *testing.T) {
	srv, reports := completionRecorder(t)
	an := &fakeAnalyzer{
		targets: []string{"x", "y"},
		failOn:  map[string]bool{"x": true, "y": true},
	}
	eng := NewEngine(an, &fakePublisher{}, zerolog.Nop())

	summary, err := eng.Run(context.Background(), Request{ScanID: "s2", CompletionURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, callback.StatusFailed, summary.Status)
	assert.Equal(t, "2/2 repos failed analysis", summary.ErrorMessage)
	require.Len(t, *reports, 1)
}

func TestRunPublishFailureCountsAsTargetFailure(t *testing.T) {
	srv, _ := completionRecorder(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	eng := NewEngine(&fakeAnalyzer{targets: []string{"a"}}, pub, zerolog.Nop())

	summary, err := eng.Run(context.Background(), Request{ScanID: "s3", CompletionURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, callback.StatusFailed, summary.Status)
	assert.Equal(t, int64(0), summary.DiscoveryCount)
}

func TestRunEnumerationFailure(t *testing.T) {
	srv, reports := completionRecorder(t)
	eng := NewEngine(&fakeAnalyzer{enumErr: errors.New("no scan paths")}, &fakePublisher{}, zerolog.Nop())

	_, err := eng.Run(context.Background(), Request{ScanID: "s4", CompletionURL: srv.URL})
	require.Error(t, err)
	require.Len(t, *reports, 1)
	assert.Equal(t, callback.StatusFailed, (*reports)[0].Status)
	assert.False(t, eng.Running())
}

func TestConcurrentScansRejected(t *testing.T) {
	block := make(chan struct{})
	an := &fakeAnalyzer{targets: []string{"a"}, block: block}
	eng := NewEngine(an, &fakePublisher{}, zerolog.Nop())

	done := make(chan Summary, 1)
	go func() {
		s, _ := eng.Run(context.Background(), Request{ScanID: "first"})
		done <- s
	}()

	// Wait until the first scan holds the engine.
	for !eng.Running() {
		time.Sleep(time.Millisecond)
	}
	_, err := eng.Run(context.Background(), Request{ScanID: "second"})
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(block)
	s := <-done
	assert.Equal(t, callback.StatusCompleted, s.Status)
	assert.False(t, eng.Running())
}

func TestZeroTargetsCompletes(t *testing.T) {
	srv, reports := completionRecorder(t)
	eng := NewEngine(&fakeAnalyzer{targets: nil}, &fakePublisher{}, zerolog.Nop())
	summary, err := eng.Run(context.Background(), Request{ScanID: "s5", CompletionURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, callback.StatusCompleted, summary.Status)
	require.Len(t, *reports, 1)
}

package dryrunner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []Discovery
	saveErr error
}

func (s *fakeStore) SaveDiscovery(_ context.Context, d Discovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, d)
	return nil
}

func (s *fakeStore) SessionDiscoveries(_ context.Context, sessionID string) ([]Discovery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Discovery
	for _, d := range s.saved {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []*cloudevents.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, event *cloudevents.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func TestRecorderStoresAndRepublishes(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	rec := NewRecorder(store, pub, zerolog.Nop())

	err := rec.Record(context.Background(), Discovery{
		SessionID:     "sess-1",
		Source:        "/collectors/code-analyzer",
		DiscoveryType: "repository",
		Data:          map[string]any{"repo_name": "flask-shop"},
	})
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "discovered.repository", pub.keys[0])
	assert.Equal(t, "/collectors/code-analyzer", pub.events[0].Source)
	assert.Equal(t, "sess-1", pub.events[0].Subject)
	assert.Equal(t, "discovery.repository.discovered", pub.events[0].Type)
}

func TestRecorderValidation(t *testing.T) {
	rec := NewRecorder(&fakeStore{}, &fakePublisher{}, zerolog.Nop())

	err := rec.Record(context.Background(), Discovery{SessionID: "bad id!", DiscoveryType: "repository"})
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	err = rec.Record(context.Background(), Discovery{SessionID: "sess-1"})
	assert.ErrorContains(t, err, "discovery_type")
}

func TestRecorderPublishFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: errors.New("broker down")}
	rec := NewRecorder(store, pub, zerolog.Nop())

	err := rec.Record(context.Background(), Discovery{
		SessionID:     "sess-1",
		DiscoveryType: "dependency",
		Data:          map[string]any{},
	})
	require.NoError(t, err)
	assert.Len(t, store.saved, 1)
}

func TestRecorderStoreFailure(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection refused")}
	rec := NewRecorder(store, &fakePublisher{}, zerolog.Nop())

	err := rec.Record(context.Background(), Discovery{SessionID: "sess-1", DiscoveryType: "repository"})
	assert.ErrorContains(t, err, "save discovery")
}

func TestDiscoveryCallbackEndpoint(t *testing.T) {
	srv, store, pub := testServerWithRecorder(t, &fakeDockerClient{}, t.TempDir())

	body := `{"session_id":"sess-1","source":"/collectors/code-analyzer","discovery_type":"repository","data":{"repo_name":"flask-shop"}}`
	rec := do(srv, http.MethodPost, "/api/dryrun/internal/discoveries", body, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.saved, 1)
	assert.Len(t, pub.events, 1)

	rec = do(srv, http.MethodPost, "/api/dryrun/internal/discoveries", `{"session_id":"bad id!","discovery_type":"x"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionDiscoveriesEndpoint(t *testing.T) {
	srv, store, _ := testServerWithRecorder(t, &fakeDockerClient{}, t.TempDir())
	store.saved = []Discovery{
		{SessionID: "sess-1", Source: "/collectors/code-analyzer", DiscoveryType: "repository", Data: map[string]any{}},
		{SessionID: "other", Source: "/collectors/code-analyzer", DiscoveryType: "dependency", Data: map[string]any{}},
	}

	rec := do(srv, http.MethodGet, "/api/dryrun/sess-1/discoveries", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(srv, http.MethodGet, "/api/dryrun/sess-1/discoveries", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

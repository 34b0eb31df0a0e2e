package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
	"github.com/aiforce/discovery-mesh/internal/metrics"
)

// Source is the CloudEvent source path for infrastructure discoveries.
const Source = "/collectors/infra-probe"

const defaultMaxConcurrent = 10

// Request carries one probe order. Secret fields are extracted into a
// Credentials object and scrubbed before the request is used anywhere
// else.
type Request struct {
	TargetIP   string `json:"target_ip"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	ServerID   string `json:"server_id,omitempty"`
	ScanID     string `json:"scan_id,omitempty"`
	Local      bool   `json:"local,omitempty"`
}

func (r *Request) Validate() error {
	if !r.Local && r.TargetIP == "" {
		return errors.New("target_ip is required")
	}
	if !r.Local && r.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// TakeCredentials moves the secrets out of the request, leaving it safe
// to log or keep around.
func (r *Request) TakeCredentials() *Credentials {
	creds := NewCredentials(r.Username, r.Password, r.PrivateKey, r.Passphrase)
	r.Password = ""
	r.PrivateKey = ""
	r.Passphrase = ""
	return creds
}

// Publisher is the slice of the mq publisher the service needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event *cloudevents.Event) error
}

// Service runs probes under a concurrency cap and publishes successful
// results as infrastructure discoveries.
type Service struct {
	prober    *Prober
	local     *LocalProber
	publisher Publisher
	sem       *semaphore.Weighted
	log       zerolog.Logger
}

func NewService(prober *Prober, local *LocalProber, publisher Publisher, maxConcurrent int64, log zerolog.Logger) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Service{
		prober:    prober,
		local:     local,
		publisher: publisher,
		sem:       semaphore.NewWeighted(maxConcurrent),
		log:       log,
	}
}

// Execute runs one probe end to end. The request's secrets are taken
// and cleared before any other work happens.
func (s *Service) Execute(ctx context.Context, req Request) (Result, error) {
	creds := req.TakeCredentials()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		creds.Clear()
		return Result{}, err
	}
	defer s.sem.Release(1)

	var result Result
	if req.Local {
		creds.Clear()
		result = s.local.Probe(req.ServerID)
	} else {
		result = s.prober.Probe(req.TargetIP, req.Port, creds, req.ServerID)
	}

	if !result.Success {
		metrics.ScansCompleted.WithLabelValues("infra-probe", "failed").Inc()
		return result, fmt.Errorf("probe %s failed: %s", result.ProbeID, result.Error)
	}

	event := cloudevents.NewDiscovered(Source, "infrastructure", req.ScanID, result.Data())
	if err := s.publisher.Publish(ctx, cloudevents.DiscoveredKey("infrastructure"), event); err != nil {
		return result, fmt.Errorf("publish probe result: %w", err)
	}
	metrics.EventsPublished.WithLabelValues("infrastructure").Inc()
	metrics.ScansCompleted.WithLabelValues("infra-probe", "completed").Inc()
	return result, nil
}

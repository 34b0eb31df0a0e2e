// Package dryrunner owns the dry-run session lifecycle: per-repository
// test containers on the shared bridge network, labelled so that cleanup
// can find them across restarts.
package dryrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// Container labels identifying dry-run resources.
const (
	LabelSession       = "dryrun.session_id"
	LabelRepo          = "dryrun.repo_name"
	LabelDiscoveryType = "discovery.type"
)

const (
	discoveryTypeCodeRepo = "code-repo"
	idleCommand           = "tail -f /dev/null"
	stopTimeoutSeconds    = 10
)

// sessionIDPattern keeps session IDs safe as Docker object name suffixes.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateSessionID rejects IDs unsafe for container names.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return ErrInvalidSessionID
	}
	return nil
}

var (
	ErrInvalidSessionID = errors.New("session_id must be 1-64 alphanumeric, hyphen or underscore characters")
	ErrSessionActive    = errors.New("session already active")
	ErrDockerDown       = errors.New("docker client not available")
)

// CleanupError aggregates per-container failures during cleanup.
type CleanupError struct {
	Errors []string
}

func (e CleanupError) Error() string {
	return "cleanup partially failed: " + strings.Join(e.Errors, "; ")
}

// dockerClient is the subset of the Docker SDK the orchestrator uses.
type dockerClient interface {
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// AnalyzerTrigger kicks off the code-analyzer dry-run scan for a session.
type AnalyzerTrigger interface {
	TriggerDryRun(ctx context.Context, sessionID string) error
}

// Config holds orchestrator settings.
type Config struct {
	// Network is the shared bridge network collectors reach containers on.
	Network string
	// ReposPath is where sample repositories are visible to this process.
	ReposPath string
	// ReposHostPath is the host-side path used for bind mounts when the
	// orchestrator itself runs in a container. Empty means ReposPath.
	ReposHostPath string
}

// Orchestrator manages dry-run sessions against the local Docker daemon.
type Orchestrator struct {
	cli     dockerClient
	cfg     Config
	trigger AnalyzerTrigger
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string][]string // session id -> container ids
}

// NewOrchestrator connects to the local daemon from the environment.
func NewOrchestrator(cfg Config, trigger AnalyzerTrigger, log zerolog.Logger) (*Orchestrator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newOrchestrator(cli, cfg, trigger, log), nil
}

func newOrchestrator(cli dockerClient, cfg Config, trigger AnalyzerTrigger, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cli:      cli,
		cfg:      cfg,
		trigger:  trigger,
		log:      log,
		sessions: make(map[string][]string),
	}
}

// Close releases the Docker client.
func (o *Orchestrator) Close() error {
	if o.cli != nil {
		return o.cli.Close()
	}
	return nil
}

// ContainerInfo describes one started session container.
type ContainerInfo struct {
	ContainerID string `json:"container_id"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Repo        string `json:"repo"`
	Status      string `json:"status"`
}

// StartResult is the response to a session start.
type StartResult struct {
	ContainerCount int             `json:"container_count"`
	NetworkName    string          `json:"network_name"`
	Containers     []ContainerInfo `json:"containers"`
}

// StartSession spins up one labelled container per sample repository and
// then triggers the code analyzer. A failing trigger never fails the
// session; the containers are already running.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID string) (StartResult, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return StartResult{}, err
	}

	o.mu.Lock()
	if _, active := o.sessions[sessionID]; active {
		o.mu.Unlock()
		return StartResult{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionActive)
	}
	o.mu.Unlock()

	if _, err := o.cli.NetworkInspect(ctx, o.cfg.Network, network.InspectOptions{}); err != nil {
		return StartResult{}, fmt.Errorf("network %s not found, ensure the shared network exists: %w", o.cfg.Network, err)
	}

	repos, err := o.sampleRepoDirs()
	if err != nil {
		return StartResult{}, err
	}

	hostBase := o.cfg.ReposHostPath
	if hostBase == "" {
		hostBase = o.cfg.ReposPath
	}

	result := StartResult{NetworkName: o.cfg.Network}
	var containerIDs []string
	for _, repo := range repos {
		name := fmt.Sprintf("dryrun-%s-%s", shortSessionID(sessionID), repo)
		image := imageForRepo(filepath.Join(o.cfg.ReposPath, repo))

		resp, err := o.cli.ContainerCreate(ctx,
			&container.Config{
				Image: image,
				Cmd:   strings.Fields(idleCommand),
				Labels: map[string]string{
					LabelSession:       sessionID,
					LabelRepo:          repo,
					LabelDiscoveryType: discoveryTypeCodeRepo,
				},
			},
			&container.HostConfig{
				Mounts: []mount.Mount{{
					Type:     mount.TypeBind,
					Source:   filepath.Join(hostBase, repo),
					Target:   "/app/" + repo,
					ReadOnly: true,
				}},
			},
			&network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{
					o.cfg.Network: {},
				},
			},
			nil,
			name,
		)
		if err != nil {
			o.log.Error().Err(err).Str("repo", repo).Msg("Failed to create container")
			continue
		}
		if err := o.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			o.log.Error().Err(err).Str("repo", repo).Msg("Failed to start container")
			continue
		}

		containerIDs = append(containerIDs, resp.ID)
		result.Containers = append(result.Containers, ContainerInfo{
			ContainerID: shortContainerID(resp.ID),
			Name:        name,
			Image:       image,
			Repo:        repo,
			Status:      "running",
		})
		o.log.Info().Str("container_id", shortContainerID(resp.ID)).Str("name", name).Msg("Container started")
	}
	result.ContainerCount = len(result.Containers)

	o.mu.Lock()
	o.sessions[sessionID] = containerIDs
	o.mu.Unlock()

	// The analyzer trigger runs detached: its dry-run scan can take
	// minutes and the session response must not wait on it. A detached
	// context keeps the call alive after the request context is done.
	if o.trigger != nil {
		go func() {
			if err := o.trigger.TriggerDryRun(context.Background(), sessionID); err != nil {
				o.log.Warn().Err(err).Str("session_id", sessionID).
					Msg("Failed to trigger code analyzer, session continues")
			}
		}()
	}

	return result, nil
}

// CleanupResult is the response to a cleanup call.
type CleanupResult struct {
	CleanedContainers int    `json:"cleaned_containers"`
	SessionID         string `json:"session_id"`
}

// Cleanup stops and removes every container labelled with the session.
// Idempotent: a second call finds nothing and reports zero cleaned. The
// shared network is never removed. Partial failures are aggregated into
// a CleanupError.
func (o *Orchestrator) Cleanup(ctx context.Context, sessionID string) (CleanupResult, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return CleanupResult{}, err
	}

	list, err := o.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelSession+"="+sessionID)),
	})
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list session containers: %w", err)
	}

	result := CleanupResult{SessionID: sessionID}
	var failures []string
	timeout := stopTimeoutSeconds
	for _, c := range list {
		if err := o.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
			failures = append(failures, fmt.Sprintf("stop %s: %v", shortContainerID(c.ID), err))
			continue
		}
		if err := o.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			failures = append(failures, fmt.Sprintf("remove %s: %v", shortContainerID(c.ID), err))
			continue
		}
		result.CleanedContainers++
		o.log.Info().Str("container_id", shortContainerID(c.ID)).Msg("Container removed")
	}

	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	if len(failures) > 0 {
		return result, CleanupError{Errors: failures}
	}
	return result, nil
}

// ContainerStatus describes a session container's live state.
type ContainerStatus struct {
	ContainerID string         `json:"container_id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Image       string         `json:"image"`
	Ports       []PortBinding  `json:"ports"`
	Labels      map[string]any `json:"labels,omitempty"`
}

// PortBinding is one exposed port on a container.
type PortBinding struct {
	PrivatePort uint16 `json:"private_port"`
	PublicPort  uint16 `json:"public_port,omitempty"`
	Type        string `json:"type"`
}

// SessionContainers lists the labelled containers of one session.
func (o *Orchestrator) SessionContainers(ctx context.Context, sessionID string) ([]ContainerStatus, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	list, err := o.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelSession+"="+sessionID)),
	})
	if err != nil {
		return nil, fmt.Errorf("list session containers: %w", err)
	}

	out := make([]ContainerStatus, 0, len(list))
	for _, c := range list {
		status := ContainerStatus{
			ContainerID: shortContainerID(c.ID),
			Name:        containerName(c.Names),
			Status:      c.Status,
			Image:       c.Image,
		}
		for _, p := range c.Ports {
			status.Ports = append(status.Ports, PortBinding{
				PrivatePort: p.PrivatePort,
				PublicPort:  p.PublicPort,
				Type:        p.Type,
			})
		}
		out = append(out, status)
	}
	return out, nil
}

// Status summarizes the orchestrator's view of the daemon.
type Status struct {
	Status                 string `json:"status"`
	Docker                 string `json:"docker"`
	ActiveSessions         int    `json:"active_sessions"`
	TotalDryRunContainers  int    `json:"total_dryrun_containers"`
	SampleRepositoriesPath string `json:"sample_repos_path"`
}

// CurrentStatus counts tracked sessions and every labelled dry-run
// container on the daemon.
func (o *Orchestrator) CurrentStatus(ctx context.Context) Status {
	o.mu.Lock()
	active := len(o.sessions)
	o.mu.Unlock()

	status := Status{
		Status:                 "healthy",
		Docker:                 "connected",
		ActiveSessions:         active,
		SampleRepositoriesPath: o.cfg.ReposPath,
	}

	list, err := o.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelSession)),
	})
	if err != nil {
		status.Status = "degraded"
		status.Docker = "unavailable"
		return status
	}
	status.TotalDryRunContainers = len(list)
	return status
}

func (o *Orchestrator) sampleRepoDirs() ([]string, error) {
	entries, err := os.ReadDir(o.cfg.ReposPath)
	if err != nil {
		return nil, fmt.Errorf("read sample repos path %s: %w", o.cfg.ReposPath, err)
	}
	var repos []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			repos = append(repos, entry.Name())
		}
	}
	sort.Strings(repos)
	return repos, nil
}

// imageForRepo picks a base image from the repository's manifest files.
func imageForRepo(dir string) string {
	switch {
	case fileExists(filepath.Join(dir, "requirements.txt")):
		return "python:3.11-slim"
	case fileExists(filepath.Join(dir, "package.json")):
		return "node:20-slim"
	case fileExists(filepath.Join(dir, "pom.xml")):
		return "eclipse-temurin:17-jdk-alpine"
	case fileExists(filepath.Join(dir, "go.mod")):
		return "golang:1.21-alpine"
	default:
		return "alpine:latest"
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func shortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

package testenv

import (
	"sort"
	"time"
)

// ManifestService is one service entry in the manifest.
type ManifestService struct {
	Name       string   `json:"name"`
	IP         string   `json:"ip"`
	Type       string   `json:"type"`
	Technology string   `json:"technology"`
	Ports      []string `json:"ports"`
}

// ManifestSummary counts services per category.
type ManifestSummary struct {
	TotalServices int `json:"total_services"`
	WebServers    int `json:"web_servers"`
	AppServers    int `json:"app_servers"`
	Databases     int `json:"databases"`
	MessageQueues int `json:"message_queues"`
	Infrastructure int `json:"infrastructure"`
}

// Manifest describes a generated environment. Everything except
// GeneratedAt is a pure function of the seed and size.
type Manifest struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Seed        int64             `json:"seed"`
	Summary     ManifestSummary   `json:"summary"`
	Services    []ManifestService `json:"services"`
}

// BuildManifest renders the compose document as a manifest. Services are
// listed in name order.
func BuildManifest(env Environment, generatedAt time.Time) Manifest {
	manifest := Manifest{
		GeneratedAt: generatedAt,
		Seed:        env.Seed,
	}

	names := make([]string, 0, len(env.Compose.Services))
	for name := range env.Compose.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := env.Compose.Services[name]

		ip := "unknown"
		if attachment, ok := cfg.Networks[NetworkName]; ok {
			ip = attachment.IPv4Address
		}
		serviceType := cfg.Labels["discovery.type"]
		if serviceType == "" {
			serviceType = "unknown"
		}
		technology := cfg.Labels["discovery.technology"]
		if technology == "" {
			technology = "unknown"
		}

		manifest.Services = append(manifest.Services, ManifestService{
			Name:       name,
			IP:         ip,
			Type:       serviceType,
			Technology: technology,
			Ports:      cfg.Ports,
		})

		manifest.Summary.TotalServices++
		switch serviceType {
		case "web-server":
			manifest.Summary.WebServers++
		case "app-server":
			manifest.Summary.AppServers++
		case "database":
			manifest.Summary.Databases++
		case "message-queue":
			manifest.Summary.MessageQueues++
		case "infrastructure":
			manifest.Summary.Infrastructure++
		}
	}

	return manifest
}

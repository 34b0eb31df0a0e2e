package netscan

import (
	"context"
	"errors"

	"github.com/aiforce/discovery-mesh/internal/scan"
)

// Source is the CloudEvent source path for this collector.
const Source = "/collectors/network-scanner"

// candidatePorts maps well-known database ports to the flagged type.
// The processor raises the confidence when a banner confirms it.
var candidatePorts = map[int]string{
	1433:  "mssql",
	1521:  "oracle",
	3306:  "mysql",
	5432:  "postgresql",
	5984:  "couchdb",
	6379:  "redis",
	9042:  "cassandra",
	9200:  "elasticsearch",
	27017: "mongodb",
}

const portOnlyConfidence = 0.5

// Analyzer adapts the port scanner to the shared scan engine: targets
// are host IPs, analysis produces one service record per open port plus
// one server record per live host.
type Analyzer struct {
	scanner *Scanner
}

func NewAnalyzer(scanner *Scanner) *Analyzer {
	return &Analyzer{scanner: scanner}
}

func (a *Analyzer) Collector() string { return "network-scanner" }

func (a *Analyzer) Source() string { return Source }

func (a *Analyzer) TargetNoun() string { return "hosts" }

// Enumerate expands the requested subnets (or the configured ones) into
// individual host addresses.
func (a *Analyzer) Enumerate(ctx context.Context, req scan.Request) ([]string, error) {
	subnets := req.Targets
	if len(subnets) == 0 {
		subnets = a.scanner.cfg.Subnets
	}
	if len(subnets) == 0 {
		return nil, errors.New("no subnets configured")
	}
	return a.scanner.ExpandSubnets(subnets, req.MaxTargets)
}

func (a *Analyzer) Analyze(ctx context.Context, ip string) ([]scan.Record, error) {
	results, err := a.scanner.ScanHost(ctx, ip)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	records := make([]scan.Record, 0, len(results)+1)
	openPorts := make([]any, 0, len(results))
	banners := map[int]string{}

	for _, r := range results {
		openPorts = append(openPorts, r.Port)
		if r.Banner != "" {
			banners[r.Port] = r.Banner
		}
		records = append(records, scan.Record{Entity: "service", Data: serviceData(r)})
	}

	records = append(records, scan.Record{Entity: "server", Data: map[string]any{
		"ip_addresses": []any{ip},
		"open_ports":   openPorts,
		"os":           map[string]any{"name": IdentifyOS(banners)},
	}})
	return records, nil
}

func serviceData(r PortResult) map[string]any {
	data := map[string]any{
		"ip":       r.IP,
		"port":     r.Port,
		"protocol": r.Protocol,
		"service":  r.Service.Name,
	}
	if r.Service.Version != "" {
		data["version"] = r.Service.Version
	}
	if r.Service.Product != "" {
		data["product"] = r.Service.Product
	}
	if r.Banner != "" {
		data["banner"] = r.Banner
	}
	if dbType, ok := candidatePorts[r.Port]; ok {
		data["metadata"] = map[string]any{
			"database_candidate":   true,
			"candidate_type":       dbType,
			"candidate_confidence": portOnlyConfidence,
		}
	}
	return data
}

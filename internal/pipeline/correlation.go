package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Relationship types emitted by correlation.
const (
	RelConnectsTo = "connects_to"
	RelDeployedOn = "deployed_on"
	RelDependsOn  = "depends_on"
	RelHosts      = "hosts"
	RelUses       = "uses"
	RelPartOf     = "part_of"
)

// StoredEntity is the correlation index record for one seen entity.
type StoredEntity struct {
	ID          string
	Type        string
	IP          string
	IPAddresses []string
	Host        string
	Port        int
	Connections []map[string]any
}

// CorrelationStore indexes recently seen entities for cross-event
// correlation. The in-memory store covers a single process; a
// distributed deployment would back this with an external index and
// treat the in-memory copy as a cache.
type CorrelationStore interface {
	Put(entity StoredEntity)
	FindByIP(ip string) (StoredEntity, bool)
	FindServicesOnIP(ip string) []StoredEntity
	FindConnectingTo(host string, port int) []StoredEntity
}

// MemoryStore is the process-local CorrelationStore.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]StoredEntity
}

// NewMemoryStore creates an empty correlation index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: map[string]StoredEntity{}}
}

func (s *MemoryStore) Put(entity StoredEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.ID] = entity
}

func (s *MemoryStore) FindByIP(ip string) (StoredEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		if e.IP == ip {
			return e, true
		}
		for _, addr := range e.IPAddresses {
			if addr == ip {
				return e, true
			}
		}
	}
	return StoredEntity{}, false
}

func (s *MemoryStore) FindServicesOnIP(ip string) []StoredEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredEntity
	for _, e := range s.entities {
		if e.Type == "service" && e.IP == ip {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) FindConnectingTo(host string, port int) []StoredEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredEntity
	for _, e := range s.entities {
		for _, conn := range e.Connections {
			p, _ := asInt(conn["port"])
			if asString(conn["host"]) == host && p == port {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// CorrelationStage links the current event to previously seen entities
// and writes the resulting edges to data.correlated_relationships.
// Deduplication on (type, source_id, target_id) keeps the stage
// idempotent.
type CorrelationStage struct {
	store CorrelationStore
}

// NewCorrelationStage builds the stage around a store.
func NewCorrelationStage(store CorrelationStore) *CorrelationStage {
	return &CorrelationStage{store: store}
}

func (s *CorrelationStage) Name() string { return "correlation" }

func (s *CorrelationStage) Process(data map[string]any) error {
	entityType := s.entityType(data)

	var relationships []map[string]any
	switch entityType {
	case "repository":
		relationships = s.correlateRepository(data)
	case "service":
		relationships = s.correlateService(data)
	case "database":
		relationships = s.correlateDatabase(data)
	case "server":
		relationships = s.correlateServer(data)
	case "infrastructure":
		relationships = s.correlateInfrastructure(data)
	}

	unique := dedupeRelationships(relationships)
	out := make([]any, len(unique))
	for i, rel := range unique {
		out[i] = rel
	}
	data["correlated_relationships"] = out

	s.storeEntity(data, entityType)
	return nil
}

// entityType prefers the enrichment label, falling back to data-shape
// detection for events that skipped enrichment.
func (s *CorrelationStage) entityType(data map[string]any) string {
	if enrichment, ok := data["enrichment"].(map[string]any); ok {
		label := strings.ToLower(asString(enrichment["entity_label"]))
		switch {
		case strings.Contains(label, "database"):
			return "database"
		case strings.Contains(label, "application"), strings.Contains(label, "repository"):
			return "repository"
		case strings.Contains(label, "infrastructure"):
			return "infrastructure"
		case strings.Contains(label, "server"):
			return "server"
		case strings.Contains(label, "service"):
			return "service"
		}
	}
	switch {
	case hasKey(data, "repository_url"), hasKey(data, "analysis_id"):
		return "repository"
	case hasKey(data, "db_type"), hasKey(data, "database_type"):
		return "database"
	case hasKey(data, "port") && hasKey(data, "service"):
		return "service"
	case hasKey(data, "ip_addresses"), hasKey(data, "server_id"):
		return "server"
	case hasKey(data, "probe_id"):
		return "infrastructure"
	}
	return "unknown"
}

func (s *CorrelationStage) correlateRepository(data map[string]any) []map[string]any {
	var rels []map[string]any
	repoID := s.entityID(data, "repository")

	if conns, ok := data["extracted_connections"].([]any); ok {
		for _, raw := range conns {
			conn, ok := raw.(map[string]any)
			if !ok || asString(conn["host"]) == "" {
				continue
			}
			port, _ := asInt(conn["port"])
			rels = append(rels, map[string]any{
				"type":        RelConnectsTo,
				"source_id":   repoID,
				"source_type": "repository",
				"target_id":   GenerateEntityID("service", asString(conn["host"]), port),
				"target_type": "service",
				"confidence":  0.8,
				"evidence":    fmt.Sprintf("Connection to %s:%d", asString(conn["host"]), port),
			})
		}
	}

	for _, dep := range asStrings(data["dependencies"]) {
		rels = append(rels, map[string]any{
			"type":        RelDependsOn,
			"source_id":   repoID,
			"source_type": "repository",
			"target_id":   GenerateEntityID("dependency", dep),
			"target_type": "dependency",
			"confidence":  1.0,
			"evidence":    fmt.Sprintf("Dependency: %s", dep),
		})
	}
	return rels
}

func (s *CorrelationStage) correlateService(data map[string]any) []map[string]any {
	var rels []map[string]any
	serviceID := s.entityID(data, "service")
	ip := asString(data["ip"])

	if serverID := asString(data["server_id"]); serverID != "" {
		rels = append(rels, map[string]any{
			"type":        RelDeployedOn,
			"source_id":   serviceID,
			"source_type": "service",
			"target_id":   serverID,
			"target_type": "server",
			"confidence":  1.0,
			"evidence":    "Same server_id",
		})
	} else if ip != "" {
		if server, ok := s.store.FindByIP(ip); ok {
			rels = append(rels, map[string]any{
				"type":        RelDeployedOn,
				"source_id":   serviceID,
				"source_type": "service",
				"target_id":   server.ID,
				"target_type": "server",
				"confidence":  0.9,
				"evidence":    fmt.Sprintf("IP match: %s", ip),
			})
		}
	}

	if metadata, ok := data["metadata"].(map[string]any); ok {
		if flagged, _ := metadata["database_candidate"].(bool); flagged {
			port, _ := asInt(data["port"])
			confidence, ok := asFloat(metadata["candidate_confidence"])
			if !ok {
				confidence = ConfidencePortOnly
			}
			evidence := asString(metadata["candidate_reason"])
			if evidence == "" {
				evidence = "Database port detected"
			}
			rels = append(rels, map[string]any{
				"type":        RelUses,
				"source_id":   serviceID,
				"source_type": "service",
				"target_id":   GenerateEntityID("database", asString(metadata["candidate_type"]), ip, port),
				"target_type": "database",
				"confidence":  confidence,
				"evidence":    evidence,
			})
		}
	}
	return rels
}

func (s *CorrelationStage) correlateDatabase(data map[string]any) []map[string]any {
	var rels []map[string]any
	dbID := s.entityID(data, "database")
	host := asString(data["host"])
	port, hasPort := asInt(data["port"])

	if host != "" && hasPort {
		for _, svc := range s.store.FindConnectingTo(host, port) {
			rels = append(rels, map[string]any{
				"type":        RelConnectsTo,
				"source_id":   svc.ID,
				"source_type": svc.Type,
				"target_id":   dbID,
				"target_type": "database",
				"confidence":  0.85,
				"evidence":    fmt.Sprintf("Connection to %s:%d", host, port),
			})
		}
	}
	return rels
}

func (s *CorrelationStage) correlateServer(data map[string]any) []map[string]any {
	var rels []map[string]any
	serverID := s.entityID(data, "server")

	for _, ip := range stringList(data["ip_addresses"]) {
		for _, svc := range s.store.FindServicesOnIP(ip) {
			rels = append(rels, map[string]any{
				"type":        RelHosts,
				"source_id":   serverID,
				"source_type": "server",
				"target_id":   svc.ID,
				"target_type": "service",
				"confidence":  0.95,
				"evidence":    fmt.Sprintf("Service on IP %s", ip),
			})
		}
	}
	return rels
}

func (s *CorrelationStage) correlateInfrastructure(data map[string]any) []map[string]any {
	var rels []map[string]any
	infraID := s.entityID(data, "infrastructure")

	if serverID := asString(data["server_id"]); serverID != "" {
		rels = append(rels, map[string]any{
			"type":        RelPartOf,
			"source_id":   infraID,
			"source_type": "infrastructure",
			"target_id":   serverID,
			"target_type": "server",
			"confidence":  1.0,
			"evidence":    "Same server_id",
		})
	} else if targetIP := asString(data["target_ip"]); targetIP != "" {
		if server, ok := s.store.FindByIP(targetIP); ok {
			rels = append(rels, map[string]any{
				"type":        RelPartOf,
				"source_id":   infraID,
				"source_type": "infrastructure",
				"target_id":   server.ID,
				"target_type": "server",
				"confidence":  0.9,
				"evidence":    fmt.Sprintf("IP match: %s", targetIP),
			})
		}
	}
	return rels
}

// entityID returns the event's own ID field when present, otherwise a
// deterministic hash over the identifying fields.
func (s *CorrelationStage) entityID(data map[string]any, entityType string) string {
	idFields := map[string][]string{
		"repository":     {"analysis_id"},
		"service":        {"service_id"},
		"database":       {"db_id", "database_id"},
		"server":         {"server_id"},
		"infrastructure": {"probe_id"},
	}
	for _, field := range idFields[entityType] {
		if id := asString(data[field]); id != "" {
			return id
		}
	}

	switch entityType {
	case "repository":
		return GenerateEntityID("repository", asString(data["repository_url"]))
	case "service":
		port, _ := asInt(data["port"])
		return GenerateEntityID("service", asString(data["ip"]), port, asString(data["service"]))
	case "database":
		port, _ := asInt(data["port"])
		return GenerateEntityID("database", asString(data["db_type"]), asString(data["host"]), port)
	case "server":
		parts := make([]any, 0, 4)
		for _, ip := range stringList(data["ip_addresses"]) {
			parts = append(parts, ip)
		}
		return GenerateEntityID(append([]any{"server"}, parts...)...)
	case "infrastructure":
		return GenerateEntityID("infrastructure", asString(data["target_ip"]))
	}
	return GenerateEntityID(entityType, fmt.Sprint(data))
}

// GenerateEntityID builds the deterministic 16-hex entity ID used across
// correlation and graph mapping: a truncated SHA-256 over the non-empty
// parts joined by colons.
func GenerateEntityID(parts ...any) string {
	var nonEmpty []string
	for _, p := range parts {
		s := fmt.Sprint(p)
		if s == "" || s == "0" {
			continue
		}
		nonEmpty = append(nonEmpty, s)
	}
	sum := sha256.Sum256([]byte(strings.Join(nonEmpty, ":")))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *CorrelationStage) storeEntity(data map[string]any, entityType string) {
	entity := StoredEntity{
		ID:          s.entityID(data, entityType),
		Type:        entityType,
		IP:          asString(data["ip"]),
		IPAddresses: stringList(data["ip_addresses"]),
		Host:        asString(data["host"]),
	}
	entity.Port, _ = asInt(data["port"])
	if conns, ok := data["extracted_connections"].([]any); ok {
		for _, raw := range conns {
			if conn, ok := raw.(map[string]any); ok {
				entity.Connections = append(entity.Connections, conn)
			}
		}
	}
	s.store.Put(entity)
}

func dedupeRelationships(rels []map[string]any) []map[string]any {
	type key struct{ typ, source, target string }
	seen := map[key]bool{}
	unique := make([]map[string]any, 0, len(rels))
	for _, rel := range rels {
		k := key{asString(rel["type"]), asString(rel["source_id"]), asString(rel["target_id"])}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, rel)
	}
	return unique
}

func hasKey(data map[string]any, key string) bool {
	_, ok := data[key]
	return ok
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

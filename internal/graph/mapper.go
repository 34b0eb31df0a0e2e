// Package graph converts scored events into the node/relationship format
// consumed by the assessment workbench importer.
package graph

import "strings"

// Mapper builds graph nodes from enriched event payloads. Node labels come
// from enrichment, so events that skipped enrichment fall back to "Entity".
type Mapper struct {
	// SkipEmpty drops nil, empty-string and empty-list property values
	// to keep batch payloads small.
	SkipEmpty bool
}

func NewMapper() *Mapper {
	return &Mapper{SkipEmpty: true}
}

// entityIDFields in lookup order. Collector-assigned IDs win over anything
// derived downstream.
var entityIDFields = []string{"analysis_id", "server_id", "service_id", "probe_id", "db_id"}

// MapEvent converts one event payload into a node plus its outgoing
// relationships.
func (m *Mapper) MapEvent(data map[string]any) map[string]any {
	enrichment := getMap(data, "enrichment")
	scoring := getMap(data, "scoring")

	label := asString(enrichment["entity_label"])
	if label == "" {
		label = "Entity"
	}

	node := map[string]any{
		"label":      label,
		"properties": m.buildProperties(data, enrichment, scoring),
	}

	if rels, ok := data["correlated_relationships"].([]any); ok && len(rels) > 0 {
		mapped := make([]any, 0, len(rels))
		for _, raw := range rels {
			if rel, ok := raw.(map[string]any); ok {
				mapped = append(mapped, mapRelationship(rel))
			}
		}
		node["relationships"] = mapped
	}
	return node
}

// MapBatch flattens a batch of event payloads into one import document.
func (m *Mapper) MapBatch(items []map[string]any) map[string]any {
	nodes := make([]any, 0, len(items))
	relationships := make([]any, 0)

	for _, item := range items {
		mapped := m.MapEvent(item)
		nodes = append(nodes, map[string]any{
			"label":      mapped["label"],
			"properties": mapped["properties"],
		})
		if rels, ok := mapped["relationships"].([]any); ok {
			relationships = append(relationships, rels...)
		}
	}

	return map[string]any{
		"format":        "neo4j",
		"version":       "1.0.0",
		"nodes":         nodes,
		"relationships": relationships,
		"metadata": map[string]any{
			"node_count":         len(nodes),
			"relationship_count": len(relationships),
		},
	}
}

func (m *Mapper) buildProperties(data, enrichment, scoring map[string]any) map[string]any {
	props := map[string]any{}

	m.add(props, "entity_id", entityID(data))
	m.add(props, "entity_category", enrichment["entity_category"])
	m.add(props, "environment", enrichment["environment"])

	switch asString(enrichment["entity_label"]) {
	case "Server", "Infrastructure":
		m.addServer(props, data)
	case "Service", "APIService":
		m.addService(props, data)
	case "Database", "RelationalDatabase", "DocumentDatabase", "KeyValueStore", "SearchEngine":
		m.addDatabase(props, data, enrichment)
	case "Application", "WebApplication", "BatchJob", "Library", "CLITool":
		m.addApplication(props, data)
	}

	m.add(props, "complexity_score", scoring["complexity_score"])
	m.add(props, "risk_score", scoring["risk_score"])
	m.add(props, "effort_score", scoring["effort_score"])
	m.add(props, "overall_score", scoring["overall_score"])

	metadata := getMap(data, "metadata")
	m.add(props, "cloud_provider", metadata["cloud_provider"])
	m.add(props, "hosting_model", metadata["hosting_model"])

	return props
}

func (m *Mapper) addServer(props, data map[string]any) {
	m.add(props, "hostname", data["hostname"])
	m.add(props, "ip_addresses", data["ip_addresses"])
	m.add(props, "open_ports", data["open_ports"])

	if osInfo := getMap(data, "os"); len(osInfo) > 0 {
		m.add(props, "os_name", osInfo["name"])
		m.add(props, "os_version", osInfo["version"])
		m.add(props, "os_family", osInfo["family"])
	}
}

func (m *Mapper) addService(props, data map[string]any) {
	m.add(props, "ip", data["ip"])
	m.add(props, "port", data["port"])
	m.add(props, "protocol", data["protocol"])
	m.add(props, "service_name", data["service"])
	m.add(props, "service_version", data["version"])
}

func (m *Mapper) addDatabase(props, data, enrichment map[string]any) {
	m.add(props, "db_type", data["db_type"])
	m.add(props, "host", data["host"])
	m.add(props, "port", data["port"])
	m.add(props, "db_version", data["version"])
	m.add(props, "db_category", enrichment["db_category"])

	if databases, ok := data["databases"].([]any); ok {
		names := make([]any, 0, len(databases))
		for _, raw := range databases {
			if db, ok := raw.(map[string]any); ok {
				if name := asString(db["name"]); name != "" {
					names = append(names, name)
				}
			}
		}
		m.add(props, "database_names", names)
	}
}

func (m *Mapper) addApplication(props, data map[string]any) {
	m.add(props, "repository_url", data["repository_url"])
	m.add(props, "branch", data["branch"])
	m.add(props, "application_type", data["application_type"])
	m.add(props, "architecture_pattern", data["architecture_pattern"])

	if languages, ok := data["languages"].(map[string]any); ok && len(languages) > 0 {
		var primary string
		var best float64 = -1
		names := make([]any, 0, len(languages))
		for name, raw := range languages {
			names = append(names, name)
			if stats, ok := raw.(map[string]any); ok {
				if pct := asFloat(stats["percentage"]); pct > best {
					best, primary = pct, name
				}
			}
		}
		m.add(props, "primary_language", primary)
		m.add(props, "languages", names)
	}

	if frameworks, ok := data["frameworks"].([]any); ok {
		names := make([]any, 0, len(frameworks))
		for _, raw := range frameworks {
			switch fw := raw.(type) {
			case map[string]any:
				if name := asString(fw["name"]); name != "" {
					names = append(names, name)
				}
			case string:
				names = append(names, fw)
			}
		}
		m.add(props, "frameworks", names)
	}
}

func mapRelationship(rel map[string]any) map[string]any {
	relType := asString(rel["type"])
	if relType == "" {
		relType = "RELATES_TO"
	}
	confidence := rel["confidence"]
	if confidence == nil {
		confidence = 0.5
	}
	return map[string]any{
		"type":       relationshipType(relType),
		"start_node": rel["source_id"],
		"end_node":   rel["target_id"],
		"properties": map[string]any{
			"confidence": confidence,
			"evidence":   rel["evidence"],
		},
	}
}

// relationshipType follows the graph convention: UPPER_CASE with
// underscores.
func relationshipType(relType string) string {
	return strings.ReplaceAll(strings.ToUpper(relType), "-", "_")
}

func (m *Mapper) add(props map[string]any, key string, value any) {
	if m.SkipEmpty {
		switch v := value.(type) {
		case nil:
			return
		case string:
			if v == "" {
				return
			}
		case []any:
			if len(v) == 0 {
				return
			}
		}
	}
	props[key] = value
}

func entityID(data map[string]any) string {
	for _, field := range entityIDFields {
		if v, ok := data[field]; ok {
			return asString(v)
		}
	}
	return ""
}

func getMap(data map[string]any, key string) map[string]any {
	if m, ok := data[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

package graph

import "sort"

// Confidence tiers assigned to claims. The workbench treats these as
// fixed levels, not a continuous scale.
const (
	TierVerified   = 1.0
	TierHigh       = 0.9
	TierMediumHigh = 0.75
	TierMedium     = 0.5
	TierLow        = 0.25
	TierInferred   = 0.1
)

// Claim types.
const (
	ClaimIdentity       = "identity"
	ClaimProperty       = "property"
	ClaimRelationship   = "relationship"
	ClaimClassification = "classification"
	ClaimMetric         = "metric"
	ClaimStatus         = "status"
)

const maxClaimsPerEntity = 50

// ClaimBuilder turns event payloads into ranked assertions the workbench
// uses to decide entity properties. Output is capped and sorted so the
// strongest claims survive truncation.
type ClaimBuilder struct {
	maxClaims int
}

func NewClaimBuilder() *ClaimBuilder {
	return &ClaimBuilder{maxClaims: maxClaimsPerEntity}
}

// Build produces claims sorted by confidence, highest first, at most
// maxClaims of them. Every claim carries the entity_id it asserts about.
func (b *ClaimBuilder) Build(data map[string]any) []map[string]any {
	enrichment := getMap(data, "enrichment")
	scoring := getMap(data, "scoring")
	metadata := getMap(data, "metadata")

	var claims []map[string]any
	claims = append(claims, identityClaims(data)...)
	claims = append(claims, classificationClaims(enrichment, data)...)
	claims = append(claims, propertyClaims(data, metadata)...)
	claims = append(claims, metricClaims(scoring)...)
	if rels, ok := data["correlated_relationships"].([]any); ok {
		claims = append(claims, relationshipClaims(rels)...)
	}

	sort.SliceStable(claims, func(i, j int) bool {
		return asFloat(claims[i]["confidence"]) > asFloat(claims[j]["confidence"])
	})
	if len(claims) > b.maxClaims {
		claims = claims[:b.maxClaims]
	}

	id := entityID(data)
	for _, claim := range claims {
		claim["entity_id"] = id
	}
	return claims
}

func claim(claimType, attribute string, value any, confidence float64, source string) map[string]any {
	return map[string]any{
		"type":       claimType,
		"attribute":  attribute,
		"value":      value,
		"confidence": confidence,
		"source":     source,
	}
}

func identityClaims(data map[string]any) []map[string]any {
	var claims []map[string]any

	if hostname := asString(data["hostname"]); hostname != "" {
		claims = append(claims, claim(ClaimIdentity, "hostname", hostname, TierHigh, "network_scan"))
	}
	if url := asString(data["repository_url"]); url != "" {
		claims = append(claims, claim(ClaimIdentity, "repository_url", url, TierVerified, "code_analysis"))
	}
	if ips, ok := data["ip_addresses"].([]any); ok {
		for _, ip := range ips {
			claims = append(claims, claim(ClaimIdentity, "ip_address", ip, TierVerified, "network_scan"))
		}
	}
	return claims
}

func classificationClaims(enrichment, data map[string]any) []map[string]any {
	var claims []map[string]any

	if label := asString(enrichment["entity_label"]); label != "" {
		claims = append(claims, claim(ClaimClassification, "entity_type", label, TierHigh, "enrichment"))
	}
	if category := asString(enrichment["entity_category"]); category != "" {
		claims = append(claims, claim(ClaimClassification, "entity_category", category, TierHigh, "enrichment"))
	}
	if env := asString(enrichment["environment"]); env != "" {
		confidence := TierMediumHigh
		if env == "unknown" {
			confidence = TierLow
		}
		claims = append(claims, claim(ClaimClassification, "environment", env, confidence, "pattern_matching"))
	}
	if appType := asString(data["application_type"]); appType != "" {
		claims = append(claims, claim(ClaimClassification, "application_type", appType, TierMediumHigh, "code_analysis"))
	}
	if pattern := asString(data["architecture_pattern"]); pattern != "" {
		claims = append(claims, claim(ClaimClassification, "architecture_pattern", pattern, TierMedium, "structure_analysis"))
	}
	return claims
}

func propertyClaims(data, metadata map[string]any) []map[string]any {
	var claims []map[string]any

	if dbType := asString(data["db_type"]); dbType != "" {
		claims = append(claims, claim(ClaimProperty, "database_type", dbType, TierHigh, "db_inspector"))
	}
	if version := asString(data["version"]); version != "" {
		claims = append(claims, claim(ClaimProperty, "version", version, TierHigh, "banner_detection"))
	}
	if provider := asString(metadata["cloud_provider"]); provider != "" {
		confidence := TierMediumHigh
		if provider == "none" || provider == "unknown" {
			confidence = TierLow
		}
		claims = append(claims, claim(ClaimProperty, "cloud_provider", provider, confidence, "ip_range_detection"))
	}
	if model := asString(metadata["hosting_model"]); model != "" {
		claims = append(claims, claim(ClaimProperty, "hosting_model", model, TierMedium, "ip_range_detection"))
	}

	if frameworks, ok := data["frameworks"].([]any); ok {
		if len(frameworks) > 5 {
			frameworks = frameworks[:5]
		}
		for _, raw := range frameworks {
			switch fw := raw.(type) {
			case map[string]any:
				if name := asString(fw["name"]); name != "" {
					confidence := TierMedium
					if c, ok := fw["confidence"]; ok {
						confidence = asFloat(c)
					}
					claims = append(claims, claim(ClaimProperty, "uses_framework", name, confidence, "dependency_analysis"))
				}
			case string:
				claims = append(claims, claim(ClaimProperty, "uses_framework", fw, TierMedium, "dependency_analysis"))
			}
		}
	}
	return claims
}

func metricClaims(scoring map[string]any) []map[string]any {
	var claims []map[string]any

	metrics := []struct{ scoreKey, attribute string }{
		{"complexity_score", "complexity"},
		{"risk_score", "risk"},
		{"effort_score", "migration_effort"},
		{"overall_score", "overall"},
	}
	for _, m := range metrics {
		if value, ok := scoring[m.scoreKey]; ok && value != nil {
			claims = append(claims, claim(ClaimMetric, m.attribute, value, TierHigh, "scoring_algorithm"))
		}
	}

	if factors, ok := scoring["factors"].([]any); ok {
		if len(factors) > 5 {
			factors = factors[:5]
		}
		for _, factor := range factors {
			claims = append(claims, claim(ClaimStatus, "scoring_factor", factor, TierMedium, "scoring_algorithm"))
		}
	}
	return claims
}

func relationshipClaims(rels []any) []map[string]any {
	if len(rels) > 10 {
		rels = rels[:10]
	}
	var claims []map[string]any
	for _, raw := range rels {
		rel, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		attribute := asString(rel["type"])
		if attribute == "" {
			attribute = "relates_to"
		}
		confidence := TierMedium
		if c, ok := rel["confidence"]; ok {
			confidence = asFloat(c)
		}
		c := claim(ClaimRelationship, attribute, map[string]any{
			"target_id":   rel["target_id"],
			"target_type": rel["target_type"],
		}, confidence, "correlation")
		c["evidence"] = rel["evidence"]
		claims = append(claims, c)
	}
	return claims
}

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// Confidence levels for database candidate flagging.
const (
	ConfidencePortOnly      = 0.5
	ConfidencePortAndBanner = 0.85
)

// databasePorts maps well-known ports to database types. Collectors use
// the same table when flagging candidates at scan time.
var databasePorts = map[int]string{
	3306:  "mysql",
	5432:  "postgresql",
	27017: "mongodb",
	6379:  "redis",
	1433:  "mssql",
	1521:  "oracle",
	5984:  "couchdb",
	9042:  "cassandra",
	9200:  "elasticsearch",
}

// bannerPatterns holds case-insensitive regexes matching typical banner
// responses per database type.
var bannerPatterns = map[string][]*regexp.Regexp{
	"mysql": compilePatterns(
		`mysql`,
		`mariadb`,
		`5\.\d+\.\d+.*mysql`,
		`10\.\d+\.\d+.*mariadb`,
	),
	"postgresql": compilePatterns(
		`postgresql`,
		`postgres`,
		`pg_`,
		`psql`,
	),
	"mongodb": compilePatterns(
		`mongodb`,
		`mongo`,
		`ismaster`,
	),
	"redis": compilePatterns(
		`redis`,
		`-err.*redis`,
		`\+pong`,
	),
	"mssql": compilePatterns(
		`microsoft sql server`,
		`mssql`,
		`sqlserver`,
		`tds`,
	),
	"oracle": compilePatterns(
		`oracle`,
		`tns`,
		`ora-\d+`,
	),
	"couchdb": compilePatterns(
		`couchdb`,
		`couch`,
	),
	"cassandra": compilePatterns(
		`cassandra`,
		`datastax`,
	),
	"elasticsearch": compilePatterns(
		`elasticsearch`,
		`elastic`,
		`"cluster_name"`,
	),
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// CandidateStage validates collector-flagged database candidates and
// flags services the collectors missed. Port-only matches get 0.5
// confidence; a confirming banner raises it to 0.85.
type CandidateStage struct{}

func (s *CandidateStage) Name() string { return "candidate_identification" }

func (s *CandidateStage) Process(data map[string]any) error {
	metadata := getMap(data, "metadata")
	if flagged, _ := metadata["database_candidate"].(bool); flagged {
		s.validate(data, metadata)
		return nil
	}
	s.identify(data, metadata)
	return nil
}

// validate re-checks a collector-flagged candidate against the banner
// and raises confidence on a match.
func (s *CandidateStage) validate(data, metadata map[string]any) {
	port, _ := asInt(data["port"])
	banner := asString(data["banner"])
	candidateType := asString(metadata["candidate_type"])

	confidence, ok := asFloat(metadata["candidate_confidence"])
	if !ok {
		confidence = ConfidencePortOnly
	}
	if confidence >= ConfidencePortAndBanner {
		return
	}
	if banner == "" || candidateType == "" {
		return
	}

	if bannerMatches(candidateType, banner) {
		metadata["candidate_confidence"] = ConfidencePortAndBanner
		metadata["candidate_reason"] = fmt.Sprintf("Port %d + banner match for %s", port, candidateType)
		metadata["validation_method"] = "port_and_banner"
		return
	}
	metadata["banner_mismatch"] = true
	metadata["validation_method"] = "port_only"
}

// identify flags services on well-known database ports that the
// collector did not mark.
func (s *CandidateStage) identify(data, metadata map[string]any) {
	port, ok := asInt(data["port"])
	if !ok {
		return
	}
	dbType, ok := databasePorts[port]
	if !ok {
		return
	}
	banner := asString(data["banner"])

	metadata["database_candidate"] = true
	metadata["candidate_type"] = dbType
	metadata["identified_by"] = "processor"
	if banner != "" && bannerMatches(dbType, banner) {
		metadata["candidate_confidence"] = ConfidencePortAndBanner
		metadata["candidate_reason"] = fmt.Sprintf("Port %d + banner match for %s", port, dbType)
		metadata["validation_method"] = "port_and_banner"
	} else {
		metadata["candidate_confidence"] = ConfidencePortOnly
		metadata["candidate_reason"] = fmt.Sprintf("Port %d matches %s default port", port, dbType)
		metadata["validation_method"] = "port_only"
	}
	data["metadata"] = metadata
}

func bannerMatches(dbType, banner string) bool {
	if banner == "" {
		return false
	}
	for _, pattern := range bannerPatterns[strings.ToLower(dbType)] {
		if pattern.MatchString(banner) {
			return true
		}
	}
	return false
}

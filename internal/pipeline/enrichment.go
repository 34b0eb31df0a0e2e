package pipeline

import "strings"

// portTechnology maps common ports to a technology descriptor and
// category used by enrichment and scoring.
var portTechnology = map[int]struct {
	Technology string
	Category   string
}{
	22:    {"SSH", "infrastructure"},
	80:    {"HTTP", "web"},
	443:   {"HTTPS", "web"},
	3306:  {"MySQL", "database"},
	5432:  {"PostgreSQL", "database"},
	6379:  {"Redis", "cache"},
	27017: {"MongoDB", "database"},
	8080:  {"HTTP Alt", "web"},
	8443:  {"HTTPS Alt", "web"},
	9200:  {"Elasticsearch", "search"},
	9092:  {"Kafka", "messaging"},
	5672:  {"RabbitMQ", "messaging"},
	15672: {"RabbitMQ Management", "management"},
}

// environmentTokens drives environment detection by substring match on
// hostnames and connection strings.
var environmentTokens = []struct {
	Environment string
	Tokens      []string
}{
	{"production", []string{"prod", "prd", "live", "main"}},
	{"staging", []string{"stage", "staging", "stg", "uat"}},
	{"development", []string{"dev", "develop", "local", "test"}},
}

var languageCategories = map[string]string{
	"java":       "backend",
	"python":     "backend",
	"go":         "backend",
	"rust":       "backend",
	"javascript": "frontend",
	"typescript": "frontend",
	"react":      "frontend",
	"vue":        "frontend",
	"angular":    "frontend",
	"swift":      "mobile",
	"kotlin":     "mobile",
	"c#":         "backend",
	"ruby":       "backend",
}

var frameworkIndicators = []struct {
	Indicator string
	Framework string
}{
	{"spring", "Spring Framework"},
	{"django", "Django"},
	{"flask", "Flask"},
	{"fastapi", "FastAPI"},
	{"express", "Express.js"},
	{"react", "React"},
	{"angular", "Angular"},
	{"vue", "Vue.js"},
	{"rails", "Ruby on Rails"},
	{"laravel", "Laravel"},
	{".net", ".NET"},
}

// EnrichmentStage attaches contextual classification to discovered
// items: entity label, environment, technology, database category,
// frameworks, OS family, and extracted connection hints.
type EnrichmentStage struct{}

func (s *EnrichmentStage) Name() string { return "enrichment" }

func (s *EnrichmentStage) Process(data map[string]any) error {
	entityType := detectEntityType(data)

	enrichment := getMap(data, "enrichment")
	enrichment["version"] = "1.0.0"
	enrichment["applied"] = true
	enrichment["entity_label"] = entityLabel(entityType)
	enrichment["entity_category"] = entityType

	switch entityType {
	case "server":
		s.enrichServer(data, enrichment)
	case "service":
		s.enrichService(data, enrichment)
	case "database":
		s.enrichDatabase(data, enrichment)
	case "repository":
		s.enrichRepository(data, enrichment)
	case "infrastructure":
		s.enrichServer(data, enrichment)
	}
	return nil
}

// detectEntityType infers the entity from the data shape. Events carry
// no explicit discriminator field; the shape is the contract.
func detectEntityType(data map[string]any) string {
	_, hasHostname := data["hostname"]
	_, hasIPAddr := data["ip_address"]
	_, hasIP := data["ip"]
	if hasHostname || hasIPAddr || hasIP {
		if _, ok := data["port"]; ok {
			return "service"
		}
		if _, ok := data["ports"]; ok {
			return "service"
		}
		if _, ok := data["probe_id"]; ok {
			return "infrastructure"
		}
		return "server"
	}
	if _, ok := data["connection_string"]; ok {
		return "database"
	}
	if _, ok := data["database_type"]; ok {
		return "database"
	}
	if _, ok := data["db_type"]; ok {
		return "database"
	}
	if _, ok := data["repository_url"]; ok {
		return "repository"
	}
	if _, ok := data["language"]; ok {
		return "repository"
	}
	if _, ok := data["target_ip"]; ok {
		return "infrastructure"
	}
	return "unknown"
}

func entityLabel(entityType string) string {
	switch entityType {
	case "server":
		return "Server"
	case "service":
		return "Service"
	case "database":
		return "Database"
	case "repository":
		return "Application"
	case "infrastructure":
		return "Infrastructure"
	default:
		return "Unknown"
	}
}

func (s *EnrichmentStage) enrichServer(data, enrichment map[string]any) {
	enrichment["environment"] = detectEnvironment(asString(data["hostname"]))
	if osInfo, ok := data["os"].(map[string]any); ok {
		enrichment["os_family"] = classifyOS(asString(osInfo["name"]))
	}
}

func (s *EnrichmentStage) enrichService(data, enrichment map[string]any) {
	if port, ok := asInt(data["port"]); ok {
		if tech, ok := portTechnology[port]; ok {
			enrichment["technology"] = tech.Technology
			enrichment["category"] = tech.Category
		}
	}
	enrichment["environment"] = detectEnvironment(asString(data["hostname"]))
}

func (s *EnrichmentStage) enrichDatabase(data, enrichment map[string]any) {
	dbType := strings.ToLower(asString(data["database_type"]))
	if dbType == "" {
		dbType = strings.ToLower(asString(data["db_type"]))
	}
	enrichment["db_category"] = classifyDatabase(dbType)
	enrichment["environment"] = detectEnvironment(asString(data["connection_string"]))
}

func (s *EnrichmentStage) enrichRepository(data, enrichment map[string]any) {
	language := strings.ToLower(asString(data["language"]))
	if category, ok := languageCategories[language]; ok {
		enrichment["language_category"] = category
	} else {
		enrichment["language_category"] = "other"
	}
	enrichment["frameworks"] = detectFrameworks(asStrings(data["dependencies"]))
	enrichment["environment"] = detectEnvironment(asString(data["repository_url"]))

	if connections := extractConnections(data); len(connections) > 0 {
		data["extracted_connections"] = connections
	}
}

func detectEnvironment(text string) string {
	lower := strings.ToLower(text)
	for _, env := range environmentTokens {
		for _, token := range env.Tokens {
			if strings.Contains(lower, token) {
				return env.Environment
			}
		}
	}
	return "unknown"
}

func classifyOS(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "windows"):
		return "windows"
	case strings.Contains(lower, "linux"),
		strings.Contains(lower, "ubuntu"),
		strings.Contains(lower, "centos"),
		strings.Contains(lower, "rhel"):
		return "linux"
	case strings.Contains(lower, "darwin"), strings.Contains(lower, "macos"):
		return "macos"
	default:
		return "unknown"
	}
}

func classifyDatabase(dbType string) string {
	switch dbType {
	case "mysql", "mariadb", "postgresql", "postgres", "oracle", "mssql":
		return "relational"
	case "mongodb", "couchdb", "dynamodb":
		return "document"
	case "redis", "memcached":
		return "key-value"
	case "elasticsearch", "solr":
		return "search"
	default:
		return "unknown"
	}
}

func detectFrameworks(dependencies []string) []any {
	detected := []any{}
	for _, fi := range frameworkIndicators {
		for _, dep := range dependencies {
			if strings.Contains(strings.ToLower(dep), fi.Indicator) {
				detected = append(detected, fi.Framework)
				break
			}
		}
	}
	return detected
}

package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// technologyComplexity weights technologies on a 1-10 scale.
var technologyComplexity = map[string]int{
	// Databases
	"postgresql":    5,
	"mysql":         5,
	"mariadb":       5,
	"mongodb":       6,
	"redis":         3,
	"elasticsearch": 7,
	"oracle":        9,
	"mssql":         8,
	"db2":           9,
	// Web frameworks
	"spring framework": 7,
	"django":           5,
	"flask":            3,
	"fastapi":          4,
	"express.js":       4,
	"react":            5,
	"angular":          6,
	"vue.js":           4,
	".net":             7,
	"ruby on rails":    6,
	"laravel":          5,
	// Infrastructure
	"ssh":      2,
	"http":     2,
	"https":    2,
	"rabbitmq": 5,
	"kafka":    8,
}

var environmentRisk = map[string]int{
	"production":  3,
	"staging":     2,
	"development": 1,
	"unknown":     2,
}

var dbCategoryComplexity = map[string]int{
	"relational": 5,
	"document":   6,
	"key-value":  3,
	"search":     7,
	"unknown":    5,
}

var legacyTechnologies = map[string]bool{
	"oracle": true,
	"db2":    true,
	"mssql":  true,
	".net":   true,
}

// ScoringStage computes complexity, risk, effort and overall scores on a
// 1-10 scale from fixed weight tables.
type ScoringStage struct{}

func (s *ScoringStage) Name() string { return "scoring" }

func (s *ScoringStage) Process(data map[string]any) error {
	complexity := s.complexity(data)
	risk := s.risk(data)
	effort := s.effort(data, complexity)

	data["scoring"] = map[string]any{
		"version":          "1.0.0",
		"complexity_score": complexity,
		"risk_score":       risk,
		"effort_score":     effort,
		"overall_score":    s.overall(complexity, risk, effort),
		"factors":          s.factors(data),
	}
	return nil
}

func (s *ScoringStage) complexity(data map[string]any) int {
	enrichment := getMap(data, "enrichment")
	var scores []int

	if technology := strings.ToLower(asString(enrichment["technology"])); technology != "" {
		if w, ok := technologyComplexity[technology]; ok {
			scores = append(scores, w)
		}
	}
	for _, framework := range asStrings(enrichment["frameworks"]) {
		if w, ok := technologyComplexity[strings.ToLower(framework)]; ok {
			scores = append(scores, w)
		}
	}
	if category := asString(enrichment["db_category"]); category != "" {
		if w, ok := dbCategoryComplexity[category]; ok {
			scores = append(scores, w)
		}
	}
	if deps := asStrings(data["dependencies"]); len(deps) > 0 {
		switch n := len(deps); {
		case n > 50:
			scores = append(scores, 8)
		case n > 20:
			scores = append(scores, 6)
		case n > 10:
			scores = append(scores, 4)
		default:
			scores = append(scores, 2)
		}
	}
	return clampAverage(scores)
}

func (s *ScoringStage) risk(data map[string]any) int {
	enrichment := getMap(data, "enrichment")
	var factors []int

	environment := asString(enrichment["environment"])
	envRisk, ok := environmentRisk[environment]
	if !ok {
		envRisk = 2
	}
	factors = append(factors, envRisk*2) // scale to 1-6

	switch asString(enrichment["category"]) {
	case "database":
		factors = append(factors, 7)
	case "messaging":
		factors = append(factors, 6)
	case "infrastructure":
		factors = append(factors, 5)
	case "web":
		factors = append(factors, 3)
	}

	if redaction, ok := data["redaction"].(map[string]any); ok {
		if applied, _ := redaction["applied"].(bool); applied {
			factors = append(factors, 6)
		}
	}
	return clampAverage(factors)
}

func (s *ScoringStage) effort(data map[string]any, complexity int) int {
	enrichment := getMap(data, "enrichment")
	factors := []int{complexity}

	if asString(enrichment["db_category"]) != "" {
		factors = append(factors, 7)
	}
	if legacyTechnologies[strings.ToLower(asString(enrichment["technology"]))] {
		factors = append(factors, 8)
	}
	if len(asStrings(enrichment["frameworks"])) > 2 {
		factors = append(factors, 6)
	}
	if len(asStrings(data["dependencies"])) > 30 {
		factors = append(factors, 7)
	}
	return clampAverage(factors)
}

func (s *ScoringStage) overall(complexity, risk, effort int) int {
	weighted := float64(complexity)*0.2 + float64(risk)*0.5 + float64(effort)*0.3
	return clampScore(int(math.Round(weighted)))
}

func (s *ScoringStage) factors(data map[string]any) []any {
	enrichment := getMap(data, "enrichment")
	factors := []any{}

	if asString(enrichment["environment"]) == "production" {
		factors = append(factors, "Production environment")
	}
	if category := asString(enrichment["db_category"]); category != "" {
		factors = append(factors, fmt.Sprintf("Database: %s", category))
	}
	if technology := asString(enrichment["technology"]); technology != "" {
		factors = append(factors, fmt.Sprintf("Technology: %s", technology))
	}
	if frameworks := asStrings(enrichment["frameworks"]); len(frameworks) > 0 {
		preview := frameworks
		if len(preview) > 3 {
			preview = preview[:3]
		}
		factors = append(factors, fmt.Sprintf("Frameworks: %s", strings.Join(preview, ", ")))
	}
	if deps := asStrings(data["dependencies"]); len(deps) > 20 {
		factors = append(factors, fmt.Sprintf("High dependency count: %d", len(deps)))
	}
	if redaction, ok := data["redaction"].(map[string]any); ok {
		if applied, _ := redaction["applied"].(bool); applied {
			factors = append(factors, "Contains PII")
		}
	}
	return factors
}

func clampAverage(scores []int) int {
	if len(scores) == 0 {
		return 5
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	avg := float64(sum) / float64(len(scores))
	return clampScore(int(math.Round(avg)))
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

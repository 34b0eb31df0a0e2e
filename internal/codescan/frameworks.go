package codescan

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Framework is one detected framework with a confidence score.
type Framework struct {
	Name       string  `json:"name"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

type frameworkRule struct {
	language    string
	files       []string
	patterns    []*regexp.Regexp
	reqPatterns []*regexp.Regexp
}

func res(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

var frameworkRules = map[string]frameworkRule{
	"React": {
		language: "JavaScript",
		files:    []string{"package.json"},
		patterns: res(`"react"\s*:`, `"react-dom"\s*:`),
	},
	"Next.js": {
		language: "JavaScript",
		files:    []string{"next.config.js", "next.config.ts", "next.config.mjs"},
		patterns: res(`"next"\s*:`),
	},
	"Vue.js": {
		language: "JavaScript",
		files:    []string{"vue.config.js"},
		patterns: res(`"vue"\s*:`),
	},
	"Angular": {
		language: "TypeScript",
		files:    []string{"angular.json"},
		patterns: res(`"@angular/core"\s*:`),
	},
	"Express.js": {
		language: "JavaScript",
		patterns: res(`"express"\s*:`),
	},
	"NestJS": {
		language: "TypeScript",
		files:    []string{"nest-cli.json"},
		patterns: res(`"@nestjs/core"\s*:`),
	},
	"Django": {
		language:    "Python",
		files:       []string{"manage.py"},
		patterns:    res(`django`),
		reqPatterns: res(`django[=<>~]?`),
	},
	"FastAPI": {
		language:    "Python",
		patterns:    res(`fastapi`),
		reqPatterns: res(`fastapi[=<>~]?`),
	},
	"Flask": {
		language:    "Python",
		patterns:    res(`flask`),
		reqPatterns: res(`flask[=<>~]?`),
	},
	"Celery": {
		language:    "Python",
		patterns:    res(`celery`),
		reqPatterns: res(`celery[=<>~]?`),
	},
	"SQLAlchemy": {
		language:    "Python",
		patterns:    res(`sqlalchemy`),
		reqPatterns: res(`sqlalchemy[=<>~]?`),
	},
	"Spring Boot": {
		language: "Java",
		patterns: res(`spring-boot`),
	},
	"Hibernate": {
		language: "Java",
		patterns: res(`hibernate`),
	},
	"Gin": {
		language: "Go",
		patterns: res(`github\.com/gin-gonic/gin`),
	},
	"Echo": {
		language: "Go",
		patterns: res(`github\.com/labstack/echo`),
	},
	"Chi": {
		language: "Go",
		patterns: res(`github\.com/go-chi/chi`),
	},
	"GORM": {
		language: "Go",
		patterns: res(`gorm\.io/gorm`),
	},
	"Ruby on Rails": {
		language: "Ruby",
		files:    []string{"config/routes.rb"},
		patterns: res(`gem ['"]rails['"]`),
	},
	"Laravel": {
		language: "PHP",
		files:    []string{"artisan"},
		patterns: res(`laravel/framework`),
	},
	"Symfony": {
		language: "PHP",
		patterns: res(`symfony/`),
	},
	"Docker": {
		language: "Infrastructure",
		files:    []string{"Dockerfile", "docker-compose.yml", "docker-compose.yaml"},
	},
	"Kubernetes": {
		language: "Infrastructure",
		files:    []string{"k8s/", "kubernetes/"},
	},
	"Terraform": {
		language: "Infrastructure",
		files:    []string{"main.tf", "variables.tf"},
	},
	"Helm": {
		language: "Infrastructure",
		files:    []string{"Chart.yaml"},
	},
}

// manifestFiles are the files scanned for framework patterns.
var manifestFiles = []string{
	"package.json", "go.mod", "go.sum", "requirements.txt",
	"pyproject.toml", "Pipfile", "pom.xml", "build.gradle",
	"Cargo.toml", "Gemfile", "composer.json",
}

var pythonRequirementFiles = []string{
	"requirements.txt", "requirements-dev.txt", "pyproject.toml", "Pipfile",
}

// DetectFrameworks scores each known framework against the repository's
// indicator files and manifests. Results are sorted by confidence
// descending, ties broken by name for determinism.
func DetectFrameworks(root string) []Framework {
	manifests := loadContents(root, manifestFiles)
	requirements := loadContents(root, pythonRequirementFiles)

	var detected []Framework
	for name, rule := range frameworkRules {
		confidence := scoreFramework(root, rule, manifests, requirements)
		if confidence > 0 {
			detected = append(detected, Framework{
				Name:       name,
				Language:   rule.language,
				Confidence: confidence,
			})
		}
	}
	sort.Slice(detected, func(i, j int) bool {
		if detected[i].Confidence != detected[j].Confidence {
			return detected[i].Confidence > detected[j].Confidence
		}
		return detected[i].Name < detected[j].Name
	})
	return detected
}

func scoreFramework(root string, rule frameworkRule, manifests, requirements []string) float64 {
	confidence := 0.0
	for _, indicator := range rule.files {
		if pathExists(root, indicator) {
			confidence += 0.5
			break
		}
	}
	if matchAny(rule.patterns, manifests) {
		confidence += 0.5
	}
	if matchAny(rule.reqPatterns, requirements) {
		confidence += 0.3
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func pathExists(root, indicator string) bool {
	if strings.HasSuffix(indicator, "/") {
		info, err := os.Stat(filepath.Join(root, strings.TrimSuffix(indicator, "/")))
		return err == nil && info.IsDir()
	}
	return fileExists(filepath.Join(root, indicator))
}

func loadContents(root string, names []string) []string {
	var contents []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		contents = append(contents, string(data))
	}
	return contents
}

func matchAny(patterns []*regexp.Regexp, contents []string) bool {
	for _, pattern := range patterns {
		for _, content := range contents {
			if pattern.MatchString(content) {
				return true
			}
		}
	}
	return false
}

// FrameworkNames lists just the names, highest confidence first.
func FrameworkNames(frameworks []Framework) []string {
	names := make([]string, len(frameworks))
	for i, f := range frameworks {
		names[i] = f.Name
	}
	return names
}

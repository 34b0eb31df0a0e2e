package codescan

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Classification is the best-scoring label with its confidence.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type classifierRule struct {
	files         []string
	frameworks    []string
	deps          []string
	negativeFiles []string
	negativeDeps  []string
	weight        float64
}

var applicationTypes = map[string]classifierRule{
	"web_application": {
		files:      []string{"index.html", "public/index.html", "src/index.html", "templates/"},
		frameworks: []string{"React", "Vue.js", "Angular", "Next.js"},
		deps:       []string{"react-dom", "vue", "@angular/core", "svelte"},
		weight:     1.0,
	},
	"api_service": {
		files:      []string{"routes/", "api/", "endpoints/", "controllers/"},
		frameworks: []string{"Express.js", "FastAPI", "Flask", "Django", "Gin", "Echo", "Spring Boot", "NestJS"},
		deps:       []string{"express", "fastapi", "flask", "gin-gonic", "spring-boot-starter-web"},
		weight:     1.0,
	},
	"batch_job": {
		files:      []string{"jobs/", "tasks/", "cron/", "scheduler/", "batch/"},
		frameworks: []string{"Celery"},
		deps:       []string{"celery", "apscheduler", "schedule", "quartz", "airflow"},
		weight:     1.2,
	},
	"cli_tool": {
		files:  []string{"cli/", "cmd/", "bin/"},
		deps:   []string{"click", "typer", "commander", "yargs", "cobra", "github.com/spf13/cobra"},
		weight: 1.0,
	},
	"library": {
		files:         []string{"setup.py", "setup.cfg", "lib/"},
		negativeFiles: []string{"Dockerfile", "docker-compose.yml"},
		negativeDeps:  []string{"express", "flask", "fastapi", "django"},
		weight:        0.8,
	},
	"mobile_app": {
		files:  []string{"android/", "ios/", "app.json", "AndroidManifest.xml"},
		deps:   []string{"react-native", "flutter", "@ionic/core", "@capacitor/core", "expo"},
		weight: 1.2,
	},
	"desktop_app": {
		files:  []string{"electron/", "tauri.conf.json"},
		deps:   []string{"electron", "tauri", "pyqt5", "pyside6"},
		weight: 1.0,
	},
}

// ClassifyApplication labels the repository with one of the application
// types, or "unknown" when no indicator scores at least 0.2.
func ClassifyApplication(root string, frameworks []Framework, deps []Dependency) Classification {
	frameworkNames := map[string]bool{}
	for _, f := range frameworks {
		frameworkNames[f.Name] = true
	}
	depNames := map[string]bool{}
	for _, d := range deps {
		depNames[strings.ToLower(d.Name)] = true
	}

	best := Classification{Label: "unknown"}
	for label, rule := range applicationTypes {
		score := 0.0
		for _, file := range rule.files {
			if pathExists(root, file) {
				score += 0.3
			}
		}
		for _, name := range rule.frameworks {
			if frameworkNames[name] {
				score += 0.4
			}
		}
		for _, dep := range rule.deps {
			if depNames[dep] {
				score += 0.2
			}
		}
		for _, file := range rule.negativeFiles {
			if pathExists(root, file) {
				score -= 0.2
			}
		}
		for _, dep := range rule.negativeDeps {
			if depNames[dep] {
				score -= 0.3
			}
		}
		score = math.Max(0, score*rule.weight)
		if score > best.Confidence || (score == best.Confidence && label < best.Label) {
			best = Classification{Label: label, Confidence: score}
		}
	}

	if best.Confidence < 0.2 {
		return Classification{Label: "unknown"}
	}
	best.Confidence = math.Round(math.Min(best.Confidence, 1.0)*100) / 100
	return best
}

var composeServicePattern = regexp.MustCompile(`\n  [a-zA-Z][a-zA-Z0-9_-]*:`)

var eventDrivenDeps = []string{
	"amqplib", "pika", "aio-pika", "kafka-python", "confluent-kafka",
	"celery", "nats", "github.com/rabbitmq/amqp091-go", "github.com/nats-io/nats.go",
}

var layeredDirs = []string{
	"views", "templates", "pages", "components",
	"services", "usecases", "handlers",
	"domain", "models", "entities", "core",
	"infrastructure", "repositories", "adapters",
}

// DetectArchitecture labels the repository's architecture pattern, or
// "unknown" when no signal scores at least 0.3.
func DetectArchitecture(root string, deps []Dependency) Classification {
	depNames := map[string]bool{}
	for _, d := range deps {
		depNames[strings.ToLower(d.Name)] = true
	}

	scores := map[string]float64{}

	for _, file := range []string{"docker-compose.yml", "docker-compose.yaml", "k8s/", "kubernetes/", "helm/"} {
		if pathExists(root, file) {
			scores["microservice"] += 0.3
		}
	}
	if isMultiServiceCompose(root) {
		scores["microservice"] += 0.4
	}

	for _, file := range []string{"serverless.yml", "serverless.yaml", "template.yaml", "vercel.json", "functions/", "lambda/"} {
		if pathExists(root, file) {
			scores["serverless"] += 0.3
		}
	}
	scores["serverless"] *= 1.2

	for _, dep := range eventDrivenDeps {
		if depNames[dep] {
			scores["event_driven"] += 0.2
		}
	}

	layers := 0
	for _, dir := range layeredDirs {
		if pathExists(root, dir+"/") || pathExists(root, "src/"+dir+"/") {
			layers++
		}
	}
	if layers >= 3 {
		scores["layered"] = 0.4 * 0.8
	}

	if isModularMonorepo(root) {
		scores["modular_monolith"] = 0.4 * 0.9
	}

	best := Classification{Label: "unknown"}
	for label, score := range scores {
		if score > best.Confidence || (score == best.Confidence && label < best.Label) {
			best = Classification{Label: label, Confidence: score}
		}
	}
	if best.Confidence < 0.3 {
		return Classification{Label: "unknown"}
	}
	best.Confidence = math.Round(math.Min(best.Confidence, 1.0)*100) / 100
	return best
}

func isMultiServiceCompose(root string) bool {
	for _, name := range []string{"docker-compose.yml", "docker-compose.yaml"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		content := string(data)
		if !strings.Contains(content, "services:") {
			continue
		}
		if len(composeServicePattern.FindAllString(content, -1)) > 2 {
			return true
		}
	}
	return false
}

func isModularMonorepo(root string) bool {
	for _, dir := range []string{"modules", "packages", "apps"} {
		entries, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			continue
		}
		subdirs := 0
		for _, entry := range entries {
			if entry.IsDir() {
				subdirs++
			}
		}
		if subdirs >= 3 || (dir == "apps" && subdirs >= 2) {
			return true
		}
	}
	return fileExists(filepath.Join(root, "lerna.json")) || fileExists(filepath.Join(root, "nx.json"))
}

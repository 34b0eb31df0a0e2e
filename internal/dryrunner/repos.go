package dryrunner

import (
	"os"
	"path/filepath"
	"strings"
)

// RepoInfo describes one sample repository available for dry-run scans.
type RepoInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Language  string `json:"language"`
	Framework string `json:"framework"`
}

// SampleRepos lists the sample repositories with a quick language and
// framework guess from their manifest files.
func (o *Orchestrator) SampleRepos() ([]RepoInfo, error) {
	entries, err := os.ReadDir(o.cfg.ReposPath)
	if err != nil {
		return nil, err
	}

	repos := make([]RepoInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(o.cfg.ReposPath, entry.Name())
		language, framework := classifyRepo(dir)
		repos = append(repos, RepoInfo{
			Name:      entry.Name(),
			Path:      dir,
			Language:  language,
			Framework: framework,
		})
	}
	return repos, nil
}

func classifyRepo(dir string) (language, framework string) {
	language, framework = "unknown", "unknown"
	switch {
	case fileExists(filepath.Join(dir, "requirements.txt")):
		language = "python"
		switch {
		case fileExists(filepath.Join(dir, "manage.py")):
			framework = "django"
		case fileExists(filepath.Join(dir, "app.py")):
			framework = "flask"
		}
	case fileExists(filepath.Join(dir, "package.json")):
		language = "javascript"
		switch {
		case fileExists(filepath.Join(dir, "vite.config.ts")):
			framework = "react-vite"
		case fileExists(filepath.Join(dir, "next.config.js")):
			framework = "nextjs"
		default:
			framework = "express"
		}
	case fileExists(filepath.Join(dir, "pom.xml")):
		language, framework = "java", "spring-boot"
	case fileExists(filepath.Join(dir, "go.mod")):
		language, framework = "go", "gin"
	}
	return language, framework
}

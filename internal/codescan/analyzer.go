package codescan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/scan"
)

// Source is the CloudEvent source path for this collector.
const Source = "/collectors/code-analyzer"

// repoMarkers identify a directory as a code repository.
var repoMarkers = []string{
	".git", "package.json", "go.mod", "requirements.txt", "pyproject.toml",
	"pom.xml", "build.gradle", "Gemfile", "composer.json", "Cargo.toml",
}

// Config tunes repository analysis.
type Config struct {
	ScanPaths     []string
	ExcludedDirs  []string
	MaxFileSizeKB int64
	MaxRepos      int
	EOLDataPath   string
}

func DefaultConfig() Config {
	return Config{
		ExcludedDirs:  DefaultExcludedDirs,
		MaxFileSizeKB: 1024,
		MaxRepos:      100,
	}
}

// Analysis is everything learned about one repository.
type Analysis struct {
	Languages    []LanguageStats
	Frameworks   []Framework
	Dependencies []Dependency
	Metrics      Metrics
	Runtimes     []RuntimeStatus
	AppType      Classification
	Architecture Classification
}

// Analyzer adapts repository analysis to the shared scan engine:
// targets are repository directories, analysis produces one repository
// record, one codebase record, and one record per dependency.
type Analyzer struct {
	cfg Config
	eol *EOLChecker
	log zerolog.Logger
}

func NewAnalyzer(cfg Config, log zerolog.Logger) (*Analyzer, error) {
	if cfg.MaxRepos <= 0 {
		cfg.MaxRepos = 100
	}
	if len(cfg.ExcludedDirs) == 0 {
		cfg.ExcludedDirs = DefaultExcludedDirs
	}

	eol := NewEOLChecker()
	if cfg.EOLDataPath != "" {
		loaded, err := NewEOLCheckerFromFile(cfg.EOLDataPath)
		if err != nil {
			return nil, err
		}
		eol = loaded
	}
	return &Analyzer{cfg: cfg, eol: eol, log: log}, nil
}

func (a *Analyzer) Collector() string { return "code-analyzer" }

func (a *Analyzer) Source() string { return Source }

func (a *Analyzer) TargetNoun() string { return "repos" }

// Enumerate lists repository directories directly under the scan paths.
// A directory counts as a repository when it carries a marker file.
func (a *Analyzer) Enumerate(ctx context.Context, req scan.Request) ([]string, error) {
	paths := req.ScanPaths
	if len(paths) == 0 {
		paths = a.cfg.ScanPaths
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scan paths configured")
	}

	limit := a.cfg.MaxRepos
	if req.MaxTargets > 0 && req.MaxTargets < limit {
		limit = req.MaxTargets
	}

	var repos []string
	for _, base := range paths {
		entries, err := os.ReadDir(base)
		if err != nil {
			a.log.Warn().Err(err).Str("path", base).Msg("Scan path not readable")
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(base, entry.Name())
			if !IsRepository(dir) {
				continue
			}
			repos = append(repos, dir)
			if len(repos) >= limit {
				return repos, nil
			}
		}
	}
	return repos, nil
}

// IsRepository reports whether the directory carries any repo marker.
func IsRepository(dir string) bool {
	for _, marker := range repoMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Analyze runs the full analysis on one repository directory.
func (a *Analyzer) Analyze(ctx context.Context, repoPath string) ([]scan.Record, error) {
	analysis, err := a.AnalyzeRepo(repoPath)
	if err != nil {
		return nil, err
	}

	analysisID := uuid.NewString()
	repoURL := "file://" + repoPath
	repoName := filepath.Base(repoPath)

	records := make([]scan.Record, 0, len(analysis.Dependencies)+2)
	records = append(records, scan.Record{
		Entity: "repository",
		Data:   repositoryData(analysisID, repoURL, repoName, analysis),
	})
	records = append(records, scan.Record{
		Entity: "codebase",
		Data: map[string]any{
			"analysis_id": analysisID,
			"repo_url":    repoURL,
			"repo_name":   repoName,
			"metrics":     analysis.Metrics.Data(),
		},
	})
	for _, dep := range analysis.Dependencies {
		records = append(records, scan.Record{
			Entity: "dependency",
			Data: map[string]any{
				"analysis_id": analysisID,
				"repo_url":    repoURL,
				"dependency":  dependencyData(dep),
			},
		})
	}
	return records, nil
}

// AnalyzeRepo runs every detector against the repository directory.
func (a *Analyzer) AnalyzeRepo(repoPath string) (Analysis, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return Analysis{}, fmt.Errorf("repo path: %w", err)
	}
	if !info.IsDir() {
		return Analysis{}, fmt.Errorf("repo path %s is not a directory", repoPath)
	}

	languages, err := DetectLanguages(repoPath, a.cfg.ExcludedDirs)
	if err != nil {
		return Analysis{}, fmt.Errorf("detect languages: %w", err)
	}
	frameworks := DetectFrameworks(repoPath)
	deps := ExtractDependencies(repoPath)

	return Analysis{
		Languages:    languages,
		Frameworks:   frameworks,
		Dependencies: deps,
		Metrics:      CalculateMetrics(repoPath, a.cfg.ExcludedDirs, a.cfg.MaxFileSizeKB),
		Runtimes:     a.inferRuntimes(repoPath),
		AppType:      ClassifyApplication(repoPath, frameworks, deps),
		Architecture: DetectArchitecture(repoPath, deps),
	}, nil
}

func repositoryData(analysisID, repoURL, repoName string, analysis Analysis) map[string]any {
	data := map[string]any{
		"analysis_id": analysisID,
		"repo_url":    repoURL,
		"repo_name":   repoName,
		"branch":      "local",
		"languages":   languagesData(analysis.Languages),
		"frameworks":  frameworksData(analysis.Frameworks),
	}
	if primary := PrimaryLanguage(analysis.Languages); primary != "" {
		data["primary_language"] = primary
	}
	if len(analysis.Runtimes) > 0 {
		data["runtimes"] = runtimesData(analysis.Runtimes)
	}
	if analysis.AppType.Label != "unknown" {
		data["application_type"] = analysis.AppType.Label
		data["application_type_confidence"] = analysis.AppType.Confidence
	}
	if analysis.Architecture.Label != "unknown" {
		data["architecture_pattern"] = analysis.Architecture.Label
	}
	return data
}

func languagesData(languages []LanguageStats) []any {
	out := make([]any, len(languages))
	for i, lang := range languages {
		out[i] = map[string]any{
			"name":       lang.Name,
			"files":      lang.Files,
			"lines":      lang.Lines,
			"bytes":      lang.Bytes,
			"percentage": lang.Percentage,
		}
	}
	return out
}

func frameworksData(frameworks []Framework) []any {
	out := make([]any, len(frameworks))
	for i, f := range frameworks {
		out[i] = map[string]any{
			"name":       f.Name,
			"language":   f.Language,
			"confidence": f.Confidence,
		}
	}
	return out
}

func runtimesData(runtimes []RuntimeStatus) []any {
	out := make([]any, len(runtimes))
	for i, rt := range runtimes {
		entry := map[string]any{
			"product":        rt.Product,
			"version":        rt.Version,
			"support_status": rt.SupportStatus,
			"is_eol":         rt.IsEOL,
		}
		if rt.EOLDate != "" {
			entry["eol_date"] = rt.EOLDate
		}
		if rt.MatchedVersion != "" {
			entry["matched_version"] = rt.MatchedVersion
		}
		out[i] = entry
	}
	return out
}

func dependencyData(dep Dependency) map[string]any {
	return map[string]any{
		"name":            dep.Name,
		"version":         dep.Version,
		"package_manager": dep.PackageManager,
		"language":        dep.Language,
		"dev_dependency":  dep.Dev,
		"source_file":     dep.SourceFile,
	}
}

var goDirectivePattern = regexp.MustCompile(`(?m)^go\s+(\d+(?:\.\d+)*)`)

// inferRuntimes reads version pins from the repository and checks each
// against the end-of-life table.
func (a *Analyzer) inferRuntimes(root string) []RuntimeStatus {
	var runtimes []RuntimeStatus

	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		if match := goDirectivePattern.FindSubmatch(data); match != nil {
			runtimes = append(runtimes, a.eol.Check("go", string(match[1])))
		}
	}
	var pkg struct {
		Engines struct {
			Node string `json:"node"`
		} `json:"engines"`
	}
	if err := readJSON(filepath.Join(root, "package.json"), &pkg); err == nil && pkg.Engines.Node != "" {
		runtimes = append(runtimes, a.eol.Check("node", pkg.Engines.Node))
	}
	if version := readVersionFile(filepath.Join(root, ".python-version")); version != "" {
		runtimes = append(runtimes, a.eol.Check("python", version))
	}
	if version := readVersionFile(filepath.Join(root, ".ruby-version")); version != "" {
		runtimes = append(runtimes, a.eol.Check("ruby", version))
	}
	var composer struct {
		Require map[string]string `json:"require"`
	}
	if err := readJSON(filepath.Join(root, "composer.json"), &composer); err == nil {
		if version := composer.Require["php"]; version != "" {
			runtimes = append(runtimes, a.eol.Check("php", version))
		}
	}
	return runtimes
}

func readVersionFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

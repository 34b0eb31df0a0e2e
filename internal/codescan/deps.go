package codescan

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Dependency is one declared package from a manifest file.
type Dependency struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	PackageManager string `json:"package_manager"`
	Language       string `json:"language"`
	Dev            bool   `json:"dev_dependency"`
	SourceFile     string `json:"source_file"`
}

// ExtractDependencies reads every supported manifest in the repository
// root. Unparseable manifests are logged and skipped.
func ExtractDependencies(root string) []Dependency {
	var deps []Dependency

	if path := filepath.Join(root, "package.json"); fileExists(path) {
		deps = append(deps, parsePackageJSON(path)...)
	}
	if matches, _ := filepath.Glob(filepath.Join(root, "requirements*.txt")); len(matches) > 0 {
		for _, path := range matches {
			deps = append(deps, parseRequirementsTxt(path)...)
		}
	}
	if path := filepath.Join(root, "go.mod"); fileExists(path) {
		deps = append(deps, parseGoMod(path)...)
	}
	if path := filepath.Join(root, "pom.xml"); fileExists(path) {
		deps = append(deps, parsePomXML(path)...)
	}
	if path := filepath.Join(root, "build.gradle"); fileExists(path) {
		deps = append(deps, parseBuildGradle(path)...)
	}
	if path := filepath.Join(root, "Gemfile"); fileExists(path) {
		deps = append(deps, parseGemfile(path)...)
	}
	if path := filepath.Join(root, "composer.json"); fileExists(path) {
		deps = append(deps, parseComposerJSON(path)...)
	}
	return deps
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parsePackageJSON(path string) []Dependency {
	var manifest struct {
		Dependencies     map[string]string `json:"dependencies"`
		DevDependencies  map[string]string `json:"devDependencies"`
		PeerDependencies map[string]string `json:"peerDependencies"`
	}
	if err := readJSON(path, &manifest); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}

	var deps []Dependency
	add := func(m map[string]string, dev bool) {
		for name, version := range m {
			deps = append(deps, Dependency{
				Name:           name,
				Version:        version,
				PackageManager: "npm",
				Language:       "JavaScript",
				Dev:            dev,
				SourceFile:     "package.json",
			})
		}
	}
	add(manifest.Dependencies, false)
	add(manifest.DevDependencies, true)
	add(manifest.PeerDependencies, false)
	return deps
}

var requirementPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)\s*([<>=!~]+.*)?$`)

func parseRequirementsTxt(path string) []Dependency {
	lines, err := readLines(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}
	dev := strings.Contains(strings.ToLower(filepath.Base(path)), "dev")

	var deps []Dependency
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		// Extras like "uvicorn[standard]" carry no version info of their own.
		name, _, _ := strings.Cut(line, "[")
		match := requirementPattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[2]
		if version == "" {
			version = "*"
		}
		deps = append(deps, Dependency{
			Name:           match[1],
			Version:        version,
			PackageManager: "pip",
			Language:       "Python",
			Dev:            dev,
			SourceFile:     filepath.Base(path),
		})
	}
	return deps
}

var goRequirePattern = regexp.MustCompile(`^(?:require\s+)?(\S+)\s+v?(\S+)`)

func parseGoMod(path string) []Dependency {
	lines, err := readLines(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}

	var deps []Dependency
	inRequire := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case line == "require (":
			inRequire = true
			continue
		case line == ")":
			inRequire = false
			continue
		}
		if !inRequire && !strings.HasPrefix(line, "require ") {
			continue
		}
		match := goRequirePattern.FindStringSubmatch(line)
		if match == nil || match[1] == "require" {
			continue
		}
		deps = append(deps, Dependency{
			Name:           match[1],
			Version:        match[2],
			PackageManager: "go",
			Language:       "Go",
			SourceFile:     "go.mod",
		})
	}
	return deps
}

func parsePomXML(path string) []Dependency {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}
	var project struct {
		Dependencies []struct {
			GroupID    string `xml:"groupId"`
			ArtifactID string `xml:"artifactId"`
			Version    string `xml:"version"`
			Scope      string `xml:"scope"`
		} `xml:"dependencies>dependency"`
	}
	if err := xml.Unmarshal(data, &project); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}

	var deps []Dependency
	for _, dep := range project.Dependencies {
		if dep.ArtifactID == "" {
			continue
		}
		version := dep.Version
		if version == "" {
			version = "*"
		}
		deps = append(deps, Dependency{
			Name:           dep.GroupID + ":" + dep.ArtifactID,
			Version:        version,
			PackageManager: "maven",
			Language:       "Java",
			Dev:            dep.Scope == "test",
			SourceFile:     "pom.xml",
		})
	}
	return deps
}

var gradlePattern = regexp.MustCompile(`(implementation|api|testImplementation|compileOnly)\s*['"]([^'"]+)['"]`)

func parseBuildGradle(path string) []Dependency {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}

	var deps []Dependency
	for _, match := range gradlePattern.FindAllStringSubmatch(string(data), -1) {
		parts := strings.Split(match[2], ":")
		if len(parts) < 2 {
			continue
		}
		version := "*"
		if len(parts) > 2 {
			version = parts[2]
		}
		deps = append(deps, Dependency{
			Name:           parts[0] + ":" + parts[1],
			Version:        version,
			PackageManager: "gradle",
			Language:       "Java",
			Dev:            match[1] == "testImplementation",
			SourceFile:     "build.gradle",
		})
	}
	return deps
}

var gemPattern = regexp.MustCompile(`gem\s+['"]([^'"]+)['"](?:,\s*['"]([^'"]+)['"])?`)

func parseGemfile(path string) []Dependency {
	lines, err := readLines(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}

	var deps []Dependency
	inDevGroup := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "group :development") || strings.HasPrefix(line, "group :test") {
			inDevGroup = true
			continue
		}
		if line == "end" {
			inDevGroup = false
			continue
		}
		match := gemPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		version := match[2]
		if version == "" {
			version = "*"
		}
		deps = append(deps, Dependency{
			Name:           match[1],
			Version:        version,
			PackageManager: "bundler",
			Language:       "Ruby",
			Dev:            inDevGroup,
			SourceFile:     "Gemfile",
		})
	}
	return deps
}

func parseComposerJSON(path string) []Dependency {
	var manifest struct {
		Require    map[string]string `json:"require"`
		RequireDev map[string]string `json:"require-dev"`
	}
	if err := readJSON(path, &manifest); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to parse manifest")
		return nil
	}

	var deps []Dependency
	add := func(m map[string]string, dev bool) {
		for name, version := range m {
			if name == "php" {
				continue
			}
			deps = append(deps, Dependency{
				Name:           name,
				Version:        version,
				PackageManager: "composer",
				Language:       "PHP",
				Dev:            dev,
				SourceFile:     "composer.json",
			})
		}
	}
	add(manifest.Require, false)
	add(manifest.RequireDev, true)
	return deps
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

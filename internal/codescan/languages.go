// Package codescan analyzes code repositories on disk: language census,
// framework and dependency detection, code metrics, runtime end-of-life
// checks, and application classification.
package codescan

import (
	"bufio"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// extensionLanguages maps file extensions to language names.
var extensionLanguages = map[string]string{
	".py":     "Python",
	".pyw":    "Python",
	".js":     "JavaScript",
	".jsx":    "JavaScript",
	".mjs":    "JavaScript",
	".ts":     "TypeScript",
	".tsx":    "TypeScript",
	".go":     "Go",
	".java":   "Java",
	".kt":     "Kotlin",
	".kts":    "Kotlin",
	".scala":  "Scala",
	".rb":     "Ruby",
	".rs":     "Rust",
	".c":      "C",
	".h":      "C",
	".cpp":    "C++",
	".cc":     "C++",
	".cxx":    "C++",
	".hpp":    "C++",
	".cs":     "C#",
	".php":    "PHP",
	".swift":  "Swift",
	".m":      "Objective-C",
	".mm":     "Objective-C",
	".pl":     "Perl",
	".pm":     "Perl",
	".sh":     "Shell",
	".bash":   "Shell",
	".zsh":    "Shell",
	".ps1":    "PowerShell",
	".lua":    "Lua",
	".r":      "R",
	".jl":     "Julia",
	".ex":     "Elixir",
	".exs":    "Elixir",
	".erl":    "Erlang",
	".clj":    "Clojure",
	".dart":   "Dart",
	".groovy": "Groovy",
	".hs":     "Haskell",
	".ml":     "OCaml",
	".fs":     "F#",
	".vue":    "Vue",
	".svelte": "Svelte",
	".html":   "HTML",
	".htm":    "HTML",
	".css":    "CSS",
	".scss":   "SCSS",
	".less":   "Less",
	".sql":    "SQL",
	".proto":  "Protocol Buffers",
	".tf":     "HCL",
	".yaml":   "YAML",
	".yml":    "YAML",
	".json":   "JSON",
	".xml":    "XML",
	".md":     "Markdown",
	".rst":    "reStructuredText",
}

// shebangLanguages resolves extensionless scripts by interpreter name.
var shebangLanguages = map[string]string{
	"python":  "Python",
	"python3": "Python",
	"node":    "JavaScript",
	"ruby":    "Ruby",
	"bash":    "Shell",
	"sh":      "Shell",
	"zsh":     "Shell",
	"perl":    "Perl",
}

// DefaultExcludedDirs are directory names skipped during any repo walk.
var DefaultExcludedDirs = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "__pycache__",
	".venv", "venv", "dist", "build", "target", ".idea", ".vscode",
	".tox", ".mypy_cache", "coverage",
}

// LanguageStats is the census for one language in a repository.
type LanguageStats struct {
	Name       string  `json:"name"`
	Files      int     `json:"files"`
	Lines      int     `json:"lines"`
	Bytes      int64   `json:"bytes"`
	Percentage float64 `json:"percentage"`
}

func excludedSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// DetectLanguages walks the repository and tallies files, lines and
// bytes per language. Percentage is the language's share of total lines
// rounded to two decimals. Results are sorted by line count descending.
func DetectLanguages(root string, excludedDirs []string) ([]LanguageStats, error) {
	excluded := excludedSet(excludedDirs)
	byLanguage := map[string]*LanguageStats{}
	totalLines := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (excluded[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		language := languageOf(path, d.Name())
		if language == "" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		lines, err := countLines(path)
		if err != nil {
			return nil
		}

		stats, ok := byLanguage[language]
		if !ok {
			stats = &LanguageStats{Name: language}
			byLanguage[language] = stats
		}
		stats.Files++
		stats.Lines += lines
		stats.Bytes += info.Size()
		totalLines += lines
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]LanguageStats, 0, len(byLanguage))
	for _, stats := range byLanguage {
		if totalLines > 0 {
			stats.Percentage = math.Round(float64(stats.Lines)/float64(totalLines)*100*100) / 100
		}
		results = append(results, *stats)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Lines != results[j].Lines {
			return results[i].Lines > results[j].Lines
		}
		return results[i].Name < results[j].Name
	})
	return results, nil
}

func languageOf(path, name string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		return extensionLanguages[ext]
	}
	return languageFromShebang(path)
}

func languageFromShebang(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	line := scanner.Text()
	if !strings.HasPrefix(line, "#!") {
		return ""
	}
	// Handles both "#!/usr/bin/python3" and "#!/usr/bin/env python3".
	fields := strings.Fields(line[2:])
	if len(fields) == 0 {
		return ""
	}
	interpreter := filepath.Base(fields[0])
	if interpreter == "env" && len(fields) > 1 {
		interpreter = fields[1]
	}
	return shebangLanguages[interpreter]
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines++
	}
	return lines, scanner.Err()
}

// PrimaryLanguage is the language with the highest line share, or empty
// when the census found nothing.
func PrimaryLanguage(languages []LanguageStats) string {
	if len(languages) == 0 {
		return ""
	}
	return languages[0].Name
}

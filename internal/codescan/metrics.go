package codescan

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// codeExtensions are the extensions counted as code for metrics.
var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".java": true, ".kt": true, ".scala": true, ".rb": true,
	".rs": true, ".c": true, ".cpp": true, ".cc": true, ".h": true,
	".hpp": true, ".cs": true, ".php": true, ".swift": true, ".sh": true,
	".bash": true, ".pl": true, ".lua": true, ".ex": true, ".exs": true,
	".erl": true, ".clj": true, ".dart": true, ".groovy": true, ".hs": true,
}

var hashCommentExtensions = map[string]bool{
	".py": true, ".rb": true, ".sh": true, ".bash": true, ".pl": true,
}

var slashCommentExtensions = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".java": true,
	".go": true, ".c": true, ".cpp": true, ".cc": true, ".h": true,
	".hpp": true, ".cs": true, ".swift": true, ".kt": true, ".rs": true,
	".php": true, ".scala": true, ".dart": true, ".groovy": true,
}

const largeFileLines = 500

// Metrics summarizes the size and shape of a codebase.
type Metrics struct {
	TotalFiles   int            `json:"total_files"`
	CodeFiles    int            `json:"code_files"`
	LinesOfCode  int            `json:"lines_of_code"`
	BlankLines   int            `json:"blank_lines"`
	CommentLines int            `json:"comment_lines"`
	FileTypes    map[string]int `json:"file_types"`
	TodoCount    int            `json:"todo_count"`
	FixmeCount   int            `json:"fixme_count"`
	LargeFiles   int            `json:"large_files"`
}

// TotalLines is every line seen in code files.
func (m Metrics) TotalLines() int {
	return m.LinesOfCode + m.BlankLines + m.CommentLines
}

// CalculateMetrics walks the repository counting code, blank and
// comment lines. Files larger than maxFileSizeKB are counted but not
// read.
func CalculateMetrics(root string, excludedDirs []string, maxFileSizeKB int64) Metrics {
	if maxFileSizeKB <= 0 {
		maxFileSizeKB = 1024
	}
	excluded := excludedSet(excludedDirs)
	metrics := Metrics{FileTypes: map[string]int{}}

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (excluded[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		metrics.TotalFiles++
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != "" {
			metrics.FileTypes[ext]++
		}
		if !codeExtensions[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSizeKB*1024 {
			return nil
		}

		metrics.CodeFiles++
		analyzeCodeFile(path, ext, &metrics)
		return nil
	})
	return metrics
}

func analyzeCodeFile(path, ext string, metrics *Metrics) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	totalLines := 0
	inBlockComment := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		totalLines++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			metrics.BlankLines++
			continue
		}

		isComment := false
		switch {
		case hashCommentExtensions[ext]:
			isComment = strings.HasPrefix(line, "#")
		case slashCommentExtensions[ext]:
			switch {
			case strings.HasPrefix(line, "//"):
				isComment = true
			case strings.HasPrefix(line, "/*"):
				isComment = true
				inBlockComment = !strings.Contains(line, "*/")
			case inBlockComment:
				isComment = true
				if strings.Contains(line, "*/") {
					inBlockComment = false
				}
			}
		}

		if isComment {
			metrics.CommentLines++
		} else {
			metrics.LinesOfCode++
		}

		upper := strings.ToUpper(line)
		if strings.Contains(upper, "TODO") {
			metrics.TodoCount++
		}
		if strings.Contains(upper, "FIXME") {
			metrics.FixmeCount++
		}
	}

	if totalLines > largeFileLines {
		metrics.LargeFiles++
	}
}

// Data renders the metrics as event payload fields.
func (m Metrics) Data() map[string]any {
	return map[string]any{
		"total_files":   m.TotalFiles,
		"code_files":    m.CodeFiles,
		"lines_of_code": m.LinesOfCode,
		"blank_lines":   m.BlankLines,
		"comment_lines": m.CommentLines,
		"total_lines":   m.TotalLines(),
		"file_types":    m.FileTypes,
		"tech_debt_indicators": map[string]any{
			"todo_count":  m.TodoCount,
			"fixme_count": m.FixmeCount,
			"large_files": m.LargeFiles,
		},
	}
}

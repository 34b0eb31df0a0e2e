package codescan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectLanguagesCensus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "import os\nprint('hi')\nprint('bye')\n")
	writeFile(t, root, "util.py", "x = 1\n")
	writeFile(t, root, "index.js", "console.log(1)\n")

	languages, err := DetectLanguages(root, DefaultExcludedDirs)
	require.NoError(t, err)
	require.Len(t, languages, 2)

	python := languages[0]
	assert.Equal(t, "Python", python.Name)
	assert.Equal(t, 2, python.Files)
	assert.Equal(t, 4, python.Lines)
	assert.Equal(t, 80.0, python.Percentage)

	js := languages[1]
	assert.Equal(t, "JavaScript", js.Name)
	assert.Equal(t, 20.0, js.Percentage)

	assert.Equal(t, "Python", PrimaryLanguage(languages))
}

func TestDetectLanguagesShebang(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "deploy", "#!/usr/bin/env python3\nprint('x')\n")
	writeFile(t, root, "run", "#!/bin/bash\necho hi\n")
	writeFile(t, root, "notes", "no shebang here\n")

	languages, err := DetectLanguages(root, nil)
	require.NoError(t, err)

	byName := map[string]LanguageStats{}
	for _, lang := range languages {
		byName[lang.Name] = lang
	}
	assert.Equal(t, 1, byName["Python"].Files)
	assert.Equal(t, 1, byName["Shell"].Files)
	assert.NotContains(t, byName, "")
}

func TestDetectLanguagesSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "node_modules/lib/index.js", "console.log(1)\n")
	writeFile(t, root, ".git/hooks/sample.py", "print(1)\n")

	languages, err := DetectLanguages(root, DefaultExcludedDirs)
	require.NoError(t, err)
	require.Len(t, languages, 1)
	assert.Equal(t, "Go", languages[0].Name)
	assert.Equal(t, 100.0, languages[0].Percentage)
}

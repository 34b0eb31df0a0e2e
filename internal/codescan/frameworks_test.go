package codescan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameworkByName(frameworks []Framework, name string) (Framework, bool) {
	for _, f := range frameworks {
		if f.Name == name {
			return f, true
		}
	}
	return Framework{}, false
}

func TestDetectFrameworksReact(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"dependencies": {"react": "^18.0.0", "react-dom": "^18.0.0"}}`)

	frameworks := DetectFrameworks(root)
	react, ok := frameworkByName(frameworks, "React")
	require.True(t, ok)
	// Indicator file plus manifest pattern.
	assert.Equal(t, 1.0, react.Confidence)
	assert.Equal(t, "JavaScript", react.Language)
}

func TestDetectFrameworksDjango(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "manage.py", "#!/usr/bin/env python\n")
	writeFile(t, root, "requirements.txt", "django==5.0\n")

	frameworks := DetectFrameworks(root)
	django, ok := frameworkByName(frameworks, "Django")
	require.True(t, ok)
	// manage.py 0.5, manifest pattern 0.5, requirements 0.3, capped.
	assert.Equal(t, 1.0, django.Confidence)
}

func TestDetectFrameworksGoMod(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module demo\n\nrequire github.com/gin-gonic/gin v1.9.1\n")

	frameworks := DetectFrameworks(root)
	gin, ok := frameworkByName(frameworks, "Gin")
	require.True(t, ok)
	assert.Equal(t, 0.5, gin.Confidence)
	assert.Equal(t, "Go", gin.Language)

	_, ok = frameworkByName(frameworks, "Echo")
	assert.False(t, ok)
}

func TestDetectFrameworksSortedByConfidence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Dockerfile", "FROM alpine\n")
	writeFile(t, root, "manage.py", "")
	writeFile(t, root, "requirements.txt", "django==5.0\nflask==3.0\n")

	frameworks := DetectFrameworks(root)
	require.NotEmpty(t, frameworks)
	for i := 1; i < len(frameworks); i++ {
		assert.GreaterOrEqual(t, frameworks[i-1].Confidence, frameworks[i].Confidence)
	}
	assert.Equal(t, "Django", frameworks[0].Name)
}

func TestDetectFrameworksEmptyRepo(t *testing.T) {
	assert.Empty(t, DetectFrameworks(t.TempDir()))
}

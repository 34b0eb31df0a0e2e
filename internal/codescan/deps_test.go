package codescan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depsByManager(deps []Dependency) map[string][]Dependency {
	byManager := map[string][]Dependency{}
	for _, dep := range deps {
		byManager[dep.PackageManager] = append(byManager[dep.PackageManager], dep)
	}
	return byManager
}

func TestExtractDependenciesPackageJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{
		"dependencies": {"express": "^4.18.2"},
		"devDependencies": {"jest": "^29.0.0"}
	}`)

	deps := ExtractDependencies(root)
	require.Len(t, deps, 2)

	byName := map[string]Dependency{}
	for _, dep := range deps {
		byName[dep.Name] = dep
	}
	express := byName["express"]
	assert.Equal(t, "^4.18.2", express.Version)
	assert.Equal(t, "npm", express.PackageManager)
	assert.Equal(t, "JavaScript", express.Language)
	assert.False(t, express.Dev)
	assert.True(t, byName["jest"].Dev)
}

func TestExtractDependenciesRequirements(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "requirements.txt", "# comment\nfastapi==0.110.0\nuvicorn[standard]>=0.29\n-r other.txt\n\npydantic\n")
	writeFile(t, root, "requirements-dev.txt", "pytest~=8.0\n")

	deps := depsByManager(ExtractDependencies(root))["pip"]
	require.Len(t, deps, 4)

	byName := map[string]Dependency{}
	for _, dep := range deps {
		byName[dep.Name] = dep
	}
	assert.Equal(t, "==0.110.0", byName["fastapi"].Version)
	// Extras strip the version spec along with the bracket suffix.
	assert.Equal(t, "*", byName["uvicorn"].Version)
	assert.Equal(t, "*", byName["pydantic"].Version)
	assert.True(t, byName["pytest"].Dev)
	assert.Equal(t, "requirements-dev.txt", byName["pytest"].SourceFile)
}

func TestExtractDependenciesGoMod(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", `module example.com/demo

go 1.22

require (
	github.com/rs/zerolog v1.33.0
	github.com/stretchr/testify v1.9.0 // indirect
)

require github.com/google/uuid v1.6.0
`)

	deps := ExtractDependencies(root)
	require.Len(t, deps, 3)
	assert.Equal(t, "github.com/rs/zerolog", deps[0].Name)
	assert.Equal(t, "1.33.0", deps[0].Version)
	assert.Equal(t, "go", deps[0].PackageManager)
	assert.Equal(t, "github.com/google/uuid", deps[2].Name)
	assert.Equal(t, "1.6.0", deps[2].Version)
}

func TestExtractDependenciesPomXML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pom.xml", `<?xml version="1.0"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <dependencies>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-web</artifactId>
      <version>3.2.0</version>
    </dependency>
    <dependency>
      <groupId>junit</groupId>
      <artifactId>junit</artifactId>
      <version>4.13.2</version>
      <scope>test</scope>
    </dependency>
  </dependencies>
</project>`)

	deps := ExtractDependencies(root)
	require.Len(t, deps, 2)
	assert.Equal(t, "org.springframework.boot:spring-boot-starter-web", deps[0].Name)
	assert.Equal(t, "3.2.0", deps[0].Version)
	assert.Equal(t, "maven", deps[0].PackageManager)
	assert.False(t, deps[0].Dev)
	assert.True(t, deps[1].Dev)
}

func TestExtractDependenciesGemfile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Gemfile", `source "https://rubygems.org"

gem "rails", "7.1.0"
gem "pg"

group :development, :test do
  gem "rspec-rails"
end
`)

	deps := ExtractDependencies(root)
	require.Len(t, deps, 3)
	assert.Equal(t, "rails", deps[0].Name)
	assert.Equal(t, "7.1.0", deps[0].Version)
	assert.Equal(t, "*", deps[1].Version)
	assert.True(t, deps[2].Dev)
}

func TestExtractDependenciesComposerSkipsPHPItself(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "composer.json", `{
		"require": {"php": ">=8.1", "laravel/framework": "^10.0"},
		"require-dev": {"phpunit/phpunit": "^10.0"}
	}`)

	deps := ExtractDependencies(root)
	require.Len(t, deps, 2)
	for _, dep := range deps {
		assert.NotEqual(t, "php", dep.Name)
		assert.Equal(t, "composer", dep.PackageManager)
	}
}

func TestExtractDependenciesMalformedManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", "{not json")

	assert.Empty(t, ExtractDependencies(root))
}

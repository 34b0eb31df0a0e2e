package testenv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ComposeFileName  = "docker-compose.generated.yml"
	ManifestFileName = "test-env-manifest.json"
)

// RenderCompose serializes the compose document with a seed header. The
// header carries no timestamp so equal seeds produce identical bytes.
func RenderCompose(env Environment) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Generated test environment\n")
	fmt.Fprintf(&buf, "# Seed: %d\n", env.Seed)
	fmt.Fprintf(&buf, "# Recreate with: testenv generate --seed %d\n", env.Seed)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(env.Compose); err != nil {
		return nil, fmt.Errorf("encode compose: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderManifest serializes the manifest with stable indentation.
func RenderManifest(manifest Manifest) ([]byte, error) {
	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(out, '\n'), nil
}

// WriteFiles emits the compose document and manifest into outputDir.
func WriteFiles(env Environment, outputDir string, generatedAt time.Time) (composePath, manifestPath string, err error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", err
	}

	compose, err := RenderCompose(env)
	if err != nil {
		return "", "", err
	}
	composePath = filepath.Join(outputDir, ComposeFileName)
	if err := os.WriteFile(composePath, compose, 0o644); err != nil {
		return "", "", err
	}

	manifest, err := RenderManifest(BuildManifest(env, generatedAt))
	if err != nil {
		return "", "", err
	}
	manifestPath = filepath.Join(outputDir, ManifestFileName)
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return "", "", err
	}

	return composePath, manifestPath, nil
}

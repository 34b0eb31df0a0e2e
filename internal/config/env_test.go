package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvReads(t *testing.T) {
	env := NewEnv("TESTSVC")
	t.Setenv("TESTSVC_HOST", "broker.internal")
	t.Setenv("TESTSVC_PORT", "5672")
	t.Setenv("TESTSVC_DEBUG", "true")
	t.Setenv("TESTSVC_TIMEOUT", "30")
	t.Setenv("TESTSVC_INTERVAL", "2m")
	t.Setenv("TESTSVC_PATHS", "/srv/a, /srv/b,,")

	assert.Equal(t, "broker.internal", env.String("HOST", "localhost"))
	assert.Equal(t, "fallback", env.String("MISSING", "fallback"))
	assert.Equal(t, 5672, env.Int("PORT", 0))
	assert.Equal(t, 9, env.Int("MISSING", 9))
	assert.True(t, env.Bool("DEBUG", false))
	assert.Equal(t, 30*time.Second, env.Duration("TIMEOUT", time.Second))
	assert.Equal(t, 2*time.Minute, env.Duration("INTERVAL", time.Second))
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, env.StringSlice("PATHS", nil))
}

func TestRequired(t *testing.T) {
	env := NewEnv("TESTSVC")
	_, err := env.Required("API_KEY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TESTSVC_API_KEY")

	t.Setenv("TESTSVC_API_KEY", "k")
	v, err := env.Required("API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "k", v)
}

func TestPrefixNormalization(t *testing.T) {
	a := NewEnv("DRYRUN")
	b := NewEnv("DRYRUN_")
	assert.Equal(t, a.Key("API_KEY"), b.Key("API_KEY"))
}

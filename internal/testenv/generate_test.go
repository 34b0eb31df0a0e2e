package testenv

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGenerateDeterministicForEqualSeeds(t *testing.T) {
	for _, size := range []Size{SizeSmall, SizeMedium, SizeLarge} {
		for seed := int64(1); seed <= 5; seed++ {
			a := NewGenerator(seed, size).Generate()
			b := NewGenerator(seed, size).Generate()

			composeA, err := RenderCompose(a)
			require.NoError(t, err)
			composeB, err := RenderCompose(b)
			require.NoError(t, err)
			assert.Equal(t, string(composeA), string(composeB), "seed %d size %s", seed, size)

			at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			manifestA, err := RenderManifest(BuildManifest(a, at))
			require.NoError(t, err)
			manifestB, err := RenderManifest(BuildManifest(b, at))
			require.NoError(t, err)
			assert.Equal(t, string(manifestA), string(manifestB))
		}
	}
}

func TestGenerateDifferentSeedsDiffer(t *testing.T) {
	a, err := RenderCompose(NewGenerator(1, SizeMedium).Generate())
	require.NoError(t, err)
	b, err := RenderCompose(NewGenerator(2, SizeMedium).Generate())
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b))
}

func TestGenerateAddressAllocation(t *testing.T) {
	env := NewGenerator(42, SizeLarge).Generate()

	seenIPs := map[string]bool{}
	octet := regexp.MustCompile(`^172\.28\.0\.(\d+)$`)
	for name, cfg := range env.Compose.Services {
		attachment, ok := cfg.Networks[NetworkName]
		require.True(t, ok, name)

		match := octet.FindStringSubmatch(attachment.IPv4Address)
		require.NotNil(t, match, attachment.IPv4Address)
		assert.NotEqual(t, Gateway, attachment.IPv4Address)
		assert.False(t, seenIPs[attachment.IPv4Address], "duplicate ip %s", attachment.IPv4Address)
		seenIPs[attachment.IPv4Address] = true

		var last int
		_, err := fmt.Sscanf(match[1], "%d", &last)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, last, 10)
		assert.LessOrEqual(t, last, 250)
	}
}

func TestGenerateHostPortsDisjoint(t *testing.T) {
	env := NewGenerator(7, SizeLarge).Generate()

	seen := map[string]bool{}
	for _, cfg := range env.Compose.Services {
		for _, mapping := range cfg.Ports {
			host, _, found := strings.Cut(mapping, ":")
			require.True(t, found, mapping)
			assert.False(t, seen[host], "duplicate host port %s", host)
			seen[host] = true
		}
	}
}

func TestGenerateServiceNames(t *testing.T) {
	env := NewGenerator(3, SizeMedium).Generate()
	namePattern := regexp.MustCompile(`^target-[a-z]+-[a-z0-9-]+-\d{2}$`)

	for name, cfg := range env.Compose.Services {
		assert.Regexp(t, namePattern, name)
		assert.Equal(t, name, cfg.ContainerName)
	}
}

func TestGenerateCountsWithinProfile(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		manifest := BuildManifest(NewGenerator(seed, SizeSmall).Generate(), time.Now())

		assert.GreaterOrEqual(t, manifest.Summary.WebServers, 1)
		assert.LessOrEqual(t, manifest.Summary.WebServers, 2)
		assert.GreaterOrEqual(t, manifest.Summary.AppServers, 1)
		assert.LessOrEqual(t, manifest.Summary.AppServers, 2)
		assert.GreaterOrEqual(t, manifest.Summary.Databases, 1)
		assert.LessOrEqual(t, manifest.Summary.Databases, 2)
		assert.LessOrEqual(t, manifest.Summary.MessageQueues, 1)
		assert.LessOrEqual(t, manifest.Summary.Infrastructure, 1)

		total := manifest.Summary.WebServers + manifest.Summary.AppServers +
			manifest.Summary.Databases + manifest.Summary.MessageQueues +
			manifest.Summary.Infrastructure
		assert.Equal(t, manifest.Summary.TotalServices, total)
		assert.Len(t, manifest.Services, total)
	}
}

func TestGenerateComposeRoundTrips(t *testing.T) {
	env := NewGenerator(11, SizeSmall).Generate()
	out, err := RenderCompose(env)
	require.NoError(t, err)

	assert.Contains(t, string(out), "# Seed: 11")

	var parsed ComposeFile
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Equal(t, "3.8", parsed.Version)
	assert.Len(t, parsed.Services, len(env.Compose.Services))

	net, ok := parsed.Networks[NetworkName]
	require.True(t, ok)
	assert.Equal(t, "bridge", net.Driver)
	require.Len(t, net.IPAM.Config, 1)
	assert.Equal(t, SubnetCIDR, net.IPAM.Config[0].Subnet)
	assert.Equal(t, Gateway, net.IPAM.Config[0].Gateway)
}

func TestDatabaseEnv(t *testing.T) {
	g := NewGenerator(1, SizeSmall)

	env := g.databaseEnv("postgresql", "billing")
	assert.Equal(t, "billing_db", env["POSTGRES_DB"])
	assert.Len(t, env["POSTGRES_PASSWORD"], 16)
	assert.True(t, strings.HasSuffix(env["POSTGRES_USER"], "_user"))

	env = g.databaseEnv("mysql", "erp")
	assert.Equal(t, "erp_db", env["MYSQL_DATABASE"])
	assert.NotEmpty(t, env["MYSQL_ROOT_PASSWORD"])

	env = g.databaseEnv("mongodb6", "crm")
	assert.NotEmpty(t, env["MONGO_INITDB_ROOT_USERNAME"])

	env = g.databaseEnv("elasticsearch", "legacy")
	assert.Equal(t, "single-node", env["discovery.type"])

	assert.Nil(t, g.databaseEnv("redis", "crm"))
	assert.Nil(t, g.databaseEnv("memcached", "crm"))
}

func TestBuildManifestServiceFields(t *testing.T) {
	env := NewGenerator(5, SizeSmall).Generate()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	manifest := BuildManifest(env, at)

	assert.Equal(t, at, manifest.GeneratedAt)
	assert.Equal(t, int64(5), manifest.Seed)

	for i, svc := range manifest.Services {
		assert.NotEmpty(t, svc.Name)
		assert.NotEqual(t, "unknown", svc.IP)
		assert.NotEqual(t, "unknown", svc.Type)
		assert.NotEqual(t, "unknown", svc.Technology)
		assert.NotEmpty(t, svc.Ports)
		if i > 0 {
			assert.Less(t, manifest.Services[i-1].Name, svc.Name)
		}
	}
}

func TestValidSize(t *testing.T) {
	assert.True(t, ValidSize(SizeSmall))
	assert.True(t, ValidSize(SizeMedium))
	assert.True(t, ValidSize(SizeLarge))
	assert.False(t, ValidSize("huge"))
}

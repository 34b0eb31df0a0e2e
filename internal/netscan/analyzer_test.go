package netscan

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiforce/discovery-mesh/internal/scan"
)

func testAnalyzer(open map[string]string) *Analyzer {
	cfg := DefaultConfig()
	cfg.CommonPorts = []int{22, 80, 5432}
	cfg.RateLimit = 10000
	s := NewScanner(cfg, zerolog.Nop())
	s.dial = fakeDial(open, nil)
	return NewAnalyzer(s)
}

func TestEnumerateUsesRequestTargets(t *testing.T) {
	a := testAnalyzer(nil)
	hosts, err := a.Enumerate(context.Background(), scan.Request{
		Targets:    []string{"192.168.1.0/30"},
		MaxTargets: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.0", "192.168.1.1"}, hosts)
}

func TestEnumerateWithoutSubnetsFails(t *testing.T) {
	_, err := testAnalyzer(nil).Enumerate(context.Background(), scan.Request{})
	assert.Error(t, err)
}

func TestAnalyzeEmitsServiceAndServerRecords(t *testing.T) {
	a := testAnalyzer(map[string]string{
		"10.0.0.5:5432": "PostgreSQL 14.2",
		"10.0.0.5:22":   "SSH-2.0-OpenSSH_8.9 Ubuntu",
	})

	records, err := a.Analyze(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	require.Len(t, records, 3)

	pg := records[0]
	assert.Equal(t, "service", pg.Entity)
	assert.Equal(t, 5432, pg.Data["port"])
	assert.Equal(t, "PostgreSQL", pg.Data["service"])
	metadata := pg.Data["metadata"].(map[string]any)
	assert.Equal(t, true, metadata["database_candidate"])
	assert.Equal(t, "postgresql", metadata["candidate_type"])
	assert.Equal(t, portOnlyConfidence, metadata["candidate_confidence"])

	sshRec := records[1]
	assert.Equal(t, "service", sshRec.Entity)
	assert.NotContains(t, sshRec.Data, "metadata")

	server := records[2]
	assert.Equal(t, "server", server.Entity)
	assert.Equal(t, []any{"10.0.0.5"}, server.Data["ip_addresses"])
	assert.ElementsMatch(t, []any{22, 5432}, server.Data["open_ports"].([]any))
	assert.Equal(t, "Linux", server.Data["os"].(map[string]any)["name"])
}

func TestAnalyzeSilentHostProducesNoRecords(t *testing.T) {
	records, err := testAnalyzer(nil).Analyze(context.Background(), "10.0.0.250")
	require.NoError(t, err)
	assert.Empty(t, records)
}

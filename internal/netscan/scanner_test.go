package netscan

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bannerConn replays a fixed banner then EOF.
type bannerConn struct {
	banner []byte
	read   bool
}

func (c *bannerConn) Read(b []byte) (int, error) {
	if c.read || len(c.banner) == 0 {
		return 0, io.EOF
	}
	c.read = true
	return copy(b, c.banner), nil
}

func (c *bannerConn) Write(b []byte) (int, error)      { return len(b), nil }
func (c *bannerConn) Close() error                     { return nil }
func (c *bannerConn) LocalAddr() net.Addr              { return nil }
func (c *bannerConn) RemoteAddr() net.Addr             { return nil }
func (c *bannerConn) SetDeadline(time.Time) error      { return nil }
func (c *bannerConn) SetReadDeadline(time.Time) error  { return nil }
func (c *bannerConn) SetWriteDeadline(time.Time) error { return nil }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func fakeDial(open map[string]string, timedOut map[string]bool) func(string, string, time.Duration) (net.Conn, error) {
	return func(network, address string, timeout time.Duration) (net.Conn, error) {
		if banner, ok := open[address]; ok {
			return &bannerConn{banner: []byte(banner)}, nil
		}
		if timedOut[address] {
			return nil, timeoutError{}
		}
		return nil, errors.New("connection refused")
	}
}

func TestExpandPortRangesPrioritisesDatabases(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommonPorts = []int{80, 22, 5432, 3306}
	cfg.PortRanges = []string{"8000-8002", "9042"}
	s := NewScanner(cfg, zerolog.Nop())

	ports := s.expandPortRanges()
	assert.Equal(t, []int{3306, 5432, 9042, 22, 80, 8000, 8001, 8002}, ports)
}

func TestExpandSubnets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludeSubnets = []string{"10.0.0.0/31"}
	s := NewScanner(cfg, zerolog.Nop())

	hosts, err := s.ExpandSubnets([]string{"10.0.0.0/29"}, 0)
	require.NoError(t, err)
	// .0 and .1 excluded, .2 through .7 remain.
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6", "10.0.0.7"}, hosts)

	capped, err := s.ExpandSubnets([]string{"10.0.0.0/24"}, 3)
	require.NoError(t, err)
	assert.Len(t, capped, 3)

	_, err = s.ExpandSubnets([]string{"not-a-subnet"}, 0)
	assert.Error(t, err)
}

func TestScanHostFindsOpenPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommonPorts = []int{22, 80, 5432}
	cfg.RateLimit = 10000
	s := NewScanner(cfg, zerolog.Nop())
	s.dial = fakeDial(map[string]string{
		"10.0.0.5:22":   "SSH-2.0-OpenSSH_8.9",
		"10.0.0.5:5432": "PostgreSQL 14.2 on x86_64",
	}, nil)

	results, err := s.ScanHost(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Database priority port is probed first.
	assert.Equal(t, 5432, results[0].Port)
	assert.Equal(t, "PostgreSQL", results[0].Service.Name)
	assert.Equal(t, "14.2", results[0].Service.Version)
	assert.Equal(t, 22, results[1].Port)
	assert.Equal(t, "SSH", results[1].Service.Name)
}

func TestScanHostDeadHostDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommonPorts = []int{1, 2, 3, 4, 5, 6, 7, 8}
	cfg.RateLimit = 10000
	cfg.DeadHostThreshold = 3
	s := NewScanner(cfg, zerolog.Nop())

	var attempts int
	s.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		return nil, timeoutError{}
	}

	results, err := s.ScanHost(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 3, attempts)
}

func TestScanHostRefusedResetsTimeoutCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommonPorts = []int{1, 2, 3, 4}
	cfg.RateLimit = 10000
	cfg.DeadHostThreshold = 2
	s := NewScanner(cfg, zerolog.Nop())

	var attempts int
	s.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		if attempts%2 == 1 {
			return nil, timeoutError{}
		}
		return nil, errors.New("connection refused")
	}

	_, err := s.ScanHost(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	// Alternating timeout/refused never reaches the threshold.
	assert.Equal(t, 4, attempts)
}

package netscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifyFromBanner(t *testing.T) {
	f := NewFingerprinter()
	cases := []struct {
		port    int
		banner  string
		name    string
		version string
		product string
	}{
		{22, "SSH-2.0-OpenSSH_8.9p1", "SSH", "2.0", "OpenSSH_8.9p1"},
		{80, "Server: nginx/1.24.0", "HTTP", "1.24.0", "nginx"},
		{80, "Server: Apache/2.4.52 (Ubuntu)", "HTTP", "2.4.52", "Apache"},
		{5432, "PostgreSQL 14.2 on x86_64-pc-linux-gnu", "PostgreSQL", "14.2", "PostgreSQL"},
		{3306, "5.7.36-log MySQL Community Server", "MySQL", "5.7.36", "MySQL"},
		{6379, "-ERR unknown command, this is redis", "Redis", "", "Redis"},
		{5672, "AMQP\x00\x00\x09\x01", "AMQP", "", "RabbitMQ"},
	}
	for _, tc := range cases {
		fp := f.Identify(tc.port, tc.banner)
		assert.Equal(t, tc.name, fp.Name, tc.banner)
		assert.Equal(t, tc.version, fp.Version, tc.banner)
		assert.Equal(t, tc.product, fp.Product, tc.banner)
	}
}

func TestIdentifyFallsBackToPort(t *testing.T) {
	f := NewFingerprinter()
	assert.Equal(t, "PostgreSQL", f.Identify(5432, "").Name)
	assert.Equal(t, "Cassandra", f.Identify(9042, "").Name)
	assert.Equal(t, "MongoDB", f.Identify(27017, "").Name)
	assert.Equal(t, "Unknown", f.Identify(31337, "").Name)
	// Unmatched banner still falls back to the port.
	assert.Equal(t, "Oracle", f.Identify(1521, "garbage").Name)
}

func TestIdentifyOS(t *testing.T) {
	assert.Equal(t, "Linux", IdentifyOS(map[int]string{22: "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1"}))
	assert.Equal(t, "Windows", IdentifyOS(map[int]string{80: "Microsoft-IIS/10.0"}))
	assert.Equal(t, "FreeBSD", IdentifyOS(map[int]string{21: "220 FreeBSD FTP server"}))
	assert.Equal(t, "Unknown", IdentifyOS(map[int]string{80: "hello"}))
	assert.Equal(t, "Unknown", IdentifyOS(nil))
}

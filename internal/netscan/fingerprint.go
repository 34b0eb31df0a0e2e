// Package netscan walks CIDR ranges, probes TCP ports under a rate
// limit, grabs banners, and emits server and service discoveries.
package netscan

import (
	"regexp"
	"strings"
)

// Fingerprint describes a service identified on an open port.
type Fingerprint struct {
	Name    string
	Version string
	Product string
}

type signature struct {
	pattern *regexp.Regexp
	extract func([]string) Fingerprint
}

// Fingerprinter identifies services from banners, falling back to
// well-known port numbers.
type Fingerprinter struct {
	signatures []signature
}

func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{signatures: []signature{
		{
			pattern: regexp.MustCompile(`SSH-(\d+\.\d+)-(\S+)`),
			extract: func(m []string) Fingerprint {
				return Fingerprint{Name: "SSH", Version: m[1], Product: m[2]}
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)Apache[/ ](\d+\.\d+(?:\.\d+)?)`),
			extract: func(m []string) Fingerprint {
				return Fingerprint{Name: "HTTP", Version: m[1], Product: "Apache"}
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)nginx[/ ](\d+\.\d+(?:\.\d+)?)`),
			extract: func(m []string) Fingerprint {
				return Fingerprint{Name: "HTTP", Version: m[1], Product: "nginx"}
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)HTTP/(\d+\.\d+)\s+\d+`),
			extract: func(m []string) Fingerprint {
				return Fingerprint{Name: "HTTP", Version: m[1]}
			},
		},
		{
			pattern: regexp.MustCompile(`(\d+\.\d+\.\d+).*MySQL`),
			extract: func(m []string) Fingerprint {
				return Fingerprint{Name: "MySQL", Version: m[1], Product: "MySQL"}
			},
		},
		{
			pattern: regexp.MustCompile(`PostgreSQL (\d+\.\d+)`),
			extract: func(m []string) Fingerprint {
				return Fingerprint{Name: "PostgreSQL", Version: m[1], Product: "PostgreSQL"}
			},
		},
		{
			pattern: regexp.MustCompile(`-ERR.*redis|REDIS`),
			extract: func([]string) Fingerprint {
				return Fingerprint{Name: "Redis", Product: "Redis"}
			},
		},
		{
			pattern: regexp.MustCompile(`MongoDB|mongod`),
			extract: func([]string) Fingerprint {
				return Fingerprint{Name: "MongoDB", Product: "MongoDB"}
			},
		},
		{
			pattern: regexp.MustCompile(`AMQP|RabbitMQ`),
			extract: func([]string) Fingerprint {
				return Fingerprint{Name: "AMQP", Product: "RabbitMQ"}
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^220[- ].*FTP`),
			extract: func([]string) Fingerprint {
				return Fingerprint{Name: "FTP"}
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^220[- ].*SMTP|ESMTP`),
			extract: func([]string) Fingerprint {
				return Fingerprint{Name: "SMTP"}
			},
		},
	}}
}

// Identify resolves a fingerprint from the banner first, then the port.
func (f *Fingerprinter) Identify(port int, banner string) Fingerprint {
	if banner != "" {
		for _, sig := range f.signatures {
			if m := sig.pattern.FindStringSubmatch(banner); m != nil {
				return sig.extract(m)
			}
		}
	}
	return identifyByPort(port)
}

var portServices = map[int]Fingerprint{
	21:    {Name: "FTP"},
	22:    {Name: "SSH"},
	23:    {Name: "Telnet"},
	25:    {Name: "SMTP"},
	53:    {Name: "DNS"},
	80:    {Name: "HTTP"},
	110:   {Name: "POP3"},
	143:   {Name: "IMAP"},
	443:   {Name: "HTTPS"},
	445:   {Name: "SMB"},
	465:   {Name: "SMTPS"},
	587:   {Name: "SMTP Submission"},
	993:   {Name: "IMAPS"},
	995:   {Name: "POP3S"},
	1433:  {Name: "MSSQL"},
	1521:  {Name: "Oracle"},
	3306:  {Name: "MySQL"},
	3389:  {Name: "RDP"},
	5432:  {Name: "PostgreSQL"},
	5672:  {Name: "AMQP", Product: "RabbitMQ"},
	6379:  {Name: "Redis"},
	8080:  {Name: "HTTP-Alt"},
	8443:  {Name: "HTTPS-Alt"},
	9042:  {Name: "Cassandra"},
	9200:  {Name: "Elasticsearch"},
	9300:  {Name: "Elasticsearch-Transport"},
	15672: {Name: "RabbitMQ-Management"},
	27017: {Name: "MongoDB"},
}

func identifyByPort(port int) Fingerprint {
	if fp, ok := portServices[port]; ok {
		return fp
	}
	return Fingerprint{Name: "Unknown"}
}

// IdentifyOS guesses the operating system from collected banners.
func IdentifyOS(banners map[int]string) string {
	for _, banner := range banners {
		lower := strings.ToLower(banner)
		switch {
		case strings.Contains(lower, "windows"),
			strings.Contains(lower, "microsoft"),
			strings.Contains(lower, "iis"):
			return "Windows"
		case strings.Contains(lower, "ubuntu"),
			strings.Contains(lower, "debian"),
			strings.Contains(lower, "centos"),
			strings.Contains(lower, "rhel"),
			strings.Contains(lower, "fedora"),
			strings.Contains(lower, "linux"):
			return "Linux"
		case strings.Contains(lower, "darwin"), strings.Contains(lower, "macos"):
			return "macOS"
		case strings.Contains(lower, "freebsd"):
			return "FreeBSD"
		}
	}
	return "Unknown"
}

package netscan

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config tunes a network scan.
type Config struct {
	Subnets           []string
	ExcludeSubnets    []string
	PortRanges        []string
	CommonPorts       []int
	Timeout           time.Duration
	RateLimit         int
	DeadHostThreshold int
}

func DefaultConfig() Config {
	return Config{
		CommonPorts: []int{
			21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 1433, 1521,
			3306, 3389, 5432, 5672, 6379, 8080, 8443, 9042, 9200, 27017,
		},
		Timeout:           500 * time.Millisecond,
		RateLimit:         100,
		DeadHostThreshold: 5,
	}
}

// PortResult is one probed port on one host.
type PortResult struct {
	IP       string
	Port     int
	Protocol string
	Open     bool
	TimedOut bool
	Service  Fingerprint
	Banner   string
}

// Scanner probes hosts under a packet rate limit.
type Scanner struct {
	cfg           Config
	limiter       *rate.Limiter
	fingerprinter *Fingerprinter
	log           zerolog.Logger

	// dial is swapped out in tests.
	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

func NewScanner(cfg Config, log zerolog.Logger) *Scanner {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.DeadHostThreshold <= 0 {
		cfg.DeadHostThreshold = 5
	}
	return &Scanner{
		cfg:           cfg,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		fingerprinter: NewFingerprinter(),
		log:           log,
		dial:          net.DialTimeout,
	}
}

// ExpandSubnets lists every includable host address, capped at limit
// (0 means no cap).
func (s *Scanner) ExpandSubnets(subnets []string, limit int) ([]string, error) {
	var hosts []string
	for _, subnet := range subnets {
		_, ipNet, err := net.ParseCIDR(subnet)
		if err != nil {
			return nil, fmt.Errorf("invalid subnet %q: %w", subnet, err)
		}
		for ip := ipNet.IP.Mask(ipNet.Mask); ipNet.Contains(ip); incrementIP(ip) {
			// ip is mutated in place, copy before keeping.
			ipStr := ip.String()
			if s.isExcluded(ipStr) {
				continue
			}
			hosts = append(hosts, ipStr)
			if limit > 0 && len(hosts) >= limit {
				return hosts, nil
			}
		}
	}
	return hosts, nil
}

// ScanHost probes the configured ports on one host. After
// DeadHostThreshold consecutive timeouts the host is assumed dead and
// remaining ports are skipped. A refused connection proves the host is
// alive and resets the counter.
func (s *Scanner) ScanHost(ctx context.Context, ip string) ([]PortResult, error) {
	var results []PortResult
	consecutiveTimeouts := 0

	for _, port := range s.expandPortRanges() {
		if err := s.limiter.Wait(ctx); err != nil {
			return results, err
		}

		result := s.scanPort(ip, port)
		switch {
		case result.Open:
			consecutiveTimeouts = 0
			results = append(results, result)
		case result.TimedOut:
			consecutiveTimeouts++
			if consecutiveTimeouts >= s.cfg.DeadHostThreshold {
				s.log.Debug().Str("ip", ip).Int("consecutive_timeouts", consecutiveTimeouts).
					Msg("Host appears dead, skipping remaining ports")
				return results, nil
			}
		default:
			consecutiveTimeouts = 0
		}
	}
	return results, nil
}

func (s *Scanner) scanPort(ip string, port int) PortResult {
	result := PortResult{IP: ip, Port: port, Protocol: "tcp"}

	conn, err := s.dial("tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", port)), s.cfg.Timeout)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			result.TimedOut = true
		}
		return result
	}
	defer conn.Close()

	result.Open = true
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err == nil {
		buffer := make([]byte, 1024)
		if n, _ := conn.Read(buffer); n > 0 {
			result.Banner = string(buffer[:n])
		}
	}
	result.Service = s.fingerprinter.Identify(port, result.Banner)
	return result
}

// databasePriorityPorts are scanned first so database services surface
// quickly and dead-host detection triggers on high-value ports.
var databasePriorityPorts = map[int]bool{
	1433:  true,
	1521:  true,
	3306:  true,
	5432:  true,
	5672:  true,
	5984:  true,
	6379:  true,
	9042:  true,
	9200:  true,
	27017: true,
}

func (s *Scanner) expandPortRanges() []int {
	portSet := map[int]bool{}
	for _, port := range s.cfg.CommonPorts {
		portSet[port] = true
	}
	for _, rangeStr := range s.cfg.PortRanges {
		var start, end int
		if n, _ := fmt.Sscanf(rangeStr, "%d-%d", &start, &end); n == 2 {
			for p := start; p <= end; p++ {
				portSet[p] = true
			}
		} else if n, _ := fmt.Sscanf(rangeStr, "%d", &start); n == 1 {
			portSet[start] = true
		}
	}

	priority := make([]int, 0)
	rest := make([]int, 0, len(portSet))
	for port := range portSet {
		if databasePriorityPorts[port] {
			priority = append(priority, port)
		} else {
			rest = append(rest, port)
		}
	}
	sort.Ints(priority)
	sort.Ints(rest)
	return append(priority, rest...)
}

func (s *Scanner) isExcluded(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, subnet := range s.cfg.ExcludeSubnets {
		_, ipNet, err := net.ParseCIDR(subnet)
		if err != nil {
			continue
		}
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

func incrementIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

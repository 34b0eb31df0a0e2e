package probe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Result is the outcome of one probe. It carries system facts only and
// may safely reach the event mesh.
type Result struct {
	ProbeID           string           `json:"probe_id"`
	TargetIP          string           `json:"target_ip"`
	ServerID          string           `json:"server_id,omitempty"`
	Hostname          string           `json:"hostname,omitempty"`
	OperatingSystem   map[string]any   `json:"operating_system"`
	Hardware          map[string]any   `json:"hardware"`
	InstalledSoftware []map[string]any `json:"installed_software"`
	RunningServices   []map[string]any `json:"running_services"`
	NetworkConfig     map[string]any   `json:"network_config"`
	Success           bool             `json:"success"`
	Error             string           `json:"error,omitempty"`
}

// Data flattens the result for a CloudEvent payload.
func (r *Result) Data() map[string]any {
	data := map[string]any{
		"probe_id":           r.ProbeID,
		"target_ip":          r.TargetIP,
		"operating_system":   r.OperatingSystem,
		"hardware":           r.Hardware,
		"installed_software": anySlice(r.InstalledSoftware),
		"running_services":   anySlice(r.RunningServices),
		"network_config":     r.NetworkConfig,
		"success":            r.Success,
	}
	if r.ServerID != "" {
		data["server_id"] = r.ServerID
	}
	if r.Hostname != "" {
		data["hostname"] = r.Hostname
	}
	return data
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// runner executes one remote command and returns its stdout.
type runner func(command string) (string, error)

// Prober gathers system facts over SSH.
type Prober struct {
	sessionTimeout time.Duration
	commandTimeout time.Duration
	log            zerolog.Logger
}

func NewProber(sessionTimeout, commandTimeout time.Duration, log zerolog.Logger) *Prober {
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Second
	}
	if commandTimeout <= 0 {
		commandTimeout = 60 * time.Second
	}
	return &Prober{
		sessionTimeout: sessionTimeout,
		commandTimeout: commandTimeout,
		log:            log,
	}
}

// Probe connects to target:port and collects facts. Credentials are
// cleared before this function returns, success or not. Connect errors
// are classified by type name only: upstream error messages can embed
// credential fragments and never reach logs or results.
func (p *Prober) Probe(targetIP string, port int, creds *Credentials, serverID string) Result {
	defer creds.Clear()

	result := Result{
		ProbeID:           uuid.NewString(),
		TargetIP:          targetIP,
		ServerID:          serverID,
		OperatingSystem:   map[string]any{},
		Hardware:          map[string]any{},
		InstalledSoftware: []map[string]any{},
		RunningServices:   []map[string]any{},
		NetworkConfig:     map[string]any{},
	}
	if port <= 0 {
		port = 22
	}

	p.log.Info().
		Str("probe_id", result.ProbeID).
		Str("target", fmt.Sprintf("%s:%d", targetIP, port)).
		Str("user", creds.Username()).
		Msg("Starting probe")

	auth, err := authMethods(creds)
	if err != nil {
		result.Error = "Connection failed: " + errClass(err)
		p.log.Error().Str("probe_id", result.ProbeID).Str("cause", errClass(err)).Msg("Probe failed")
		return result
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", targetIP, port), &ssh.ClientConfig{
		User:            creds.Username(),
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.sessionTimeout,
	})
	if err != nil {
		result.Error = "Connection failed: " + errClass(err)
		p.log.Error().Str("probe_id", result.ProbeID).Str("cause", errClass(err)).Msg("Probe failed")
		return result
	}
	defer client.Close()

	p.collect(&result, func(command string) (string, error) {
		return p.runCommand(client, command)
	})
	result.Success = true
	p.log.Info().Str("probe_id", result.ProbeID).Msg("Probe completed")
	return result
}

func authMethods(creds *Credentials) ([]ssh.AuthMethod, error) {
	if creds.HasPrivateKey() {
		var signer ssh.Signer
		var err error
		if creds.HasPassphrase() {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(creds.ExposePrivateKey(), creds.ExposePassphrase())
		} else {
			signer, err = ssh.ParsePrivateKey(creds.ExposePrivateKey())
		}
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(creds.ExposePassword())}, nil
}

// errClass names the error type without its message.
func errClass(err error) string {
	return fmt.Sprintf("%T", err)
}

// runCommand runs one command in its own session with its own timeout.
func (p *Prober) runCommand(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := session.Output(command)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return string(o.out), o.err
	case <-time.After(p.commandTimeout):
		session.Close()
		return "", fmt.Errorf("command timed out after %s", p.commandTimeout)
	}
}

// collect fills the result from the fixed command set. Any single
// command failure leaves that field empty and moves on.
func (p *Prober) collect(result *Result, run runner) {
	if out, err := run("hostname"); err == nil {
		result.Hostname = strings.TrimSpace(out)
	}
	result.OperatingSystem = collectOS(run)
	result.Hardware = collectHardware(run)
	result.InstalledSoftware = collectSoftware(run)
	result.RunningServices = collectServices(run)
	result.NetworkConfig = collectNetwork(run)
}

func collectOS(run runner) map[string]any {
	osInfo := map[string]any{}

	if out, err := run("cat /etc/os-release 2>/dev/null || cat /etc/redhat-release 2>/dev/null"); err == nil {
		for key, value := range parseOSRelease(out) {
			osInfo[key] = value
		}
	}
	if out, err := run("uname -r"); err == nil {
		osInfo["kernel"] = strings.TrimSpace(out)
	}
	if out, err := run("uname -m"); err == nil {
		osInfo["architecture"] = strings.TrimSpace(out)
	}
	return osInfo
}

func parseOSRelease(out string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "NAME":
			fields["name"] = value
		case "VERSION_ID":
			fields["version"] = value
		case "ID":
			fields["distribution"] = value
		}
	}
	return fields
}

func collectHardware(run runner) map[string]any {
	hw := map[string]any{}

	if out, err := run("nproc 2>/dev/null || grep -c processor /proc/cpuinfo"); err == nil {
		if cores, err := strconv.Atoi(strings.TrimSpace(out)); err == nil {
			hw["cpu_cores"] = cores
		}
	}
	if out, err := run("grep 'model name' /proc/cpuinfo | head -1 | cut -d: -f2"); err == nil {
		if model := strings.TrimSpace(out); model != "" {
			hw["cpu_model"] = model
		}
	}
	if out, err := run("free -g | grep Mem | awk '{print $2}'"); err == nil {
		if mem, err := strconv.ParseFloat(strings.TrimSpace(out), 64); err == nil {
			hw["memory_gb"] = mem
		}
	}
	if out, err := run("df -BG / | tail -1 | awk '{print $2, $3}'"); err == nil {
		if parts := strings.Fields(strings.TrimSpace(out)); len(parts) >= 2 {
			if total, err := strconv.ParseFloat(strings.TrimSuffix(parts[0], "G"), 64); err == nil {
				hw["disk_total_gb"] = total
			}
			if used, err := strconv.ParseFloat(strings.TrimSuffix(parts[1], "G"), 64); err == nil {
				hw["disk_used_gb"] = used
			}
		}
	}
	if out, err := run("systemd-detect-virt 2>/dev/null || cat /sys/class/dmi/id/product_name 2>/dev/null"); err == nil {
		if virt := strings.ToLower(strings.TrimSpace(out)); virt != "" {
			if virt == "none" {
				hw["is_virtual"] = false
				hw["virtualization_type"] = "none"
			} else {
				hw["is_virtual"] = true
				hw["virtualization_type"] = virtType(virt)
			}
		}
	}
	return hw
}

func virtType(virt string) string {
	switch {
	case strings.Contains(virt, "vmware"):
		return "vmware"
	case strings.Contains(virt, "kvm"):
		return "kvm"
	case strings.Contains(virt, "hyperv"), strings.Contains(virt, "hyper-v"):
		return "hyperv"
	case strings.Contains(virt, "xen"):
		return "xen"
	case strings.Contains(virt, "docker"):
		return "docker"
	case strings.Contains(virt, "lxc"):
		return "lxc"
	default:
		return "unknown"
	}
}

const packageLimit = 100

func collectSoftware(run runner) []map[string]any {
	if out, err := run(`dpkg-query -W -f='${Package}|${Version}\n' 2>/dev/null | head -100`); err == nil {
		if packages := parsePackages(out, "apt"); len(packages) > 0 {
			return packages
		}
	}
	if out, err := run(`rpm -qa --queryformat '%{NAME}|%{VERSION}\n' 2>/dev/null | head -100`); err == nil {
		if packages := parsePackages(out, "yum"); len(packages) > 0 {
			return packages
		}
	}
	return []map[string]any{}
}

func parsePackages(out, source string) []map[string]any {
	packages := []map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name, version, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		packages = append(packages, map[string]any{
			"name":    name,
			"version": version,
			"type":    "package",
			"source":  source,
		})
		if len(packages) == packageLimit {
			break
		}
	}
	return packages
}

var serviceUnitPattern = regexp.MustCompile(`^(\S+)\.service`)

func collectServices(run runner) []map[string]any {
	services := []map[string]any{}

	if out, err := run("systemctl list-units --type=service --state=running --no-pager --plain 2>/dev/null | head -50"); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if m := serviceUnitPattern.FindStringSubmatch(line); m != nil {
				services = append(services, map[string]any{"name": m[1], "status": "running"})
			}
		}
		if len(services) > 0 {
			return services
		}
	}

	if out, err := run("ps aux --no-headers | awk '{print $11}' | sort -u | head -30"); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			parts := strings.Split(strings.TrimSpace(line), "/")
			name := parts[len(parts)-1]
			if name != "" && !strings.HasPrefix(name, "[") {
				services = append(services, map[string]any{"name": name, "status": "running"})
			}
		}
	}
	return services
}

var interfacePattern = regexp.MustCompile(`(\d+):\s+(\S+)\s+inet\s+(\d+\.\d+\.\d+\.\d+)`)

func collectNetwork(run runner) map[string]any {
	net := map[string]any{"interfaces": []any{}}

	if out, err := run("ip -o addr show 2>/dev/null || ifconfig -a"); err == nil {
		interfaces := []any{}
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if m := interfacePattern.FindStringSubmatch(line); m != nil {
				interfaces = append(interfaces, map[string]any{
					"name":       m[2],
					"ip_address": m[3],
				})
			}
		}
		net["interfaces"] = interfaces
	}
	if out, err := run("ip route | grep default | awk '{print $3}'"); err == nil {
		if gw := strings.TrimSpace(out); gw != "" {
			net["default_gateway"] = gw
		}
	}
	if out, err := run("cat /etc/resolv.conf | grep nameserver | awk '{print $2}'"); err == nil {
		if servers := strings.TrimSpace(out); servers != "" {
			dns := []any{}
			for _, s := range strings.Split(servers, "\n") {
				dns = append(dns, strings.TrimSpace(s))
			}
			net["dns_servers"] = dns
		}
	}
	return net
}

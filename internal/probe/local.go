package probe

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// LocalProber collects the same fact set as the SSH prober, but for the
// host the collector itself runs on. No credentials are involved.
type LocalProber struct {
	log zerolog.Logger
}

func NewLocalProber(log zerolog.Logger) *LocalProber {
	return &LocalProber{log: log}
}

// Probe gathers local host facts. Individual collection failures leave
// fields empty, mirroring the remote prober.
func (p *LocalProber) Probe(serverID string) Result {
	result := Result{
		ProbeID:           uuid.NewString(),
		TargetIP:          "127.0.0.1",
		ServerID:          serverID,
		OperatingSystem:   map[string]any{},
		Hardware:          map[string]any{},
		InstalledSoftware: []map[string]any{},
		RunningServices:   []map[string]any{},
		NetworkConfig:     map[string]any{"interfaces": []any{}},
	}

	if info, err := host.Info(); err == nil {
		result.Hostname = info.Hostname
		result.OperatingSystem = map[string]any{
			"name":         info.Platform,
			"version":      info.PlatformVersion,
			"distribution": info.Platform,
			"kernel":       info.KernelVersion,
			"architecture": info.KernelArch,
		}
		if info.VirtualizationRole == "guest" && info.VirtualizationSystem != "" {
			result.Hardware["is_virtual"] = true
			result.Hardware["virtualization_type"] = virtType(strings.ToLower(info.VirtualizationSystem))
		}
	}

	if cores, err := cpu.Counts(true); err == nil {
		result.Hardware["cpu_cores"] = cores
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		result.Hardware["cpu_model"] = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		result.Hardware["memory_gb"] = float64(vm.Total) / (1 << 30)
	}
	if usage, err := disk.Usage("/"); err == nil {
		result.Hardware["disk_total_gb"] = float64(usage.Total) / (1 << 30)
		result.Hardware["disk_used_gb"] = float64(usage.Used) / (1 << 30)
	}

	if ifaces, err := gopsnet.Interfaces(); err == nil {
		interfaces := []any{}
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				ip, _, _ := strings.Cut(addr.Addr, "/")
				if ip == "" || strings.Contains(ip, ":") {
					continue
				}
				interfaces = append(interfaces, map[string]any{
					"name":       iface.Name,
					"ip_address": ip,
				})
			}
		}
		result.NetworkConfig["interfaces"] = interfaces
	}

	result.Success = true
	p.log.Info().Str("probe_id", result.ProbeID).Msg("Local probe completed")
	return result
}

package util

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo describes the machine the probe runs on. It is logged at
// startup and attached to telemetry so traffic can be traced to a host.
type HostInfo struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	KernelVersion string   `json:"kernel_version,omitempty"`
	Architecture  string   `json:"architecture"`
	CPUModel      string   `json:"cpu_model,omitempty"`
	CPUCores      int      `json:"cpu_cores"`
	TotalMemoryMB uint64   `json:"total_memory_mb,omitempty"`
	Addresses     []string `json:"addresses,omitempty"`
}

// GetHostInfo gathers host information. Fields that cannot be read are
// left empty.
func GetHostInfo() HostInfo {
	info := HostInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.KernelVersion = hostInfo.KernelVersion
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemoryMB = memInfo.Total / (1024 * 1024)
	}

	info.Addresses = localAddresses()
	return info
}

// localAddresses lists the unicast addresses of interfaces that are up,
// loopback excluded.
func localAddresses() []string {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil
	}

	var addrs []string
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil || ip.IsLinkLocalUnicast() {
				continue
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// ProcessUsage is the probe's own resource footprint.
type ProcessUsage struct {
	RSSMB      uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// GetProcessUsage returns resource usage of the current process.
func GetProcessUsage() (*ProcessUsage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	usage := &ProcessUsage{Goroutines: runtime.NumGoroutine()}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	usage.RSSMB = memInfo.RSS / (1024 * 1024)

	if pct, err := p.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if n, err := p.NumThreads(); err == nil {
		usage.Threads = n
	}
	return usage, nil
}

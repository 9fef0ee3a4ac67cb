// Package sysinfo collects host telemetry and wraps the desktop query
// tools (wmctrl, scrot, playerctl, xdg-open). It is a thin collaborator:
// nothing here holds state.
package sysinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/remotectl/agent/internal/execx"
)

// captureTimeout bounds the desktop query tools.
const captureTimeout = 15 * time.Second

// Snapshot is one point-in-time view of the host.
type Snapshot struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform"`
	KernelVersion string    `json:"kernel_version"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	PerCPU        []float64 `json:"per_cpu_percent"`
	MemTotal      uint64    `json:"mem_total"`
	MemUsed       uint64    `json:"mem_used"`
	MemPercent    float64   `json:"mem_percent"`
	DiskTotal     uint64    `json:"disk_total"`
	DiskUsed      uint64    `json:"disk_used"`
	DiskPercent   float64   `json:"disk_percent"`
	NetBytesSent  uint64    `json:"net_bytes_sent"`
	NetBytesRecv  uint64    `json:"net_bytes_recv"`
}

// Process is one running process.
type Process struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	Username   string  `json:"username"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float32 `json:"mem_percent"`
}

// Window is one managed desktop window as reported by wmctrl.
type Window struct {
	ID      string `json:"id"`
	Desktop string `json:"desktop"`
	Title   string `json:"title"`
}

// Collect gathers a telemetry snapshot. Individual probe failures leave
// their fields zeroed rather than failing the whole snapshot.
func Collect() (*Snapshot, error) {
	snap := &Snapshot{}

	if info, err := host.Info(); err == nil {
		snap.Hostname = info.Hostname
		snap.OS = info.OS
		snap.Platform = info.Platform
		snap.KernelVersion = info.KernelVersion
		snap.UptimeSeconds = info.Uptime
	}

	if pcts, err := cpu.Percent(time.Second, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if per, err := cpu.Percent(0, true); err == nil {
		snap.PerCPU = per
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemTotal = vm.Total
		snap.MemUsed = vm.Used
		snap.MemPercent = vm.UsedPercent
	}

	if usage, err := disk.Usage("/"); err == nil {
		snap.DiskTotal = usage.Total
		snap.DiskUsed = usage.Used
		snap.DiskPercent = usage.UsedPercent
	}

	if counters, err := gnet.IOCounters(false); err == nil && len(counters) > 0 {
		snap.NetBytesSent = counters[0].BytesSent
		snap.NetBytesRecv = counters[0].BytesRecv
	}

	return snap, nil
}

// Processes lists running processes. Processes that disappear mid-scan are
// skipped.
func Processes() ([]Process, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		entry := Process{PID: p.Pid, Name: name}
		entry.Username, _ = p.Username()
		entry.CPUPercent, _ = p.CPUPercent()
		entry.MemPercent, _ = p.MemoryPercent()
		out = append(out, entry)
	}
	return out, nil
}

// Kill terminates a process by PID.
func Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	return p.Kill()
}

// Windows returns the managed windows from wmctrl -l.
func Windows() ([]Window, error) {
	result, err := execx.Capture(captureTimeout, "wmctrl", "-l")
	if err != nil {
		return nil, fmt.Errorf("wmctrl: %w", err)
	}

	var windows []Window
	for _, line := range strings.Split(result.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		windows = append(windows, Window{
			ID:      fields[0],
			Desktop: fields[1],
			Title:   strings.Join(fields[3:], " "),
		})
	}
	return windows, nil
}

// Screenshot captures the screen with scrot into dir and returns the
// image path.
func Screenshot(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano()))
	if _, err := execx.Capture(captureTimeout, "scrot", path); err != nil {
		return "", fmt.Errorf("scrot: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		return "", errors.New("scrot produced no image")
	}
	return path, nil
}

// OpenPath opens a file or URL with the desktop's default handler.
func OpenPath(path string) error {
	if _, err := execx.Capture(captureTimeout, "xdg-open", path); err != nil {
		return fmt.Errorf("xdg-open: %w", err)
	}
	return nil
}

// MediaPlayers lists active playerctl-compatible media players.
func MediaPlayers() ([]string, error) {
	result, err := execx.Capture(captureTimeout, "playerctl", "--list-all")
	if err != nil {
		return nil, fmt.Errorf("playerctl: %w", err)
	}

	var players []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			players = append(players, p)
		}
	}
	return players, nil
}

// playerCommands are the playerctl verbs the agent forwards.
var playerCommands = map[string]bool{
	"play": true, "pause": true, "play-pause": true,
	"next": true, "previous": true, "stop": true,
}

// ControlPlayer forwards a transport command to a media player.
func ControlPlayer(player, command string) error {
	if !playerCommands[command] {
		return fmt.Errorf("unsupported player command %q", command)
	}

	args := []string{}
	if player != "" {
		args = append(args, "--player="+player)
	}
	args = append(args, command)

	if _, err := execx.Capture(captureTimeout, "playerctl", args...); err != nil {
		return fmt.Errorf("playerctl %s: %w", command, err)
	}
	return nil
}

// ParsePID converts a string PID, rejecting garbage early.
func ParsePID(s string) (int32, error) {
	pid, err := strconv.ParseInt(s, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return int32(pid), nil
}

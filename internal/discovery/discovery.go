// Package discovery advertises the agent on the local network over mDNS
// and keeps a view of peer agents. Discovery is best-effort: a host with
// no usable interface runs the rest of the agent normally.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type agents advertise under.
const ServiceType = "_remotecontrol._tcp"

const serviceDomain = "local."

// ErrNoNetworkInterface is returned when no non-loopback IPv4 address
// exists to advertise.
var ErrNoNetworkInterface = errors.New("no suitable network interface found")

// DeviceRecord is one observed agent, self included.
type DeviceRecord struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	OS          string `json:"os"`
}

// Beacon owns the advertisement handle and the peer view.
type Beacon struct {
	logger   *slog.Logger
	deviceID string
	hostname string

	mu      sync.RWMutex
	peers   map[string]DeviceRecord // last broadcast wins
	self    *DeviceRecord
	server  *zeroconf.Server
	stopped sync.Once
	cancel  context.CancelFunc
}

// NewBeacon creates a beacon identified by the agent's persisted device ID.
func NewBeacon(logger *slog.Logger, deviceID string) *Beacon {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Beacon{
		logger:   logger,
		deviceID: deviceID,
		hostname: hostname,
		peers:    make(map[string]DeviceRecord),
	}
}

// LoadDeviceID returns the agent's own device ID, generating and persisting
// one under dataDir on first run.
func LoadDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "device_id")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// Start registers the advertisement and begins browsing for peers.
func (b *Beacon) Start(port int) error {
	addr, err := firstNonLoopbackIPv4()
	if err != nil {
		return err
	}

	instance := fmt.Sprintf("%s-%s", b.hostname, b.deviceID)
	txt := []string{
		"device_id=" + b.deviceID,
		"hostname=" + b.hostname,
		"os=" + runtime.GOOS,
	}

	server, err := zeroconf.Register(instance, ServiceType, serviceDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	b.mu.Lock()
	b.server = server
	b.self = &DeviceRecord{
		DeviceID:    b.deviceID,
		DisplayName: b.hostname,
		Address:     addr,
		Port:        port,
		OS:          runtime.GOOS,
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.browse(ctx)

	b.logger.Info("discovery beacon started",
		"instance", instance,
		"address", addr,
		"port", port,
	)
	return nil
}

// Stop withdraws the advertisement. Safe to call repeatedly; the handle is
// released exactly once.
func (b *Beacon) Stop() {
	b.stopped.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.mu.Lock()
		if b.server != nil {
			b.server.Shutdown()
			b.server = nil
		}
		b.mu.Unlock()
		b.logger.Info("discovery beacon stopped")
	})
}

// List returns the current peer view. Always includes self when the beacon
// is running. Non-blocking: this reflects last-known broadcast state.
func (b *Beacon) List() []DeviceRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make([]DeviceRecord, 0, len(b.peers)+1)
	if b.self != nil {
		records = append(records, *b.self)
	}
	for _, r := range b.peers {
		if b.self != nil && r.DeviceID == b.self.DeviceID {
			continue
		}
		records = append(records, r)
	}
	return records
}

// browse keeps the peer map updated from mDNS broadcasts until ctx ends.
func (b *Beacon) browse(ctx context.Context) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		b.logger.Warn("failed to create mdns resolver, peer discovery disabled", "error", err)
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			b.observe(entry)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, serviceDomain, entries); err != nil {
		b.logger.Warn("mdns browse failed", "error", err)
	}
	<-ctx.Done()
}

// observe folds one broadcast into the peer map, last seen wins.
func (b *Beacon) observe(entry *zeroconf.ServiceEntry) {
	record := DeviceRecord{
		DisplayName: entry.Instance,
		Port:        entry.Port,
	}
	for _, kv := range entry.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "device_id":
			record.DeviceID = v
		case "hostname":
			record.DisplayName = v
		case "os":
			record.OS = v
		}
	}
	if len(entry.AddrIPv4) > 0 {
		record.Address = entry.AddrIPv4[0].String()
	}
	if record.DeviceID == "" {
		return
	}

	b.mu.Lock()
	b.peers[record.DeviceID] = record
	b.mu.Unlock()
}

// firstNonLoopbackIPv4 picks the advertised address: the first non-loopback
// IPv4 on any interface.
func firstNonLoopbackIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", ErrNoNetworkInterface
}

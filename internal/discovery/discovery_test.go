package discovery

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestLoadDeviceIDPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadDeviceID(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := LoadDeviceID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second, "device id must be stable across runs")

	data, err := os.ReadFile(filepath.Join(dir, "device_id"))
	require.NoError(t, err)
	assert.Contains(t, string(data), first)
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewBeacon(testLogger(), "test-device")

	// Never started: both calls must be safe no-ops.
	b.Stop()
	b.Stop()
}

func TestListWithoutStartIsEmpty(t *testing.T) {
	b := NewBeacon(testLogger(), "test-device")
	assert.Empty(t, b.List())
}

func TestObserveLastSeenWins(t *testing.T) {
	b := NewBeacon(testLogger(), "self")

	b.observe(&zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "peer-host"},
		Port:          8000,
		Text:          []string{"device_id=peer-1", "hostname=peer-host", "os=linux"},
	})
	b.observe(&zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "peer-host"},
		Port:          9000,
		Text:          []string{"device_id=peer-1", "hostname=peer-host-renamed", "os=linux"},
	})

	records := b.List()
	require.Len(t, records, 1)
	assert.Equal(t, "peer-1", records[0].DeviceID)
	assert.Equal(t, "peer-host-renamed", records[0].DisplayName)
	assert.Equal(t, 9000, records[0].Port)
}

func TestObserveIgnoresEntriesWithoutDeviceID(t *testing.T) {
	b := NewBeacon(testLogger(), "self")

	b.observe(&zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "mystery"},
		Text:          []string{"hostname=mystery"},
	})

	assert.Empty(t, b.List())
}

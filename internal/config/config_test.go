package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.DataDevices)
	require.Equal(t, 2, cfg.ParityDevices)
	require.Equal(t, 6, cfg.N())
	require.Equal(t, 4096, cfg.ChunkSize)
	require.Equal(t, ".", cfg.Root)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RAID_DATA_DEVICES", "6")
	t.Setenv("RAID_PARITY_DEVICES", "3")
	t.Setenv("RAID_CHUNK_SIZE", "1024")
	t.Setenv("RAID_ROOT", "/tmp/raid-data")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 6, cfg.DataDevices)
	require.Equal(t, 3, cfg.ParityDevices)
	require.Equal(t, 9, cfg.N())
	require.Equal(t, 1024, cfg.ChunkSize)
	require.Equal(t, "/tmp/raid-data", cfg.Root)
}

func TestLoadFromFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "raid-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("data_devices: 8\nparity_devices: 4\nchunk_size: 2048\nroot: /data\nlog_level: debug\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	require.Equal(t, 8, cfg.DataDevices)
	require.Equal(t, 4, cfg.ParityDevices)
	require.Equal(t, 12, cfg.N())
	require.Equal(t, 2048, cfg.ChunkSize)
	require.Equal(t, "/data", cfg.Root)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidBounds(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"zero data devices", map[string]string{"RAID_DATA_DEVICES": "0"}},
		{"negative parity devices", map[string]string{"RAID_PARITY_DEVICES": "-1"}},
		{"n exceeds 256", map[string]string{"RAID_DATA_DEVICES": "200", "RAID_PARITY_DEVICES": "100"}},
		{"zero chunk size", map[string]string{"RAID_CHUNK_SIZE": "0"}},
		{"empty root", map[string]string{"RAID_ROOT": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/raid-config.yaml")
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spotchain/crypto"
)

var (
	testSink  = crypto.BytesToAddress([]byte{0x42, 0x01})
	testAdmin = crypto.BytesToAddress([]byte{0x42, 0x02})
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spotd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, DefaultStorageBackend, cfg.StorageBackend)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotd.toml")
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/spot"
StorageBackend = "Bolt"
LogLevel = "DEBUG"
RateLimitPerSecond = 5.0
RPCAuthToken = " s3cret "
AllowFaucet = true

[fees.lending]
RateBps = 200
Sink = "` + testSink.String() + `"
Admin = "` + testAdmin.Hex() + `"

[pauses]
Pool = true

[telemetry]
Endpoint = "collector:4318"
SampleRatio = 0.25
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "bolt", cfg.StorageBackend)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 6, cfg.RateLimitBurst)
	require.Equal(t, "s3cret", cfg.RPCAuthToken)
	require.True(t, cfg.AllowFaucet)
	require.Equal(t, filepath.Join("/var/lib/spot", "state.bolt"), cfg.StatePath())
	require.Equal(t, filepath.Join("/var/lib/spot", DefaultIndexFile), cfg.IndexPath())

	schedule, err := cfg.Fees.Lending.Schedule()
	require.NoError(t, err)
	current := schedule.Current()
	require.EqualValues(t, 200, current.RateBps)
	require.Equal(t, testSink, current.Sink)
	require.Equal(t, testAdmin, current.Admin)

	view := cfg.Pauses.View()
	require.True(t, view.IsPaused("pool"))
	require.False(t, view.IsPaused("lending"))
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotd.yaml")
	contents := `listen: ":7000"
storage_backend: memory
index_file: ":memory:"
fees:
  stream:
    rate_bps: 50
    sink: ` + testSink.String() + `
pauses:
  stream: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, ":memory:", cfg.IndexPath())
	require.EqualValues(t, 50, cfg.Fees.Stream.RateBps)
	require.True(t, cfg.Pauses.Stream)
	require.Empty(t, cfg.RPCAuthToken)
	require.False(t, cfg.AllowFaucet)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown backend":  `StorageBackend = "cassandra"`,
		"unknown field":    `Bogus = 1`,
		"fee without sink": "[fees.pool]\nRateBps = 10",
		"fee too high":     "[fees.pool]\nRateBps = 10001\nSink = \"" + testSink.Hex() + "\"",
		"bad address":      "[fees.stream]\nSink = \"0x1234\"",
		"negative limit":   `RateLimitPerSecond = -1`,
		"sample ratio":     "[telemetry]\nSampleRatio = 2.0",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw), false)
			require.Error(t, err)
		})
	}

	_, err := Parse([]byte("listen: \":1\"\nbogus: 1\n"), true)
	require.Error(t, err)
}

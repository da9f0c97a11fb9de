package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/transport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, transport.DefaultWorkers, cfg.Inputs[0].Workers)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "node.yaml", `
inputs:
  - name: gelf-tcp
    type: tcp
    port: 12201
    newline_delimiter: true
    tls:
      enabled: true
  - name: gelf-udp
    type: udp
    port: 12201
aggregator:
  validity_window: 10s
  check_interval: 500ms
processing:
  capacity: 1024
  output: nats
nats:
  enabled: true
  url: nats://broker:4222
throttle:
  thresholds:
    max_queue_depth: 5000
`)
	l := newTestLoader(nil)
	l.AddLayer(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	require.Len(t, cfg.Inputs, 2)
	assert.Equal(t, transport.TypeTCP, cfg.Inputs[0].Type)
	assert.True(t, cfg.Inputs[0].TLS.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.Inputs[1].Bind)
	assert.Equal(t, 10*time.Second, cfg.Aggregator.ValidityWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Aggregator.CheckInterval)
	assert.Equal(t, 128, cfg.Aggregator.MaxChunks, "unset fields keep defaults")
	assert.Equal(t, 1024, cfg.Processing.Capacity)
	assert.Equal(t, 2, cfg.Processing.Workers)
	assert.Equal(t, int64(5000), cfg.Throttle.Thresholds.MaxQueueDepth)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "node.json", `{
  "inputs": [{"name": "json-udp", "type": "udp", "port": 5140}],
  "aggregator": {"validity_window": "2s"},
  "http": {"addr": ":9191"}
}`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "json-udp", cfg.Inputs[0].Name)
	assert.Equal(t, 2*time.Second, cfg.Aggregator.ValidityWindow)
	assert.Equal(t, ":9191", cfg.HTTP.Addr)
}

func TestLoader_LayersOverride(t *testing.T) {
	base := writeFile(t, "base.yaml", "http:\n  addr: \":9000\"\naggregator:\n  max_chunks: 64\n")
	over := writeFile(t, "over.yaml", "http:\n  addr: \":9001\"\n")

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(over)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.HTTP.Addr)
	assert.Equal(t, 64, cfg.Aggregator.MaxChunks)
}

func TestLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"LOGSTREAMS_NATS_URL":  "nats://env:4222",
		"LOGSTREAMS_HTTP_ADDR": ":7070",
	})
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "bogus: 1\n"},
		{"malformed yaml", "inputs: [\n"},
		{"bad duration", "aggregator:\n  validity_window: soon\n"},
		{"no inputs", "inputs: []\n"},
		{"duplicate names", `
inputs:
  - {name: a, type: udp, port: 1000}
  - {name: a, type: udp, port: 1001}
`},
		{"shared port", `
inputs:
  - {name: a, type: udp, port: 1000}
  - {name: b, type: udp, port: 1000}
`},
		{"tls on udp", `
inputs:
  - {name: a, type: udp, port: 1000, tls: {enabled: true}}
`},
		{"nats output without nats", "processing:\n  output: nats\n"},
		{"zero window", "aggregator:\n  validity_window: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, "bad.yaml", tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidate_SamePortDifferentProtocols(t *testing.T) {
	cfg := Default()
	cfg.Inputs = append(cfg.Inputs, transport.Config{Name: "gelf-tcp", Type: transport.TypeTCP, Port: 12201})
	assert.NoError(t, cfg.Validate())
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "***")
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

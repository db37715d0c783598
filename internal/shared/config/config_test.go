package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "localhost:4730", cfg.Client.Servers)
	require.Equal(t, 30*time.Second, cfg.Client.Timeout)
	require.False(t, cfg.Client.NonBlocking)
	require.Equal(t, []string{"wordcount", "reverse", "upper"}, cfg.Worker.Functions)
	require.Equal(t, 1, cfg.Worker.Concurrency)
	require.Equal(t, time.Second, cfg.Worker.Timeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.False(t, cfg.Metrics.Enabled)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gearlink.yaml")
	content := `
client:
  servers: "jobs-1:4730,jobs-2:4731"
  timeout: 2s
worker:
  functions: [upper]
  concurrency: 4
  function_timeout: 250ms
logging:
  level: debug
  format: text
metrics:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("GEARLINK_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "jobs-1:4730,jobs-2:4731", cfg.Client.Servers)
	require.Equal(t, 2*time.Second, cfg.Client.Timeout)
	require.Equal(t, []string{"upper"}, cfg.Worker.Functions)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.FunctionTimeout)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  concurrency: 0\n"), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "worker.concurrency")
}

func TestValidate(t *testing.T) {
	valid := Config{
		Client:  ClientConfig{Servers: "localhost:4730"},
		Worker:  WorkerConfig{Concurrency: 1},
		Logging: LoggingConfig{Format: "json"},
	}
	require.NoError(t, valid.Validate())

	noServers := valid
	noServers.Client.Servers = ""
	require.Error(t, noServers.Validate())

	badFormat := valid
	badFormat.Logging.Format = "xml"
	require.ErrorContains(t, badFormat.Validate(), "logging.format")
}

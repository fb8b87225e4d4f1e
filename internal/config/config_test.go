package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:7878", cfg.GetUDPAddress())
	assert.Equal(t, DefaultRcvBuf, cfg.GetRcvBuf())
	assert.Equal(t, 10*time.Second, cfg.GetLogInterval())
	assert.Equal(t, 4, cfg.GetWorkers())
	assert.Equal(t, "", cfg.GetForwardAddr())
	assert.Equal(t, 0, cfg.GetReorderWindow())
	assert.Equal(t, "forza_telemetry.db", cfg.GetDBPath())
	assert.Equal(t, time.Second, cfg.GetFlushInterval())
	assert.Equal(t, 120, cfg.GetBatchSize())
	assert.Equal(t, "", cfg.GetRecordDir())
	assert.Equal(t, ":8090", cfg.GetHTTPListen())
	assert.Equal(t, "kph", cfg.GetSpeedUnits())
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, cfg.Validate())
	def := DefaultConfig()
	assert.Equal(t, def.GetUDPAddress(), cfg.GetUDPAddress())
	assert.Equal(t, def.GetLogInterval(), cfg.GetLogInterval())
	assert.Equal(t, def.GetWorkers(), cfg.GetWorkers())
	assert.Equal(t, def.GetDBPath(), cfg.GetDBPath())
	assert.Equal(t, def.GetHTTPListen(), cfg.GetHTTPListen())
	assert.Equal(t, def.GetSpeedUnits(), cfg.GetSpeedUnits())
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forza.json")
	testJSON := `{
  "udp_address": "127.0.0.1:9999",
  "log_interval": "30s",
  "workers": 8,
  "speed_units": "mph"
}`
	require.NoError(t, os.WriteFile(path, []byte(testJSON), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.GetUDPAddress())
	assert.Equal(t, 30*time.Second, cfg.GetLogInterval())
	assert.Equal(t, 8, cfg.GetWorkers())
	assert.Equal(t, "mph", cfg.GetSpeedUnits())
	// Omitted fields keep defaults.
	assert.Equal(t, DefaultDBPath, cfg.GetDBPath())
}

func TestLoadConfig_YAML(t *testing.T) {
	for _, ext := range []string{".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "forza"+ext)
			testYAML := "forward_addr: 192.168.1.20:5301\nreorder_window: 16\ndb_path: /tmp/t.db\nflush_interval: 250ms\n"
			require.NoError(t, os.WriteFile(path, []byte(testYAML), 0644))

			cfg, err := LoadConfig(path)
			require.NoError(t, err)

			assert.Equal(t, "192.168.1.20:5301", cfg.GetForwardAddr())
			assert.Equal(t, 16, cfg.GetReorderWindow())
			assert.Equal(t, "/tmp/t.db", cfg.GetDBPath())
			assert.Equal(t, 250*time.Millisecond, cfg.GetFlushInterval())
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		errMsg  string
	}{
		{"bad extension", "forza.toml", "x = 1", "extension"},
		{"missing file", "missing.json", "", "failed to stat"},
		{"bad json", "bad.json", "{not json", "failed to parse"},
		{"bad yaml", "bad.yaml", "workers: [1", "failed to parse"},
		{"invalid duration", "dur.json", `{"log_interval": "soon"}`, "invalid log_interval"},
		{"zero workers", "workers.json", `{"workers": 0}`, "workers must be at least 1"},
		{"unknown units", "units.yaml", "speed_units: furlongs\n", "speed_units"},
		{"negative window", "win.json", `{"reorder_window": -1}`, "reorder_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.content != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			}
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.json")
	big := `{"db_path": "` + strings.Repeat("a", 1024*1024) + `"}`
	require.NoError(t, os.WriteFile(path, []byte(big), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidate_FlushIntervalMustBePositive(t *testing.T) {
	cfg := &Config{FlushInterval: ptrString("0s")}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush_interval must be positive")
}

func TestGetLogInterval_InvalidFallsBack(t *testing.T) {
	cfg := &Config{LogInterval: ptrString("whenever")}
	assert.Equal(t, 10*time.Second, cfg.GetLogInterval())
}

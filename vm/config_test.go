package vm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/heap"
)

func TestParseConfigOverridesTunables(t *testing.T) {
	cfg, err := ParseConfig([]byte("gc_threshold: 500\nmax_call_depth: 128\ntime_limit_secs: 30\n"))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.GCThreshold)
	assert.Equal(t, 128, cfg.MaxCallDepth)
	assert.Equal(t, 30, cfg.TimeLimitSecs)
}

func TestParseConfigKeepsDefaultsForAbsentFields(t *testing.T) {
	cfg, err := ParseConfig([]byte("max_call_depth: 64\n"))
	require.NoError(t, err)
	assert.Equal(t, heap.DefaultThreshold, cfg.GCThreshold)
	assert.Equal(t, 64, cfg.MaxCallDepth)
	assert.Equal(t, 0, cfg.TimeLimitSecs)
}

func TestParseConfigRejectsMalformedYAML(t *testing.T) {
	_, err := ParseConfig([]byte("gc_threshold: [not a number"))
	assert.Error(t, err)
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gc_threshold: 42\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.GCThreshold)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

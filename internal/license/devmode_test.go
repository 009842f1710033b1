package license

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qacli/internal/config"
)

func TestIsDeveloperMode(t *testing.T) {
	t.Run("off by default", func(t *testing.T) {
		cfg := testConfig(t)
		assert.False(t, NewBypassSwitch(cfg).IsDeveloperMode())
	})

	t.Run("env flag enables outside production", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.License.DeveloperMode = true
		assert.True(t, NewBypassSwitch(cfg).IsDeveloperMode())
	})

	t.Run("valid marker file enables outside production", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, WriteDevMarker(cfg.GetPaths().DevMarker))
		assert.True(t, NewBypassSwitch(cfg).IsDeveloperMode())
	})

	t.Run("empty marker file does not enable", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.WriteFile(cfg.GetPaths().DevMarker, nil, 0600))
		assert.False(t, NewBypassSwitch(cfg).IsDeveloperMode())
	})

	t.Run("marker with wrong content does not enable", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.WriteFile(cfg.GetPaths().DevMarker, []byte("enable please"), 0600))
		assert.False(t, NewBypassSwitch(cfg).IsDeveloperMode())
	})

	t.Run("production ignores flag and marker", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Environment = config.EnvProduction
		cfg.License.DeveloperMode = true
		require.NoError(t, WriteDevMarker(cfg.GetPaths().DevMarker))

		assert.False(t, NewBypassSwitch(cfg).IsDeveloperMode())
	})

	t.Run("nil switch is off", func(t *testing.T) {
		var b *BypassSwitch
		assert.False(t, b.IsDeveloperMode())
	})
}

func TestWriteDevMarker(t *testing.T) {
	cfg := testConfig(t)
	path := cfg.GetPaths().DevMarker

	require.NoError(t, WriteDevMarker(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Trailing newline in the file is tolerated by the check.
	assert.True(t, NewBypassSwitch(cfg).IsDeveloperMode())
}

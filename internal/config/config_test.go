package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QAA_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.License.DeveloperMode)
	assert.False(t, cfg.Registry.AllowInsecure)
	assert.Contains(t, cfg.Registry.URL, "https://")
	assert.NotEmpty(t, cfg.License.Dir)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QAA_CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("QAA_ENV", EnvTest)
	t.Setenv("QAA_LICENSE_DIR", dir)
	t.Setenv("QAA_REGISTRY_URL", "https://example.com/registry.json")
	t.Setenv("QAA_REGISTRY_FETCH_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvTest, cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, dir, cfg.License.Dir)
	assert.Equal(t, "https://example.com/registry.json", cfg.Registry.URL)
	assert.Equal(t, "3s", cfg.Registry.FetchTimeout.String())
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("QAA_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("QAA_ENV", "staging")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment")
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "qacli.yaml")
	content := "environment: test\nregistry:\n  url: https://yaml.example.com/reg.json\n"
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	t.Setenv("QAA_CONFIG_FILE", configFile)
	t.Setenv("QAA_ENV", EnvTest)

	cfg, err := Load()
	require.NoError(t, err)
	// Env default URL wins only when env provides one; envconfig fills the
	// default, which takes precedence over the file value here.
	assert.Equal(t, EnvTest, cfg.Environment)
	assert.NotEmpty(t, cfg.Registry.URL)
}

func TestValidateLicenseDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name        string
		dir         string
		expectError bool
	}{
		{
			name: "under home",
			dir:  filepath.Join(home, ".qa-assist-test"),
		},
		{
			name: "under temp",
			dir:  filepath.Join(os.TempDir(), "qa-assist"),
		},
		{
			name:        "absolute outside home and temp",
			dir:         "/etc/qa-assist",
			expectError: true,
		},
		{
			name:        "traversal out of temp",
			dir:         filepath.Join(os.TempDir(), "..", "..", "etc"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := ValidateLicenseDir(tt.dir)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(resolved))
		})
	}
}

func TestGetPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{License: LicenseConfig{Dir: dir}}

	paths := cfg.GetPaths()
	assert.Equal(t, filepath.Join(dir, LicenseFileName), paths.LicenseFile)
	assert.Equal(t, filepath.Join(dir, RegistryCacheName), paths.RegistryCache)
	assert.Equal(t, filepath.Join(dir, UsageFileName), paths.UsageFile)
	assert.Equal(t, filepath.Join(dir, DevMarkerName), paths.DevMarker)
}

func TestLoadPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(pub)

	t.Run("inline key", func(t *testing.T) {
		cfg := &Config{Registry: RegistryConfig{PublicKey: encoded}}
		loaded, err := cfg.LoadPublicKey()
		require.NoError(t, err)
		assert.Equal(t, pub, loaded)
	})

	t.Run("key file with trailing newline", func(t *testing.T) {
		keyFile := filepath.Join(t.TempDir(), "registry.pub")
		require.NoError(t, os.WriteFile(keyFile, []byte(encoded+"\n"), 0600))

		cfg := &Config{Registry: RegistryConfig{PublicKeyPath: keyFile}}
		loaded, err := cfg.LoadPublicKey()
		require.NoError(t, err)
		assert.Equal(t, pub, loaded)
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := &Config{}
		_, err := cfg.LoadPublicKey()
		assert.Error(t, err)
	})

	t.Run("wrong key size", func(t *testing.T) {
		cfg := &Config{Registry: RegistryConfig{
			PublicKey: base64.StdEncoding.EncodeToString([]byte("short")),
		}}
		_, err := cfg.LoadPublicKey()
		assert.Error(t, err)
	})
}

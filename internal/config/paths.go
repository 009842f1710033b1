package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known file names inside the license directory.
// This is the single source of truth for licensing file paths.
const (
	LicenseFileName   = "license.json"
	RegistryCacheName = "legitimate-licenses.json"
	UsageFileName     = "usage.json"
	DevMarkerName     = ".qa-dev-mode"
)

// DefaultLicenseDirName is the directory created under the user's home.
const DefaultLicenseDirName = ".qa-assist"

// Paths contains the resolved licensing file paths.
type Paths struct {
	LicenseDir    string
	LicenseFile   string
	RegistryCache string
	UsageFile     string
	DevMarker     string
}

// resolvePaths resolves the license directory, applying the default when no
// override is configured and validating any override against traversal.
func (c *Config) resolvePaths() error {
	dir := c.License.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultLicenseDirName)
	} else {
		validated, err := ValidateLicenseDir(dir)
		if err != nil {
			return err
		}
		dir = validated
	}

	c.License.Dir = dir
	return nil
}

// ValidateLicenseDir checks that an overridden license directory resolves
// within the user's home directory or the system temp directory. A malicious
// override must not be able to point license writes at arbitrary paths.
func ValidateLicenseDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve license dir: %w", err)
	}
	abs = filepath.Clean(abs)

	allowed := []string{os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		allowed = append(allowed, home)
	}

	for _, root := range allowed {
		root = filepath.Clean(root)
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}

	return "", fmt.Errorf("license dir %q must resolve within the home or temp directory", dir)
}

// GetPaths returns the resolved licensing paths for this configuration.
func (c *Config) GetPaths() Paths {
	dir := c.License.Dir
	return Paths{
		LicenseDir:    dir,
		LicenseFile:   filepath.Join(dir, LicenseFileName),
		RegistryCache: filepath.Join(dir, RegistryCacheName),
		UsageFile:     filepath.Join(dir, UsageFileName),
		DevMarker:     filepath.Join(dir, DevMarkerName),
	}
}

// EnsureLicenseDir creates the license directory if it does not exist.
func (c *Config) EnsureLicenseDir() error {
	if err := os.MkdirAll(c.License.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create license dir: %w", err)
	}
	return nil
}

// FileExists reports whether a file exists at the given path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

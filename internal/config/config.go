package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Environment names accepted in Config.Environment. Production hard-disables
// the developer bypass at the signature-verification layer.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config represents the complete licensing configuration. It is resolved
// exactly once at process start by Load; nothing else in the codebase reads
// environment variables.
type Config struct {
	Environment string         `yaml:"environment" envconfig:"ENV" default:"production"`
	License     LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Registry    RegistryConfig `yaml:"registry" envconfig:"REGISTRY"`
	Logging     LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// LicenseConfig contains local license storage configuration.
type LicenseConfig struct {
	Dir           string `yaml:"dir" envconfig:"DIR"`
	DeveloperMode bool   `yaml:"developer_mode" envconfig:"DEV_MODE" default:"false"`
}

// RegistryConfig contains remote registry configuration.
type RegistryConfig struct {
	URL           string        `yaml:"url" envconfig:"URL" default:"https://registry.qa-assist.dev/legitimate-licenses.json"`
	PublicKey     string        `yaml:"public_key" envconfig:"PUBLIC_KEY"`
	PublicKeyPath string        `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`
	AllowInsecure bool          `yaml:"allow_insecure" envconfig:"ALLOW_INSECURE" default:"false"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"10s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/qacli.log"`
}

// Load loads configuration from environment variables (QAA prefix) and an
// optional YAML config file. Environment variables take precedence.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("QAA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence).
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.License.Dir == "" {
		envConfig.License.Dir = fileConfig.License.Dir
	}
	if envConfig.Registry.URL == "" {
		envConfig.Registry.URL = fileConfig.Registry.URL
	}
	if envConfig.Registry.PublicKey == "" {
		envConfig.Registry.PublicKey = fileConfig.Registry.PublicKey
	}
	if envConfig.Registry.PublicKeyPath == "" {
		envConfig.Registry.PublicKeyPath = fileConfig.Registry.PublicKeyPath
	}
	if envConfig.Registry.FetchTimeout == 0 {
		envConfig.Registry.FetchTimeout = fileConfig.Registry.FetchTimeout
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}

	return envConfig
}

// validate performs semantic validation on the resolved configuration.
func (c *Config) validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("invalid environment %q: must be one of %s, %s, %s",
			c.Environment, EnvProduction, EnvDevelopment, EnvTest)
	}

	if c.Registry.FetchTimeout <= 0 {
		return fmt.Errorf("registry fetch timeout must be positive, got %s", c.Registry.FetchTimeout)
	}

	if c.Registry.PublicKey != "" && c.Registry.PublicKeyPath != "" {
		return fmt.Errorf("registry public key and public key path are mutually exclusive")
	}

	return nil
}

// IsProduction reports whether the resolved environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// LoadPublicKey resolves the registry verification key from the inline
// base64 value or the configured file path. Returns an error when neither is
// configured or when the decoded key is not a valid Ed25519 public key.
func (c *Config) LoadPublicKey() (ed25519.PublicKey, error) {
	encoded := c.Registry.PublicKey

	if encoded == "" && c.Registry.PublicKeyPath != "" {
		data, err := os.ReadFile(c.Registry.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		encoded = string(data)
	}

	if encoded == "" {
		return nil, fmt.Errorf("no registry public key configured")
	}

	decoded, err := base64.StdEncoding.DecodeString(trimKey(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode registry public key: %w", err)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("registry public key must be %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

func trimKey(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}

// getConfigFilePath returns the path to the optional config file.
func getConfigFilePath() string {
	if path := os.Getenv("QAA_CONFIG_FILE"); path != "" {
		return path
	}
	return "qacli.yaml"
}

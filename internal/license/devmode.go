package license

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"qacli/internal/config"
)

// Developer bypass marker file parameters. The marker content is an HMAC so
// a stray empty file in the license directory does not grant bypass.
const (
	devMarkerSecret  = "qa-assist-dev-marker-2025"
	devMarkerSalt    = "qacli-dev-marker-v1"
	devMarkerContext = "qa-assist developer mode"
	devMarkerRounds  = 4096
)

// BypassSwitch is the explicit escape hatch for the maintainer. It grants
// full entitlement without a signed license, and is unconditionally ignored
// when the environment is production.
type BypassSwitch struct {
	environment string
	envFlag     bool
	markerPath  string
}

// NewBypassSwitch creates the switch from resolved configuration.
func NewBypassSwitch(cfg *config.Config) *BypassSwitch {
	return &BypassSwitch{
		environment: cfg.Environment,
		envFlag:     cfg.License.DeveloperMode,
		markerPath:  cfg.GetPaths().DevMarker,
	}
}

// IsDeveloperMode reports whether the developer bypass is active: the
// configured flag is set or a valid marker file exists in the license
// directory. Always false in production.
func (b *BypassSwitch) IsDeveloperMode() bool {
	if b == nil || b.environment == config.EnvProduction {
		return false
	}
	if b.envFlag {
		return true
	}
	return b.markerValid()
}

func (b *BypassSwitch) markerValid() bool {
	data, err := os.ReadFile(b.markerPath)
	if err != nil {
		return false
	}
	return hmac.Equal(bytes.TrimSpace(data), []byte(devMarkerValue()))
}

// WriteDevMarker writes a valid developer marker file. Maintainer and test
// flows only.
func WriteDevMarker(path string) error {
	return os.WriteFile(path, []byte(devMarkerValue()+"\n"), 0600)
}

func devMarkerValue() string {
	key := pbkdf2.Key([]byte(devMarkerSecret), []byte(devMarkerSalt), devMarkerRounds, 32, sha256.New)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(devMarkerContext))
	return hex.EncodeToString(mac.Sum(nil))
}

package license

import (
	"regexp"
	"strings"
)

// LicenseKeyPattern is the single shared pattern for QA Assist license keys:
// QAA-XXXX-XXXX-XXXX-XXXX with uppercase alphanumeric segments. Never
// redefine this per call site.
const LicenseKeyPattern = `^QAA(?:-[A-Z0-9]{4}){4}$`

var licenseKeyRegexp = regexp.MustCompile(LicenseKeyPattern)

// Tier is a subscription tier.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierTeam       Tier = "TEAM"
	TierEnterprise Tier = "ENTERPRISE"
)

// KnownTier reports whether t is one of the defined tiers.
func KnownTier(t Tier) bool {
	switch t {
	case TierFree, TierPro, TierTeam, TierEnterprise:
		return true
	}
	return false
}

// LicensePayload is the exact structure whose canonical serialization is
// signed. It is immutable once signed; signer and verifier both reconstruct
// it from source fields rather than trusting a serialized blob at rest.
type LicensePayload struct {
	LicenseKey string `json:"licenseKey"`
	Tier       string `json:"tier"`
	IsFounder  bool   `json:"isFounder"`
	EmailHash  string `json:"emailHash,omitempty"`
	Issued     string `json:"issued"`
}

// LicenseRecord is the locally persisted, signed proof of entitlement.
// A record lacking both Payload and Signature is never trusted.
type LicenseRecord struct {
	LicenseKey string          `json:"licenseKey"`
	Tier       string          `json:"tier"`
	IsFounder  bool            `json:"isFounder"`
	Email      string          `json:"email,omitempty"`
	Activated  string          `json:"activated,omitempty"`
	Expires    string          `json:"expires,omitempty"`
	Payload    *LicensePayload `json:"payload,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	Source     string          `json:"source,omitempty"`
	VerifiedAt string          `json:"verifiedAt,omitempty"`

	// Annotated at load time, never persisted.
	Valid      bool   `json:"-"`
	Diagnostic string `json:"-"`
}

// Signed reports whether the record carries both payload and signature.
func (r *LicenseRecord) Signed() bool {
	return r != nil && r.Payload != nil && r.Signature != ""
}

// LicenseInfo is the single authoritative entitlement result consumed by
// every feature-gate call site. It is always fully formed; ambiguity
// resolves to the FREE tier with a diagnostic, never to a paid tier.
type LicenseInfo struct {
	Tier       Tier   `json:"tier"`
	Valid      bool   `json:"valid"`
	IsFounder  bool   `json:"isFounder,omitempty"`
	LicenseKey string `json:"licenseKey,omitempty"`
	Email      string `json:"email,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NormalizeLicenseKey trims and uppercases a key before any comparison.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKeyFormat reports whether the normalized key matches LicenseKeyPattern.
func ValidKeyFormat(key string) bool {
	return licenseKeyRegexp.MatchString(NormalizeLicenseKey(key))
}

// MaskLicenseKey masks a license key for logs and display (QAA-XXXX-****-****-****).
func MaskLicenseKey(key string) string {
	if len(key) < 8 {
		return "****"
	}
	parts := strings.Split(key, "-")
	if len(parts) < 3 {
		return key[:4] + "****"
	}
	masked := parts[0] + "-" + parts[1]
	for i := 2; i < len(parts); i++ {
		masked += "-****"
	}
	return masked
}

// maskEmail masks an email address while preserving the domain.
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at == -1 {
		return "****"
	}
	user := email[:at]
	if len(user) <= 2 {
		return "**" + email[at:]
	}
	return user[:1] + "****" + user[len(user)-1:] + email[at:]
}

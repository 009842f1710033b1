package license

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"qacli/internal/config"
)

// ErrCircularReference is returned by StableStringify when an object
// reference repeats during recursion. Canonical serialization of a cyclic
// structure is a hard precondition violation, not a best-effort case.
var ErrCircularReference = errors.New("stable stringify: circular reference")

// StableStringify produces a deterministic JSON serialization: object keys
// sorted lexicographically, arrays in original order, primitives encoded
// with the standard JSON encoder. The output is invariant to map insertion
// order, which makes it a stable signature target.
func StableStringify(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, reflect.ValueOf(v), make(map[uintptr]struct{})); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v reflect.Value, seen map[uintptr]struct{}) error {
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return writeCanonical(buf, v.Elem(), seen)

	case reflect.Pointer:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok {
			return ErrCircularReference
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return writeCanonical(buf, v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("stable stringify: unsupported map key type %s", v.Type().Key())
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok {
			return ErrCircularReference
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v.MapIndex(reflect.ValueOf(k)), seen); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case reflect.Slice:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte keeps the standard base64 encoding.
			encoded, err := json.Marshal(v.Interface())
			if err != nil {
				return err
			}
			buf.Write(encoded)
			return nil
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok {
			return ErrCircularReference
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return writeCanonicalList(buf, v, seen)

	case reflect.Array:
		return writeCanonicalList(buf, v, seen)

	case reflect.Struct:
		// Structs go through the standard encoder to honor json tags, then
		// are re-canonicalized so field order is sorted.
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return err
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		return writeCanonical(buf, reflect.ValueOf(decoded), seen)

	default:
		encoded, err := json.Marshal(v.Interface())
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}

func writeCanonicalList(buf *bytes.Buffer, v reflect.Value, seen map[uintptr]struct{}) error {
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, v.Index(i), seen); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// BuildLicensePayload validates the source fields and constructs the
// payload. Malformed input is rejected at construction time so a bad
// payload can never silently produce a verifiable-but-meaningless signature.
func BuildLicensePayload(licenseKey, tier string, isFounder bool, emailHash, issued string) (LicensePayload, error) {
	if strings.TrimSpace(licenseKey) == "" {
		return LicensePayload{}, fmt.Errorf("build payload: licenseKey is required")
	}
	if strings.TrimSpace(tier) == "" {
		return LicensePayload{}, fmt.Errorf("build payload: tier is required")
	}
	if strings.TrimSpace(issued) == "" {
		return LicensePayload{}, fmt.Errorf("build payload: issued is required")
	}

	return LicensePayload{
		LicenseKey: NormalizeLicenseKey(licenseKey),
		Tier:       tier,
		IsFounder:  isFounder,
		EmailHash:  emailHash,
		Issued:     issued,
	}, nil
}

// payloadCanonical returns the canonical signature target for a payload.
// EmailHash is included only when present, matching BuildLicensePayload.
func payloadCanonical(p LicensePayload) (map[string]any, error) {
	if p.LicenseKey == "" || p.Tier == "" || p.Issued == "" {
		return nil, fmt.Errorf("canonical payload: incomplete payload")
	}
	m := map[string]any{
		"licenseKey": p.LicenseKey,
		"tier":       p.Tier,
		"isFounder":  p.IsFounder,
		"issued":     p.Issued,
	}
	if p.EmailHash != "" {
		m["emailHash"] = p.EmailHash
	}
	return m, nil
}

// SignPayload signs the canonical serialization of the payload and returns
// the base64-encoded Ed25519 signature.
func SignPayload(p LicensePayload, key ed25519.PrivateKey) (string, error) {
	canonical, err := payloadCanonical(p)
	if err != nil {
		return "", err
	}
	data, err := StableStringify(canonical)
	if err != nil {
		return "", err
	}
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("sign payload: invalid private key size %d", len(key))
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, data)), nil
}

// HashEmail normalizes (trim + lowercase) and SHA-256 hex-encodes an email
// so the registry never stores plaintext addresses. Returns "" for empty or
// invalid input.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Signer performs signature verification with environment-aware bypass
// containment. Verification failures are data at this layer: every
// cryptographic or decoding problem is converted to false, never an error.
type Signer struct {
	environment string
	devMode     *BypassSwitch
}

// NewSigner creates a Signer for the given environment. devMode may be nil.
func NewSigner(environment string, devMode *BypassSwitch) *Signer {
	return &Signer{environment: environment, devMode: devMode}
}

// bypassActive reports whether the developer bypass short-circuits
// verification. In production this is unconditionally false regardless of
// env var or marker file, so code paths that forget to check bypass status
// explicitly still fail closed.
func (s *Signer) bypassActive() bool {
	if s.environment == config.EnvProduction {
		return false
	}
	return s.devMode != nil && s.devMode.IsDeveloperMode()
}

// VerifyPayload verifies a detached signature over the canonical payload.
func (s *Signer) VerifyPayload(p LicensePayload, signature string, pub ed25519.PublicKey) bool {
	if s.bypassActive() {
		return true
	}
	canonical, err := payloadCanonical(p)
	if err != nil {
		return false
	}
	data, err := StableStringify(canonical)
	if err != nil {
		return false
	}
	return verifyDetached(data, signature, pub)
}

// VerifyRegistrySignature verifies the registry-level signature over the
// canonical entry set.
func (s *Signer) VerifyRegistrySignature(entries map[string]RegistryEntry, signature string, pub ed25519.PublicKey) bool {
	if s.bypassActive() {
		return true
	}
	data, err := canonicalEntryBytes(entries)
	if err != nil {
		return false
	}
	return verifyDetached(data, signature, pub)
}

func signDetached(data []byte, key ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, data))
}

func verifyDetached(data []byte, signature string, pub ed25519.PublicKey) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

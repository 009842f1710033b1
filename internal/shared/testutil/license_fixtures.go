package testutil

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"qacli/internal/config"
	"qacli/internal/license"
)

// ValidTestKey is a well-formed license key usable across tests.
const ValidTestKey = "QAA-TEST-1234-ABCD-5678"

// Keypair holds fixture Ed25519 key material for signing registries and
// license records in tests.
type Keypair struct {
	Pub       ed25519.PublicKey
	Priv      ed25519.PrivateKey
	PubBase64 string
}

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair(t *testing.T) Keypair {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return Keypair{
		Pub:       pub,
		Priv:      priv,
		PubBase64: base64.StdEncoding.EncodeToString(pub),
	}
}

// TestConfig returns a fully resolved test configuration with an isolated
// license directory under t.TempDir and the fixture public key wired in.
func TestConfig(t *testing.T, kp Keypair) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Environment: config.EnvTest,
		License: config.LicenseConfig{
			Dir: t.TempDir(),
		},
		Registry: config.RegistryConfig{
			URL:           "https://registry.example.test/legitimate-licenses.json",
			PublicKey:     kp.PubBase64,
			FetchTimeout:  5 * time.Second,
			AllowInsecure: true,
		},
	}
	return cfg
}

// SignedEntry builds a registry entry whose signature verifies under the
// fixture keypair.
func SignedEntry(t *testing.T, kp Keypair, key, tier, email string, isFounder bool) license.RegistryEntry {
	t.Helper()

	issued := time.Now().UTC().Format(time.RFC3339)
	emailHash := license.HashEmail(email)

	payload, err := license.BuildLicensePayload(key, tier, isFounder, emailHash, issued)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	sig, err := license.SignPayload(payload, kp.Priv)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	return license.RegistryEntry{
		Tier:       tier,
		IsFounder:  isFounder,
		EmailHash:  emailHash,
		Issued:     issued,
		Signature:  sig,
		CustomerID: "cus_test",
	}
}

// SignedRegistry assembles a registry document with a valid hash and
// registry-level signature over the given entries.
func SignedRegistry(t *testing.T, kp Keypair, entries map[string]license.RegistryEntry) license.Registry {
	t.Helper()

	hash, err := license.HashRegistryEntries(entries)
	if err != nil {
		t.Fatalf("hash registry entries: %v", err)
	}
	sig, err := license.SignRegistryEntries(entries, kp.Priv)
	if err != nil {
		t.Fatalf("sign registry entries: %v", err)
	}

	return license.Registry{
		Metadata: license.RegistryMetadata{
			Version:           "1.0",
			Hash:              hash,
			RegistrySignature: sig,
			LastUpdate:        time.Now().UTC().Format(time.RFC3339),
		},
		Entries: entries,
	}
}

// RegistryBody marshals a registry into its wire JSON.
func RegistryBody(t *testing.T, reg license.Registry) []byte {
	t.Helper()

	body, err := json.Marshal(reg)
	if err != nil {
		t.Fatalf("marshal registry: %v", err)
	}
	return body
}

// SignedRecord builds a local license record that verifies under the
// fixture keypair.
func SignedRecord(t *testing.T, kp Keypair, key, tier, email string) *license.LicenseRecord {
	t.Helper()

	issued := time.Now().UTC().Format(time.RFC3339)
	payload, err := license.BuildLicensePayload(key, tier, false, license.HashEmail(email), issued)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	sig, err := license.SignPayload(payload, kp.Priv)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	return &license.LicenseRecord{
		LicenseKey: license.NormalizeLicenseKey(key),
		Tier:       tier,
		Email:      email,
		Activated:  issued,
		Payload:    &payload,
		Signature:  sig,
		Source:     "registry",
	}
}

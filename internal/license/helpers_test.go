package license

import (
	"crypto/ed25519"
	"testing"
	"time"

	"qacli/internal/config"
)

const testKey = "QAA-AAAA-BBBB-CCCC-DDDD"

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return pub, priv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: config.EnvTest,
		License:     config.LicenseConfig{Dir: t.TempDir()},
		Registry: config.RegistryConfig{
			URL:          "https://registry.example.test/legitimate-licenses.json",
			FetchTimeout: 5 * time.Second,
		},
	}
}

func testSigner(cfg *config.Config) *Signer {
	return NewSigner(cfg.Environment, NewBypassSwitch(cfg))
}

func signedTestRecord(t *testing.T, priv ed25519.PrivateKey, key, tier string) *LicenseRecord {
	t.Helper()

	issued := time.Now().UTC().Format(time.RFC3339)
	payload, err := BuildLicensePayload(key, tier, false, "", issued)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	sig, err := SignPayload(payload, priv)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	return &LicenseRecord{
		LicenseKey: NormalizeLicenseKey(key),
		Tier:       tier,
		Activated:  issued,
		Payload:    &payload,
		Signature:  sig,
		Source:     "registry",
	}
}

func signedTestEntry(t *testing.T, priv ed25519.PrivateKey, key, tier, email string) RegistryEntry {
	t.Helper()

	issued := time.Now().UTC().Format(time.RFC3339)
	emailHash := HashEmail(email)
	payload, err := BuildLicensePayload(key, tier, false, emailHash, issued)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	sig, err := SignPayload(payload, priv)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	return RegistryEntry{
		Tier:       tier,
		EmailHash:  emailHash,
		Issued:     issued,
		Signature:  sig,
		CustomerID: "cus_test",
	}
}

func signedTestRegistry(t *testing.T, priv ed25519.PrivateKey, entries map[string]RegistryEntry) Registry {
	t.Helper()

	hash, err := HashRegistryEntries(entries)
	if err != nil {
		t.Fatalf("hash entries: %v", err)
	}
	sig, err := SignRegistryEntries(entries, priv)
	if err != nil {
		t.Fatalf("sign entries: %v", err)
	}

	return Registry{
		Metadata: RegistryMetadata{
			Version:           "1.0",
			Hash:              hash,
			RegistrySignature: sig,
			LastUpdate:        time.Now().UTC().Format(time.RFC3339),
		},
		Entries: entries,
	}
}

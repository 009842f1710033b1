package license

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"qacli/internal/config"
	apperrors "qacli/internal/errors"
)

// maxRegistryBytes bounds the registry response body.
const maxRegistryBytes = 10 << 20

// RegistryMetadata is the _metadata block of the published registry.
type RegistryMetadata struct {
	Version           string `json:"version"`
	Hash              string `json:"hash"`
	RegistrySignature string `json:"registrySignature"`
	LastUpdate        string `json:"lastUpdate"`
}

// RegistryEntry is one license key's entitlement metadata.
type RegistryEntry struct {
	Tier       string `json:"tier"`
	IsFounder  bool   `json:"isFounder"`
	EmailHash  string `json:"emailHash,omitempty"`
	Issued     string `json:"issued"`
	Signature  string `json:"signature"`
	CustomerID string `json:"customerId"`
}

// Registry is the centrally published, signed map of valid license keys.
// Wire shape: {"_metadata": {...}, "<licenseKey>": {entry}, ...}.
type Registry struct {
	Metadata RegistryMetadata
	Entries  map[string]RegistryEntry
}

// UnmarshalJSON parses the flat wire shape. A document without _metadata is
// malformed.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	meta, ok := raw["_metadata"]
	if !ok {
		return fmt.Errorf("registry: missing _metadata")
	}
	if err := json.Unmarshal(meta, &r.Metadata); err != nil {
		return fmt.Errorf("registry: invalid _metadata: %w", err)
	}

	r.Entries = make(map[string]RegistryEntry, len(raw)-1)
	for key, value := range raw {
		if key == "_metadata" {
			continue
		}
		var entry RegistryEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("registry: invalid entry %s: %w", MaskLicenseKey(key), err)
		}
		r.Entries[key] = entry
	}

	return nil
}

// MarshalJSON emits the flat wire shape used for the cache file.
func (r Registry) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Entries)+1)
	flat["_metadata"] = r.Metadata
	for key, entry := range r.Entries {
		flat[key] = entry
	}
	return json.Marshal(flat)
}

// canonicalEntryBytes is the shared signature and hash target: the
// canonical serialization of all entries excluding _metadata.
func canonicalEntryBytes(entries map[string]RegistryEntry) ([]byte, error) {
	if entries == nil {
		entries = map[string]RegistryEntry{}
	}
	return StableStringify(entries)
}

// HashRegistryEntries computes the SHA-256 hex digest of the canonical
// entry set. Published as _metadata.hash.
func HashRegistryEntries(entries map[string]RegistryEntry) (string, error) {
	data, err := canonicalEntryBytes(entries)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SignRegistryEntries signs the canonical entry set. Published as
// _metadata.registrySignature. Used by admin tooling and test fixtures;
// the client only verifies.
func SignRegistryEntries(entries map[string]RegistryEntry, key ed25519.PrivateKey) (string, error) {
	data, err := canonicalEntryBytes(entries)
	if err != nil {
		return "", err
	}
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("sign registry: invalid private key size %d", len(key))
	}
	return signDetached(data, key), nil
}

// Client fetches, caches, and cryptographically verifies the remote
// entitlement registry, falling back to a re-verified local cache when the
// network or the fetched document fails verification.
type Client struct {
	url           string
	allowInsecure bool
	cachePath     string
	timeout       time.Duration
	httpClient    *http.Client
	signer        *Signer
	pub           ed25519.PublicKey
	store         *Store
	metrics       *Metrics
	group         singleflight.Group
}

// NewClient creates a registry client from resolved configuration. store
// may be nil when no local short-circuit is wanted.
func NewClient(cfg *config.Config, signer *Signer, pub ed25519.PublicKey, store *Store) *Client {
	return &Client{
		url:           cfg.Registry.URL,
		allowInsecure: cfg.Registry.AllowInsecure,
		cachePath:     cfg.GetPaths().RegistryCache,
		timeout:       cfg.Registry.FetchTimeout,
		httpClient:    &http.Client{},
		signer:        signer,
		pub:           pub,
		store:         store,
	}
}

// SetMetrics attaches OpenTelemetry instruments to the client.
func (c *Client) SetMetrics(metrics *Metrics) {
	c.metrics = metrics
}

// FetchRegistry fetches and verifies the remote registry. On network or
// verification failure it falls back to the re-verified cache; if the cache
// also fails verification an empty registry is returned. Concurrent calls
// are deduplicated. The returned registry is always usable; failures are
// logged, not surfaced.
func (c *Client) FetchRegistry(ctx context.Context) (*Registry, error) {
	result, err, _ := c.group.Do("fetch", func() (any, error) {
		reg, err := c.fetchRemote(ctx)
		if err == nil {
			return reg, nil
		}

		logWarn(ctx, "registry_fetch", "Registry fetch failed, falling back to cache",
			slog.String("url", c.url),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.RecordRegistryFallback(ctx)
		}

		return c.LoadCachedRegistry(ctx), nil
	})
	if err != nil {
		// Unreachable with the fallback above, kept for interface honesty.
		return c.LoadCachedRegistry(ctx), nil
	}
	return result.(*Registry), nil
}

// fetchRemote performs the single bounded network GET and full
// verification. Any failure discards the fetched body entirely; it is never
// cached or exposed to callers.
func (c *Client) fetchRemote(ctx context.Context) (*Registry, error) {
	parsed, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryUnreachable, err)
	}
	if parsed.Scheme != "https" && !c.allowInsecure {
		return nil, apperrors.ErrInsecureTransport
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryUnreachable, err)
	}
	req.Header.Set("User-Agent", "qacli-license-client/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", apperrors.ErrRegistryUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryUnreachable, err)
	}

	var reg Registry
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryTampered, err)
	}

	if err := c.verifyRegistry(&reg); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordRegistryFetch(ctx, time.Since(start))
	}
	logInfo(ctx, "registry_fetch", "Registry fetched and verified",
		slog.String("url", c.url),
		slog.Int("entries", len(reg.Entries)),
		slog.String("version", reg.Metadata.Version),
		slog.Duration("duration", time.Since(start)),
	)

	c.writeCache(ctx, body)

	return &reg, nil
}

// verifyRegistry checks the registry-level signature over the canonical
// entry set, then the published hash against a freshly computed one using a
// constant-time comparison.
func (c *Client) verifyRegistry(reg *Registry) error {
	if c.signer.bypassActive() {
		return nil
	}

	if !c.signer.VerifyRegistrySignature(reg.Entries, reg.Metadata.RegistrySignature, c.pub) {
		return fmt.Errorf("%w: registry signature", apperrors.ErrRegistryTampered)
	}

	computed, err := HashRegistryEntries(reg.Entries)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrRegistryTampered, err)
	}
	if !hmac.Equal([]byte(computed), []byte(reg.Metadata.Hash)) {
		return fmt.Errorf("%w: registry hash", apperrors.ErrRegistryTampered)
	}

	return nil
}

// LoadCachedRegistry loads and independently re-verifies the cached
// registry file. The cache is untrusted input, not a trusted prior
// decision: if it fails verification an empty registry is returned rather
// than stale or tampered data. The insecure-transport override never
// applies here.
func (c *Client) LoadCachedRegistry(ctx context.Context) *Registry {
	empty := &Registry{Entries: map[string]RegistryEntry{}}

	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logWarn(ctx, "registry_cache", "Failed to read registry cache",
				slog.String("path", c.cachePath),
				slog.String("error", err.Error()),
			)
		}
		return empty
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		logWarn(ctx, "registry_cache", "Registry cache is malformed, discarding",
			slog.String("path", c.cachePath),
			slog.String("error", err.Error()),
		)
		return empty
	}

	if err := c.verifyRegistry(&reg); err != nil {
		logWarn(ctx, "registry_cache", "Registry cache failed re-verification, discarding",
			slog.String("path", c.cachePath),
			slog.String("error", err.Error()),
		)
		return empty
	}

	logDebug(ctx, "registry_cache", "Registry cache loaded and re-verified",
		slog.Int("entries", len(reg.Entries)),
	)
	return &reg
}

// writeCache refreshes the cache file with a verified body. Best effort:
// a cache write failure never fails the fetch.
func (c *Client) writeCache(ctx context.Context, body []byte) {
	// The first fetch can precede any activation, so the license dir may
	// not exist yet.
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0700); err != nil {
		logWarn(ctx, "registry_cache", "Failed to create cache dir",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := writeFileAtomic(c.cachePath, body, 0600); err != nil {
		logWarn(ctx, "registry_cache", "Failed to write registry cache",
			slog.String("path", c.cachePath),
			slog.String("error", err.Error()),
		)
	}
}

// ValidateLicense resolves a key against the registry. It short-circuits on
// a locally activated, still-valid license, otherwise refreshes the
// registry and distinguishes three failure modes: empty registry, key not
// found, and entry invalid or email mismatch.
func (c *Client) ValidateLicense(ctx context.Context, key, email string) (*RegistryEntry, error) {
	normalized := NormalizeLicenseKey(key)
	if !ValidKeyFormat(normalized) {
		return nil, apperrors.ErrInvalidKeyFormat
	}

	if entry := c.localShortCircuit(normalized); entry != nil {
		logDebug(ctx, "license_validation", "Validated against local activated license",
			slog.String("license_key_masked", MaskLicenseKey(normalized)),
		)
		return entry, nil
	}

	reg, _ := c.FetchRegistry(ctx)

	if len(reg.Entries) == 0 {
		return nil, apperrors.ErrRegistryEmpty
	}

	entry, ok := reg.Entries[normalized]
	if !ok {
		return nil, apperrors.ErrKeyNotFound
	}

	payload, err := BuildLicensePayload(normalized, entry.Tier, entry.IsFounder, entry.EmailHash, entry.Issued)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEntryInvalid, err)
	}
	if !c.signer.VerifyPayload(payload, entry.Signature, c.pub) {
		return nil, fmt.Errorf("%w: entry signature", apperrors.ErrEntryInvalid)
	}

	if entry.EmailHash != "" {
		if !hmac.Equal([]byte(HashEmail(email)), []byte(entry.EmailHash)) {
			return nil, fmt.Errorf("%w: email mismatch", apperrors.ErrEntryInvalid)
		}
	}

	return &entry, nil
}

// localShortCircuit returns a synthesized entry when a locally activated,
// still-valid license matches the normalized key.
func (c *Client) localShortCircuit(normalized string) *RegistryEntry {
	if c.store == nil {
		return nil
	}
	rec, err := c.store.GetLocalLicense()
	if err != nil || rec == nil || !rec.Valid {
		return nil
	}
	if NormalizeLicenseKey(rec.LicenseKey) != normalized || rec.Expired(time.Now()) {
		return nil
	}
	entry := RegistryEntry{
		Tier:      rec.Tier,
		IsFounder: rec.IsFounder,
		Issued:    rec.Payload.Issued,
		EmailHash: rec.Payload.EmailHash,
		Signature: rec.Signature,
	}
	return &entry
}

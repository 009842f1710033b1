package license

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"qacli/internal/config"
	apperrors "qacli/internal/errors"
)

// Record diagnostics attached at load time.
const (
	DiagUnsigned = "unsigned"
	DiagTampered = "tampered"
	DiagExpired  = "expired"
)

// Store reads, writes, and verifies the on-disk signed license record. It is
// a pure I/O plus verification layer: JSON parse errors propagate to the
// caller, which is responsible for downgrading gracefully.
type Store struct {
	path   string
	signer *Signer
	pub    ed25519.PublicKey
}

// NewStore creates a Store for the configured license directory.
func NewStore(cfg *config.Config, signer *Signer, pub ed25519.PublicKey) *Store {
	return &Store{
		path:   cfg.GetPaths().LicenseFile,
		signer: signer,
		pub:    pub,
	}
}

// Path returns the license file path.
func (s *Store) Path() string {
	return s.path
}

// GetLocalLicense returns the stored record with its Valid annotation, or
// (nil, nil) when no file exists. Signed records are re-verified on every
// read; the cached verification decision is never trusted. The signature
// target is reconstructed from the record's top-level fields rather than
// the stored payload blob, so a record whose top level disagrees with what
// was signed fails verification. Unsigned legacy records are always
// invalid - there is no unsigned-but-trusted state.
func (s *Store) GetLocalLicense() (*LicenseRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}

	var rec LicenseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse license file: %w", err)
	}

	if !rec.Signed() {
		rec.Valid = false
		rec.Diagnostic = DiagUnsigned
		logWarn(context.Background(), "license_load", "Unsigned legacy license record rejected",
			slog.String("path", s.path),
		)
		return &rec, nil
	}

	// Rebuild the signature target from the fields the resolver will
	// actually consume. The blob only contributes the fields that have no
	// top-level duplicate.
	payload, err := BuildLicensePayload(rec.LicenseKey, rec.Tier, rec.IsFounder, rec.Payload.EmailHash, rec.Payload.Issued)
	if err != nil {
		rec.Valid = false
	} else {
		rec.Valid = s.signer.VerifyPayload(payload, rec.Signature, s.pub)
	}
	if !rec.Valid {
		rec.Diagnostic = DiagTampered
		logWarn(context.Background(), "license_load", "License record failed signature verification",
			slog.String("path", s.path),
			slog.String("license_key_masked", MaskLicenseKey(rec.LicenseKey)),
		)
	}

	return &rec, nil
}

// SaveLicense persists a signed record. Records missing payload or
// signature are refused: a record can never be persisted unsigned.
func (s *Store) SaveLicense(rec *LicenseRecord) error {
	if !rec.Signed() {
		return apperrors.ErrUnsignedRecord
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create license dir: %w", err)
	}

	rec.VerifiedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal license record: %w", err)
	}

	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}

	logInfo(context.Background(), "license_save", "License record saved",
		slog.String("path", s.path),
		slog.String("license_key_masked", MaskLicenseKey(rec.LicenseKey)),
		slog.String("license_key_hash", HashLicenseKey(rec.LicenseKey)),
		slog.Int("size_bytes", len(data)),
	)

	return nil
}

// Delete removes the license record. Deletion is always explicit; nothing
// in the subsystem deletes the record automatically.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Expired reports whether the record carries an expiry in the past. The
// expiry check is independent of and evaluated after signature
// verification.
func (r *LicenseRecord) Expired(now time.Time) bool {
	if r == nil || r.Expires == "" {
		return false
	}
	expires, err := time.Parse(time.RFC3339, r.Expires)
	if err != nil {
		// An unparseable expiry fails closed.
		return true
	}
	return now.After(expires)
}

// writeFileAtomic writes via a temp file and rename so concurrent readers
// never observe a torn write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

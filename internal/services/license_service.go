package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"qacli/internal/config"
	apperrors "qacli/internal/errors"
	"qacli/internal/infrastructure"
	"qacli/internal/license"
)

// resolutionCacheKey is the single cache slot: the CLI has exactly one
// license per machine, so the cache is keyed by a constant.
const resolutionCacheKey = "current"

// LicenseService orchestrates activation, status, and feature gating on top
// of the license subsystem. Activation returns a uniform ActivationResult
// for both success and failure; the passive paths never return errors.
type LicenseService interface {
	Activate(ctx context.Context, key, email string) *ActivationResult
	Status(ctx context.Context) *StatusResult
	CheckFeature(ctx context.Context, feature string) bool
	CheckQuota(ctx context.Context, op license.Operation) license.CapCheck
	CheckRepoQuota(ctx context.Context, repoID string) license.CapCheck
	RecordUsage(ctx context.Context, op license.Operation, amount int, repoID string) bool
	Deactivate(ctx context.Context) error
}

// ActivationResult is the uniform shape returned by Activate for every
// outcome. Callers branch on Success and Code, never on message text.
type ActivationResult struct {
	Success bool         `json:"success"`
	Tier    license.Tier `json:"tier,omitempty"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	TraceID string       `json:"trace_id,omitempty"`
}

// StatusResult is the passive entitlement snapshot shown by the status
// command. It is always fully formed.
type StatusResult struct {
	Info          license.LicenseInfo `json:"info"`
	DeveloperMode bool                `json:"developerMode"`
	Usage         *license.CapCheck   `json:"usage,omitempty"`
}

// activationRequest is the validated activation input.
type activationRequest struct {
	Key   string `validate:"required"`
	Email string `validate:"omitempty,email"`
}

type licenseService struct {
	cfg      *config.Config
	store    *license.Store
	client   *license.Client
	resolver *license.Resolver
	tracker  *license.UsageTracker
	devMode  *license.BypassSwitch
	limiter  *license.ActivationLimiter
	cache    *license.ResolutionCache
	metrics  *license.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseService wires the full license subsystem from resolved
// configuration. Metrics creation failures degrade to nil instruments
// rather than failing startup.
func NewLicenseService(cfg *config.Config) (LicenseService, error) {
	pub, err := cfg.LoadPublicKey()
	if err != nil {
		return nil, fmt.Errorf("license service: %w", err)
	}

	devMode := license.NewBypassSwitch(cfg)
	signer := license.NewSigner(cfg.Environment, devMode)
	store := license.NewStore(cfg, signer, pub)
	client := license.NewClient(cfg, signer, pub, store)
	resolver := license.NewResolver(store, devMode)
	tracker := license.NewUsageTracker(cfg, resolver)

	metrics, err := license.NewMetrics()
	if err != nil {
		slog.Default().Warn("License metrics unavailable", "error", err)
		metrics = nil
	}
	client.SetMetrics(metrics)

	return &licenseService{
		cfg:      cfg,
		store:    store,
		client:   client,
		resolver: resolver,
		tracker:  tracker,
		devMode:  devMode,
		limiter:  license.NewActivationLimiter(10, 3),
		cache:    license.NewResolutionCache(30*time.Second, 4),
		metrics:  metrics,
		validate: validator.New(),
		logger:   slog.Default().With("component", "license_service"),
	}, nil
}

// Activate validates the key against the registry and persists a signed
// local record. Format checks happen before any I/O; network failures fall
// back to the verified registry cache inside the client.
func (s *licenseService) Activate(ctx context.Context, key, email string) *ActivationResult {
	ctx = infrastructure.EnsureTraceID(ctx)
	traceID := infrastructure.TraceIDFromContext(ctx)
	start := time.Now()

	normalized := license.NormalizeLicenseKey(key)

	s.logger.InfoContext(ctx, "License activation started",
		slog.String("trace_id", traceID),
		slog.String("license_key_masked", license.MaskLicenseKey(normalized)),
	)

	if !license.ValidKeyFormat(normalized) {
		return s.failure(ctx, traceID, apperrors.ErrInvalidKeyFormat)
	}

	req := activationRequest{Key: normalized, Email: email}
	if err := s.validate.Struct(req); err != nil {
		return s.failure(ctx, traceID, apperrors.ErrInvalidEmail)
	}

	// Rate limit keyed by a key digest: the full key stays out of limiter
	// state and distinct keys never share a bucket.
	if !s.limiter.Allow(license.HashLicenseKey(normalized)) {
		return s.failure(ctx, traceID, apperrors.ErrRateLimited)
	}

	entry, err := s.client.ValidateLicense(ctx, normalized, email)
	if err != nil {
		return s.failure(ctx, traceID, err)
	}

	rec := &license.LicenseRecord{
		LicenseKey: normalized,
		Tier:       entry.Tier,
		IsFounder:  entry.IsFounder,
		Email:      email,
		Activated:  time.Now().UTC().Format(time.RFC3339),
		Signature:  entry.Signature,
		Source:     "registry",
	}
	payload, err := license.BuildLicensePayload(normalized, entry.Tier, entry.IsFounder, entry.EmailHash, entry.Issued)
	if err != nil {
		return s.failure(ctx, traceID, fmt.Errorf("%w: %v", apperrors.ErrEntryInvalid, err))
	}
	rec.Payload = &payload

	if err := s.store.SaveLicense(rec); err != nil {
		return s.failure(ctx, traceID, err)
	}

	s.limiter.Reset(license.HashLicenseKey(normalized))
	s.cache.Invalidate(resolutionCacheKey)
	s.metrics.RecordActivation(ctx, true, "")

	s.logger.InfoContext(ctx, "License activation completed",
		slog.String("trace_id", traceID),
		slog.String("license_key_masked", license.MaskLicenseKey(normalized)),
		slog.String("tier", entry.Tier),
		slog.Duration("duration", time.Since(start)),
	)

	return &ActivationResult{
		Success: true,
		Tier:    license.Tier(entry.Tier),
		Message: fmt.Sprintf("License activated: %s tier", entry.Tier),
		TraceID: traceID,
	}
}

// failure converts a sentinel error into the uniform failure result and
// records the outcome.
func (s *licenseService) failure(ctx context.Context, traceID string, err error) *ActivationResult {
	code := apperrors.CodeFor(err)
	s.metrics.RecordActivation(ctx, false, code)

	s.logger.WarnContext(ctx, "License activation failed",
		slog.String("trace_id", traceID),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)

	return &ActivationResult{
		Success: false,
		Code:    code,
		Message: apperrors.UserMessage(err),
		TraceID: traceID,
	}
}

// Status resolves the current entitlement fully offline. FREE-tier results
// include the quota snapshot.
func (s *licenseService) Status(ctx context.Context) *StatusResult {
	info := s.resolveCached(ctx)

	result := &StatusResult{
		Info:          info,
		DeveloperMode: s.devMode.IsDeveloperMode(),
	}

	if info.Tier == license.TierFree {
		check := s.tracker.CheckUsageCaps(license.OpPrePush)
		result.Usage = &check
	}

	return result
}

// CheckFeature resolves the tier and consults the static tier table. An
// unknown feature name denies.
func (s *licenseService) CheckFeature(ctx context.Context, feature string) bool {
	info := s.resolveCached(ctx)
	features, ok := license.Features[info.Tier]
	if !ok {
		return false
	}
	return features.Flags[feature]
}

// CheckQuota reports whether the guarded operation is within FREE-tier
// quota. It never mutates the ledger.
func (s *licenseService) CheckQuota(ctx context.Context, op license.Operation) license.CapCheck {
	check := s.tracker.CheckUsageCaps(op)
	if !check.Allowed {
		s.metrics.RecordQuotaDenial(ctx, op)
	}
	return check
}

// CheckRepoQuota is the membership-aware repo gate: a repo already in the
// lifetime set stays usable after the cap is reached.
func (s *licenseService) CheckRepoQuota(ctx context.Context, repoID string) license.CapCheck {
	check := s.tracker.CheckRepoCap(repoID)
	if !check.Allowed {
		s.metrics.RecordQuotaDenial(ctx, license.OpRepo)
	}
	return check
}

// RecordUsage records a completed guarded operation. Persistence failures
// degrade silently per the tracker's contract.
func (s *licenseService) RecordUsage(ctx context.Context, op license.Operation, amount int, repoID string) bool {
	return s.tracker.IncrementUsage(op, amount, repoID)
}

// Deactivate removes the local license record. The remote registry is not
// consulted; deactivation is a purely local operation.
func (s *licenseService) Deactivate(ctx context.Context) error {
	ctx = infrastructure.EnsureTraceID(ctx)

	if err := s.store.Delete(); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}

	s.cache.Invalidate(resolutionCacheKey)
	s.logger.InfoContext(ctx, "License deactivated",
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
	)
	return nil
}

// resolveCached serves entitlement resolutions through the short-TTL
// in-process cache. The resolver itself never errors, so a miss is always
// recoverable by resolving again.
func (s *licenseService) resolveCached(ctx context.Context) license.LicenseInfo {
	if info, ok := s.cache.Get(resolutionCacheKey); ok {
		if s.metrics != nil && s.metrics.ResolutionCacheHits != nil {
			s.metrics.ResolutionCacheHits.Add(ctx, 1)
		}
		return info
	}

	if s.metrics != nil && s.metrics.ResolutionCacheMisses != nil {
		s.metrics.ResolutionCacheMisses.Add(ctx, 1)
	}

	info := s.resolver.GetLicenseInfo()
	s.cache.Set(resolutionCacheKey, info)
	return info
}

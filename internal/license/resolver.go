package license

import (
	"context"
	"log/slog"
	"time"
)

// Feature flag names consulted by gate call sites.
const (
	FeaturePrePush         = "pre-push"
	FeatureDependencyPRs   = "dependency-prs"
	FeatureMultiRepo       = "multi-repo"
	FeaturePrivateRules    = "private-rules"
	FeaturePrioritySupport = "priority-support"
	FeatureSSO             = "sso"
)

// UsageCaps are the numeric quotas applied to the FREE tier.
type UsageCaps struct {
	MaxPrePushRunsPerMonth   int `json:"maxPrePushRunsPerMonth"`
	MaxDependencyPRsPerMonth int `json:"maxDependencyPRsPerMonth"`
	MaxRepos                 int `json:"maxRepos"`
}

// TierFeatures maps a tier to its capability flags and caps.
type TierFeatures struct {
	Flags map[string]bool
	Caps  UsageCaps
}

// Features is the static tier table: data, not computed logic. It is the
// single source of truth consulted by every feature-gate call site. Caps
// are only populated for FREE.
var Features = map[Tier]TierFeatures{
	TierFree: {
		Flags: map[string]bool{
			FeaturePrePush:         true,
			FeatureDependencyPRs:   true,
			FeatureMultiRepo:       false,
			FeaturePrivateRules:    false,
			FeaturePrioritySupport: false,
			FeatureSSO:             false,
		},
		Caps: UsageCaps{
			MaxPrePushRunsPerMonth:   50,
			MaxDependencyPRsPerMonth: 10,
			MaxRepos:                 3,
		},
	},
	TierPro: {
		Flags: map[string]bool{
			FeaturePrePush:         true,
			FeatureDependencyPRs:   true,
			FeatureMultiRepo:       true,
			FeaturePrivateRules:    true,
			FeaturePrioritySupport: false,
			FeatureSSO:             false,
		},
	},
	TierTeam: {
		Flags: map[string]bool{
			FeaturePrePush:         true,
			FeatureDependencyPRs:   true,
			FeatureMultiRepo:       true,
			FeaturePrivateRules:    true,
			FeaturePrioritySupport: true,
			FeatureSSO:             false,
		},
	},
	TierEnterprise: {
		Flags: map[string]bool{
			FeaturePrePush:         true,
			FeatureDependencyPRs:   true,
			FeatureMultiRepo:       true,
			FeaturePrivateRules:    true,
			FeaturePrioritySupport: true,
			FeatureSSO:             true,
		},
	},
}

// Resolver combines the local store, the static tier table, and the
// developer bypass into a single authoritative LicenseInfo.
type Resolver struct {
	store   *Store
	devMode *BypassSwitch
	now     func() time.Time
}

// NewResolver creates a Resolver. devMode may be nil.
func NewResolver(store *Store, devMode *BypassSwitch) *Resolver {
	return &Resolver{
		store:   store,
		devMode: devMode,
		now:     time.Now,
	}
}

// GetLicenseInfo is the single guaranteed-non-throwing entry point for
// entitlement resolution. It always returns a fully-formed result; any
// ambiguity or internal error resolves to the FREE tier with a diagnostic,
// never to a paid tier.
func (r *Resolver) GetLicenseInfo() LicenseInfo {
	if r.devMode.IsDeveloperMode() {
		return LicenseInfo{Tier: TierEnterprise, Valid: true, Error: "developer-mode"}
	}

	rec, err := r.store.GetLocalLicense()
	if err != nil {
		// FilesystemError: downgrade with a diagnostic, never raise.
		logWarn(context.Background(), "license_resolution", "License file unreadable, downgrading to FREE",
			slog.String("error", err.Error()),
		)
		return freeInfo("license file unreadable")
	}
	if rec == nil {
		return freeInfo("")
	}

	if !rec.Valid {
		return freeInfo(rec.Diagnostic)
	}

	// Expiry is checked independently of and after signature verification.
	if rec.Expired(r.now()) {
		return freeInfo(DiagExpired)
	}

	if !ValidKeyFormat(rec.LicenseKey) {
		return freeInfo("malformed key")
	}

	tier := Tier(rec.Tier)
	if !KnownTier(tier) {
		return freeInfo("unknown tier")
	}

	return LicenseInfo{
		Tier:       tier,
		Valid:      true,
		IsFounder:  rec.IsFounder,
		LicenseKey: rec.LicenseKey,
		Email:      rec.Email,
	}
}

// HasFeature resolves the tier and looks up the capability flag. An
// unrecognized feature name denies, never allows.
func (r *Resolver) HasFeature(name string) bool {
	info := r.GetLicenseInfo()
	features, ok := Features[info.Tier]
	if !ok {
		return false
	}
	return features.Flags[name]
}

func freeInfo(diagnostic string) LicenseInfo {
	return LicenseInfo{Tier: TierFree, Valid: true, Error: diagnostic}
}

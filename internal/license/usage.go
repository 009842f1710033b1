package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"qacli/internal/config"
)

// Operation names a guarded operation tracked by the usage ledger.
type Operation string

const (
	OpPrePush      Operation = "pre-push"
	OpDependencyPR Operation = "dependency-pr"
	OpRepo         Operation = "repo"
)

// UsageLedger is the FREE-tier quota file. The run and PR counters reset
// when the stored month differs from the current month; the repos set is a
// lifetime set and is never reset on rollover. The asymmetry is deliberate.
type UsageLedger struct {
	Month         string   `json:"month"`
	PrePushRuns   int      `json:"prePushRuns"`
	DependencyPRs int      `json:"dependencyPRs"`
	Repos         []string `json:"repos"`
}

// CapCheck is the result of a pure quota predicate.
type CapCheck struct {
	Allowed bool        `json:"allowed"`
	Reason  string      `json:"reason,omitempty"`
	Usage   UsageLedger `json:"usage"`
	Caps    UsageCaps   `json:"caps"`
}

// UsageTracker maintains the FREE-tier usage ledger. The file is created
// lazily on the first guarded operation. Non-FREE tiers never touch it.
type UsageTracker struct {
	path     string
	resolver *Resolver
	mu       sync.Mutex
	now      func() time.Time
}

// NewUsageTracker creates a tracker for the configured usage file.
func NewUsageTracker(cfg *config.Config, resolver *Resolver) *UsageTracker {
	return &UsageTracker{
		path:     cfg.GetPaths().UsageFile,
		resolver: resolver,
		now:      time.Now,
	}
}

func (t *UsageTracker) currentMonth() string {
	return t.now().Format("2006-01")
}

// load reads the ledger, applying the month rollover: counters reset to 0
// when the stored month differs from the current month, the repos set is
// preserved. A missing or corrupt file yields a fresh ledger.
func (t *UsageTracker) load() UsageLedger {
	month := t.currentMonth()
	fresh := UsageLedger{Month: month, Repos: []string{}}

	data, err := os.ReadFile(t.path)
	if err != nil {
		return fresh
	}

	var ledger UsageLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		logWarn(context.Background(), "usage_load", "Usage ledger is corrupt, starting fresh",
			slog.String("path", t.path),
			slog.String("error", err.Error()),
		)
		return fresh
	}

	if ledger.Repos == nil {
		ledger.Repos = []string{}
	}
	if ledger.Month != month {
		ledger.Month = month
		ledger.PrePushRuns = 0
		ledger.DependencyPRs = 0
		// Repos carries over: lifetime set, not a monthly counter.
	}

	return ledger
}

// CheckUsageCaps is a pure predicate: it reports whether the operation is
// within quota without mutating state. Non-FREE tiers are always allowed
// without consulting the ledger at all.
func (t *UsageTracker) CheckUsageCaps(op Operation) CapCheck {
	info := t.resolver.GetLicenseInfo()
	if info.Tier != TierFree {
		return CapCheck{Allowed: true}
	}

	caps := Features[TierFree].Caps

	t.mu.Lock()
	ledger := t.load()
	t.mu.Unlock()

	check := CapCheck{Allowed: true, Usage: ledger, Caps: caps}

	switch op {
	case OpPrePush:
		if ledger.PrePushRuns >= caps.MaxPrePushRunsPerMonth {
			check.Allowed = false
			check.Reason = fmt.Sprintf("monthly pre-push quota of %d reached", caps.MaxPrePushRunsPerMonth)
		}
	case OpDependencyPR:
		if ledger.DependencyPRs >= caps.MaxDependencyPRsPerMonth {
			check.Allowed = false
			check.Reason = fmt.Sprintf("monthly dependency PR quota of %d reached", caps.MaxDependencyPRsPerMonth)
		}
	case OpRepo:
		if len(ledger.Repos) >= caps.MaxRepos {
			check.Allowed = false
			check.Reason = fmt.Sprintf("repository limit of %d reached", caps.MaxRepos)
		}
	default:
		check.Allowed = false
		check.Reason = fmt.Sprintf("unknown operation %q", op)
	}

	return check
}

// CheckRepoCap is the membership-aware repo predicate: a repo already in
// the lifetime set is always allowed, so reaching the cap never locks out
// the repos registered before it. Only a repo that would grow the set is
// checked against the cap.
func (t *UsageTracker) CheckRepoCap(repoID string) CapCheck {
	info := t.resolver.GetLicenseInfo()
	if info.Tier != TierFree {
		return CapCheck{Allowed: true}
	}

	caps := Features[TierFree].Caps

	t.mu.Lock()
	ledger := t.load()
	t.mu.Unlock()

	check := CapCheck{Allowed: true, Usage: ledger, Caps: caps}

	for _, existing := range ledger.Repos {
		if existing == repoID {
			return check
		}
	}

	if len(ledger.Repos) >= caps.MaxRepos {
		check.Allowed = false
		check.Reason = fmt.Sprintf("repository limit of %d reached", caps.MaxRepos)
	}

	return check
}

// IncrementUsage records usage and persists the ledger. For OpRepo the repo
// is added to the set only if absent, making repeat calls idempotent.
// Persistence failures are reported via the return value but never abort
// the caller's primary task; stale quota tracking is an accepted
// degradation.
func (t *UsageTracker) IncrementUsage(op Operation, amount int, repoID string) bool {
	info := t.resolver.GetLicenseInfo()
	if info.Tier != TierFree {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ledger := t.load()

	switch op {
	case OpPrePush:
		ledger.PrePushRuns += amount
	case OpDependencyPR:
		ledger.DependencyPRs += amount
	case OpRepo:
		if repoID == "" {
			return false
		}
		for _, existing := range ledger.Repos {
			if existing == repoID {
				return true
			}
		}
		ledger.Repos = append(ledger.Repos, repoID)
	default:
		return false
	}

	return t.persist(ledger)
}

func (t *UsageTracker) persist(ledger UsageLedger) bool {
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		logWarn(context.Background(), "usage_save", "Failed to create usage dir",
			slog.String("error", err.Error()),
		)
		return false
	}

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		logWarn(context.Background(), "usage_save", "Failed to marshal usage ledger",
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := writeFileAtomic(t.path, data, 0600); err != nil {
		logWarn(context.Background(), "usage_save", "Failed to write usage ledger",
			slog.String("path", t.path),
			slog.String("error", err.Error()),
		)
		return false
	}

	return true
}

package license

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qacli/internal/config"
)

func testTracker(t *testing.T) (*UsageTracker, *config.Config) {
	t.Helper()
	resolver, _, cfg := testResolver(t)
	return NewUsageTracker(cfg, resolver), cfg
}

func proTracker(t *testing.T) *UsageTracker {
	t.Helper()
	pub, priv := testKeys(t)
	cfg := testConfig(t)
	store := NewStore(cfg, testSigner(cfg), pub)
	require.NoError(t, store.SaveLicense(signedTestRecord(t, priv, testKey, "PRO")))
	return NewUsageTracker(cfg, NewResolver(store, NewBypassSwitch(cfg)))
}

func TestCheckUsageCaps(t *testing.T) {
	t.Run("fresh ledger allows everything", func(t *testing.T) {
		tracker, _ := testTracker(t)
		for _, op := range []Operation{OpPrePush, OpDependencyPR, OpRepo} {
			check := tracker.CheckUsageCaps(op)
			assert.True(t, check.Allowed, "op %s", op)
		}
	})

	t.Run("pre-push denied at the cap", func(t *testing.T) {
		tracker, _ := testTracker(t)
		for i := 0; i < Features[TierFree].Caps.MaxPrePushRunsPerMonth; i++ {
			require.True(t, tracker.IncrementUsage(OpPrePush, 1, ""))
		}

		check := tracker.CheckUsageCaps(OpPrePush)
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Reason, "quota")

		// Other operations remain unaffected.
		assert.True(t, tracker.CheckUsageCaps(OpDependencyPR).Allowed)
	})

	t.Run("repo limit counts distinct repos", func(t *testing.T) {
		tracker, _ := testTracker(t)
		for _, repo := range []string{"r1", "r2", "r3"} {
			require.True(t, tracker.IncrementUsage(OpRepo, 1, repo))
		}

		check := tracker.CheckUsageCaps(OpRepo)
		assert.False(t, check.Allowed)
	})

	t.Run("unknown operation denies", func(t *testing.T) {
		tracker, _ := testTracker(t)
		check := tracker.CheckUsageCaps(Operation("mystery"))
		assert.False(t, check.Allowed)
	})

	t.Run("registered repo stays allowed at the cap", func(t *testing.T) {
		tracker, _ := testTracker(t)
		for _, repo := range []string{"r1", "r2", "r3"} {
			require.True(t, tracker.IncrementUsage(OpRepo, 1, repo))
		}

		// The cap bounds distinct repos; it never locks out members.
		assert.True(t, tracker.CheckRepoCap("r2").Allowed)

		check := tracker.CheckRepoCap("r4")
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Reason, "repository limit")
	})

	t.Run("repo cap ignores non-free tiers", func(t *testing.T) {
		tracker := proTracker(t)
		assert.True(t, tracker.CheckRepoCap("any-repo").Allowed)
	})

	t.Run("non-free tier never consults the ledger", func(t *testing.T) {
		tracker := proTracker(t)
		for i := 0; i < 100; i++ {
			require.True(t, tracker.IncrementUsage(OpPrePush, 1, ""))
		}
		assert.True(t, tracker.CheckUsageCaps(OpPrePush).Allowed)

		// Nothing was written.
		_, err := os.Stat(tracker.path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestIncrementUsage(t *testing.T) {
	t.Run("repo add is idempotent", func(t *testing.T) {
		tracker, _ := testTracker(t)
		require.True(t, tracker.IncrementUsage(OpRepo, 1, "repo-a"))
		require.True(t, tracker.IncrementUsage(OpRepo, 1, "repo-a"))
		require.True(t, tracker.IncrementUsage(OpRepo, 1, "repo-a"))

		ledger := tracker.load()
		assert.Equal(t, []string{"repo-a"}, ledger.Repos)
	})

	t.Run("empty repo id rejected", func(t *testing.T) {
		tracker, _ := testTracker(t)
		assert.False(t, tracker.IncrementUsage(OpRepo, 1, ""))
	})

	t.Run("unknown operation rejected", func(t *testing.T) {
		tracker, _ := testTracker(t)
		assert.False(t, tracker.IncrementUsage(Operation("mystery"), 1, ""))
	})

	t.Run("counters accumulate and persist", func(t *testing.T) {
		tracker, cfg := testTracker(t)
		require.True(t, tracker.IncrementUsage(OpPrePush, 1, ""))
		require.True(t, tracker.IncrementUsage(OpPrePush, 1, ""))
		require.True(t, tracker.IncrementUsage(OpDependencyPR, 1, ""))

		data, err := os.ReadFile(cfg.GetPaths().UsageFile)
		require.NoError(t, err)

		var ledger UsageLedger
		require.NoError(t, json.Unmarshal(data, &ledger))
		assert.Equal(t, 2, ledger.PrePushRuns)
		assert.Equal(t, 1, ledger.DependencyPRs)
	})
}

func TestMonthRollover(t *testing.T) {
	tracker, _ := testTracker(t)

	june := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	july := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	tracker.now = func() time.Time { return june }
	require.True(t, tracker.IncrementUsage(OpPrePush, 30, ""))
	require.True(t, tracker.IncrementUsage(OpDependencyPR, 5, ""))
	require.True(t, tracker.IncrementUsage(OpRepo, 1, "repo-a"))
	require.True(t, tracker.IncrementUsage(OpRepo, 1, "repo-b"))

	ledger := tracker.load()
	assert.Equal(t, "2025-06", ledger.Month)
	assert.Equal(t, 30, ledger.PrePushRuns)

	// Counters reset at the month boundary; the repos set carries over.
	tracker.now = func() time.Time { return july }
	ledger = tracker.load()
	assert.Equal(t, "2025-07", ledger.Month)
	assert.Zero(t, ledger.PrePushRuns)
	assert.Zero(t, ledger.DependencyPRs)
	assert.ElementsMatch(t, []string{"repo-a", "repo-b"}, ledger.Repos)

	check := tracker.CheckUsageCaps(OpPrePush)
	assert.True(t, check.Allowed)
}

func TestUsageLedgerCorruptFile(t *testing.T) {
	tracker, cfg := testTracker(t)
	require.NoError(t, os.MkdirAll(cfg.License.Dir, 0700))
	require.NoError(t, os.WriteFile(cfg.GetPaths().UsageFile, []byte("not json"), 0600))

	ledger := tracker.load()
	assert.Zero(t, ledger.PrePushRuns)
	assert.NotNil(t, ledger.Repos)

	// The tracker recovers: subsequent increments work.
	assert.True(t, tracker.IncrementUsage(OpPrePush, 1, ""))
}

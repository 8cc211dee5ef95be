package pyznap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yboetz/pyznap/internal/zfs"
)

var fullPolicy = Retention{Frequent: 4, Hourly: 24, Daily: 7, Weekly: 4, Monthly: 6, Yearly: 1}

func snapAt(t time.Time, g zfs.Granularity) zfs.Snapshot {
	return zfs.Snapshot{Parent: "rpool/data", Name: zfs.SnapshotName("pyznap", t, g)}
}

func TestSweepFreshDataset(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)

	sweep := planSweep(nil, fullPolicy, "pyznap", now)

	assert.Equal(t, zfs.Granularities, sweep.Take)
	assert.Empty(t, sweep.Destroy)
}

func TestSweepIdempotent(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)

	var snaps []zfs.Snapshot
	for _, g := range zfs.Granularities {
		snaps = append(snaps, snapAt(now, g))
	}

	sweep := planSweep(snaps, fullPolicy, "pyznap", now.Add(30*time.Second))
	assert.Empty(t, sweep.Take, "nothing new within the same minute")
	assert.Empty(t, sweep.Destroy, "a fresh batch survives the sweep")
}

func TestSweepThinning(t *testing.T) {
	start := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)

	var snaps []zfs.Snapshot
	for i := 0; i < 10; i++ {
		snaps = append(snaps, snapAt(start.Add(time.Duration(i)*15*time.Minute), zfs.Frequent))
	}
	now := time.Date(2024, time.March, 14, 14, 16, 0, 0, time.Local)

	sweep := planSweep(snaps, fullPolicy, "pyznap", now)

	// newest four frequents stay, as does 12:45 as the representative of the
	// hour-12 window; the rest goes
	var destroyed []string
	for _, s := range sweep.Destroy {
		destroyed = append(destroyed, s.Name)
	}
	assert.Equal(t, []string{
		"pyznap_2024-03-14_12:00:00_frequent",
		"pyznap_2024-03-14_12:15:00_frequent",
		"pyznap_2024-03-14_12:30:00_frequent",
		"pyznap_2024-03-14_13:00:00_frequent",
		"pyznap_2024-03-14_13:15:00_frequent",
	}, destroyed)
}

func TestSweepForeignPreserved(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)

	snaps := []zfs.Snapshot{
		{Parent: "rpool/data", Name: "manual-backup"},
		{Parent: "rpool/data", Name: "autosnap_2023-01-01_00:00:00_daily"},
		snapAt(now.Add(-48*time.Hour), zfs.Frequent),
	}

	sweep := planSweep(snaps, fullPolicy, "pyznap", now)

	for _, s := range sweep.Destroy {
		assert.NotEqual(t, "manual-backup", s.Name)
		assert.NotEqual(t, "autosnap_2023-01-01_00:00:00_daily", s.Name)
	}
}

func TestSweepPure(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)

	var snaps []zfs.Snapshot
	for i := 0; i < 30; i++ {
		snaps = append(snaps, snapAt(now.Add(-time.Duration(i)*time.Hour), zfs.Hourly))
	}

	first := planSweep(snaps, fullPolicy, "pyznap", now)
	second := planSweep(snaps, fullPolicy, "pyznap", now)
	assert.Equal(t, first, second)
}

func TestSweepBucketCoverage(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)
	policy := Retention{Hourly: 5}

	// three distinct hourly windows, two of them with a duplicate
	var snaps []zfs.Snapshot
	for _, offset := range []time.Duration{0, 10 * time.Minute, time.Hour, 70 * time.Minute, 2 * time.Hour} {
		snaps = append(snaps, snapAt(now.Add(-offset), zfs.Hourly))
	}

	sweep := planSweep(snaps, policy, "pyznap", now)

	// min(5, 3) windows keep one representative each
	assert.Len(t, sweep.Destroy, 2)
	for _, s := range sweep.Destroy {
		_, g, ok := zfs.ParseSnapshotName("pyznap", s.Name)
		require.True(t, ok)
		assert.Equal(t, zfs.Hourly, g)
	}
}

func TestSweepNestedWindows(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)
	policy := Retention{Frequent: 1}

	snaps := []zfs.Snapshot{
		snapAt(now.Add(-time.Hour), zfs.Hourly),
		snapAt(now, zfs.Frequent),
	}

	// buckets count windows across every pyznap snapshot, so the single
	// frequent slot drops the older hourly one once no bucket wants it
	sweep := planSweep(snaps, policy, "pyznap", now)
	require.Len(t, sweep.Destroy, 1)
	assert.Contains(t, sweep.Destroy[0].Name, "hourly")

	// with the hourly bucket active the same snapshot is its representative
	sweep = planSweep(snaps, Retention{Frequent: 1, Hourly: 24}, "pyznap", now)
	assert.Empty(t, sweep.Destroy)
}

func TestSweepMonotoneCreation(t *testing.T) {
	now := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)

	sweep := planSweep(nil, fullPolicy, "pyznap", now)
	require.Contains(t, sweep.Take, zfs.Frequent)

	// taking the due snapshot keeps it in the next sweep at the same clock
	taken := []zfs.Snapshot{snapAt(now, zfs.Frequent)}
	next := planSweep(taken, fullPolicy, "pyznap", now)
	assert.Empty(t, next.Destroy)
	assert.NotContains(t, next.Take, zfs.Frequent)
}

func TestSweepTakeOrder(t *testing.T) {
	// midnight on January 1st fires every granularity, finest first
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.Local)

	old := []zfs.Snapshot{
		snapAt(now.Add(-365*24*time.Hour), zfs.Yearly),
		snapAt(now.Add(-31*24*time.Hour), zfs.Monthly),
		snapAt(now.Add(-8*24*time.Hour), zfs.Weekly),
		snapAt(now.Add(-25*time.Hour), zfs.Daily),
		snapAt(now.Add(-2*time.Hour), zfs.Hourly),
		snapAt(now.Add(-5*time.Minute), zfs.Frequent),
	}

	sweep := planSweep(old, fullPolicy, "pyznap", now)
	assert.Equal(t, zfs.Granularities, sweep.Take)
}

func TestRetentionCounts(t *testing.T) {
	assert.True(t, fullPolicy.Active())
	assert.False(t, Retention{}.Active())
	assert.Equal(t, 24, fullPolicy.Count(zfs.Hourly))
	assert.Equal(t, 1, fullPolicy.Count(zfs.Yearly))
}

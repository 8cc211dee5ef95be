package pyznap

import (
	"sort"
	"time"

	"github.com/yboetz/pyznap/internal/zfs"
)

// Retention holds the per-bucket keep counts of one dataset.
type Retention struct {
	Frequent int
	Hourly   int
	Daily    int
	Weekly   int
	Monthly  int
	Yearly   int
}

// Count returns the keep count of one bucket.
func (r Retention) Count(g zfs.Granularity) int {
	switch g {
	case zfs.Frequent:
		return r.Frequent
	case zfs.Hourly:
		return r.Hourly
	case zfs.Daily:
		return r.Daily
	case zfs.Weekly:
		return r.Weekly
	case zfs.Monthly:
		return r.Monthly
	case zfs.Yearly:
		return r.Yearly
	}
	return 0
}

func (r *Retention) set(g zfs.Granularity, n int) {
	switch g {
	case zfs.Frequent:
		r.Frequent = n
	case zfs.Hourly:
		r.Hourly = n
	case zfs.Daily:
		r.Daily = n
	case zfs.Weekly:
		r.Weekly = n
	case zfs.Monthly:
		r.Monthly = n
	case zfs.Yearly:
		r.Yearly = n
	}
}

// Active reports whether any bucket keeps snapshots.
func (r Retention) Active() bool {
	for _, g := range zfs.Granularities {
		if r.Count(g) > 0 {
			return true
		}
	}
	return false
}

// Sweep is the outcome of the retention computation: which granularities are
// due for a new snapshot and which existing snapshots fall out of policy.
type Sweep struct {
	Take    []zfs.Granularity `json:"take,omitempty"`
	Destroy []zfs.Snapshot    `json:"destroy,omitempty"`
}

type stamped struct {
	snap zfs.Snapshot
	time time.Time
	gran zfs.Granularity
	rank int
}

// planSweep computes the retention sweep for one dataset. It is a pure
// function of the snapshot list, the policy, and the clock; snapshots whose
// names do not match the prefix and schema are foreign and never destroyed.
//
// The buckets are nested windows over all matching snapshots: walking from
// the newest to the oldest, the first snapshot in each distinct window of a
// bucket represents that window, and the bucket keeps its N most recent
// representatives. A snapshot survives when any bucket keeps it, so one
// snapshot can serve as the newest frequent, hourly, and daily all at once.
// Snapshots sharing a timestamp are distinct; at a tie a bucket prefers the
// snapshot carrying its own suffix, which keeps a freshly taken batch of six
// granularities stable across back-to-back sweeps.
//
// A new snapshot of granularity G is due when the bucket is active and the
// newest snapshot carrying the G suffix does not fall in the current window.
func planSweep(snaps []zfs.Snapshot, ret Retention, prefix string, now time.Time) Sweep {
	var all []stamped
	newest := make(map[zfs.Granularity]time.Time)
	for _, snap := range snaps {
		t, g, ok := zfs.ParseSnapshotName(prefix, snap.Name)
		if !ok {
			continue
		}
		all = append(all, stamped{snap: snap, time: t, gran: g, rank: rank(g)})
		if prev, seen := newest[g]; !seen || t.After(prev) {
			newest[g] = t
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].time.Equal(all[j].time) {
			return all[i].time.Before(all[j].time)
		}
		return all[i].rank < all[j].rank
	})

	var sweep Sweep
	kept := make([]bool, len(all))

	for _, g := range zfs.Granularities {
		count := ret.Count(g)
		if count == 0 {
			continue
		}

		if t, ok := newest[g]; !ok || !zfs.SameWindow(g, t, now) {
			sweep.Take = append(sweep.Take, g)
		}

		order := bucketOrder(all, g)
		windows := 0
		var last time.Time
		for n := len(order) - 1; n >= 0; n-- {
			i := order[n]
			if windows > 0 && zfs.SameWindow(g, all[i].time, last) {
				continue
			}
			windows++
			if windows > count {
				break
			}
			kept[i] = true
			last = all[i].time
		}
	}

	for i := range all {
		if !kept[i] {
			sweep.Destroy = append(sweep.Destroy, all[i].snap)
		}
	}
	return sweep
}

// bucketOrder sorts indices chronologically with same-timestamp ties broken
// so the bucket's own suffix sits newest.
func bucketOrder(all []stamped, g zfs.Granularity) []int {
	order := make([]int, len(all))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := all[order[a]], all[order[b]]
		if !x.time.Equal(y.time) {
			return x.time.Before(y.time)
		}
		if (x.gran == g) != (y.gran == g) {
			return y.gran == g
		}
		return x.rank < y.rank
	})
	return order
}

func rank(g zfs.Granularity) int {
	for i, o := range zfs.Granularities {
		if o == g {
			return i
		}
	}
	return len(zfs.Granularities)
}

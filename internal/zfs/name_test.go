package zfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotNameRoundTrip(t *testing.T) {
	stamps := []time.Time{
		time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local),
		time.Date(2023, time.December, 31, 23, 59, 59, 0, time.Local),
		time.Date(2020, time.February, 29, 1, 2, 3, 0, time.Local),
	}

	for _, stamp := range stamps {
		for _, g := range Granularities {
			name := SnapshotName("pyznap", stamp, g)
			parsed, gran, ok := ParseSnapshotName("pyznap", name)
			assert.True(t, ok, name)
			assert.True(t, stamp.Equal(parsed), name)
			assert.Equal(t, g, gran, name)
		}
	}
}

func TestSnapshotNameFormat(t *testing.T) {
	stamp := time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)
	assert.Equal(t, "pyznap_2024-03-14_12:00:00_frequent", SnapshotName("pyznap", stamp, Frequent))
}

func TestParseSnapshotNameRejectsForeign(t *testing.T) {
	foreign := []string{
		"manual-backup",
		"pyznap",
		"pyznap_2024-03-14",
		"pyznap_2024-03-14_12:00:00",
		"pyznap_2024-03-14_12:00:00_minutely",
		"pyznap_2024-3-14_12:00:00_daily",
		"pyznap_2024-03-14_12:00_daily",
		"pyznap_2024-02-30_12:00:00_daily",
		"autosnap_2024-03-14_12:00:00_daily",
		"pyznap_2024-03-14_12:00:00_daily_extra",
	}

	for _, name := range foreign {
		_, _, ok := ParseSnapshotName("pyznap", name)
		assert.False(t, ok, name)
	}
}

func TestParseSnapshotNameCustomPrefix(t *testing.T) {
	_, g, ok := ParseSnapshotName("backup", "backup_2024-03-14_12:00:00_hourly")
	assert.True(t, ok)
	assert.Equal(t, Hourly, g)

	_, _, ok = ParseSnapshotName("backup", "pyznap_2024-03-14_12:00:00_hourly")
	assert.False(t, ok)
}

func TestSameWindow(t *testing.T) {
	base := time.Date(2024, time.March, 14, 12, 30, 15, 0, time.Local)

	cases := []struct {
		granularity Granularity
		other       time.Time
		same        bool
	}{
		{Frequent, time.Date(2024, time.March, 14, 12, 30, 59, 0, time.Local), true},
		{Frequent, time.Date(2024, time.March, 14, 12, 31, 0, 0, time.Local), false},
		{Hourly, time.Date(2024, time.March, 14, 12, 59, 0, 0, time.Local), true},
		{Hourly, time.Date(2024, time.March, 14, 13, 0, 0, 0, time.Local), false},
		{Daily, time.Date(2024, time.March, 14, 0, 0, 0, 0, time.Local), true},
		{Daily, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.Local), false},
		{Weekly, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.Local), true},  // same ISO week
		{Weekly, time.Date(2024, time.March, 18, 0, 0, 0, 0, time.Local), false}, // next ISO week
		{Monthly, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.Local), true},
		{Monthly, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.Local), false},
		{Yearly, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.Local), true},
		{Yearly, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.Local), false},
	}

	for _, c := range cases {
		assert.Equal(t, c.same, SameWindow(c.granularity, base, c.other), "%s vs %s", c.granularity, c.other)
	}
}

func TestSameWindowISOWeekYear(t *testing.T) {
	// 2024-12-30 and 2025-01-02 share ISO week 1 of 2025
	a := time.Date(2024, time.December, 30, 10, 0, 0, 0, time.Local)
	b := time.Date(2025, time.January, 2, 10, 0, 0, 0, time.Local)
	assert.True(t, SameWindow(Weekly, a, b))
	assert.False(t, SameWindow(Yearly, a, b))
}

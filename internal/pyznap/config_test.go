package pyznap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pyznap.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[rpool]
frequent = 4
hourly = 24
daily = 7
snap = yes
clean = yes
dest = tank/backup, ssh:2222:root@backup:tank/offsite
compress = none, lzop
exclude = , rpool/data rpool/home/*
raw_send = no, yes
resume = no, yes
dest_auto_create = no, yes
retries = 0, 3
retry_interval = 10, 30
`))
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 1)

	entry := cfg.Entries[0]
	assert.Equal(t, "rpool", entry.Location.Path)
	assert.True(t, entry.Snap)
	assert.True(t, entry.Clean)
	assert.Equal(t, Retention{Frequent: 4, Hourly: 24, Daily: 7}, entry.Retention)

	require.Len(t, entry.Dests, 2)
	local, offsite := entry.Dests[0], entry.Dests[1]

	assert.True(t, local.Location.Host.Local())
	assert.Equal(t, "none", local.Compress)
	assert.False(t, local.Raw)
	assert.Equal(t, 0, local.Retries)
	assert.Equal(t, 10*time.Second, local.RetryInterval)

	assert.Equal(t, "root", offsite.Location.Host.User)
	assert.Equal(t, 2222, offsite.Location.Host.Port)
	assert.Equal(t, "lzop", offsite.Compress)
	assert.True(t, offsite.Raw)
	assert.True(t, offsite.Resume)
	assert.True(t, offsite.AutoCreate)
	assert.Equal(t, 3, offsite.Retries)
	assert.Equal(t, 30*time.Second, offsite.RetryInterval)
}

func TestConfigInheritance(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[rpool]
frequent = 4
hourly = 24
snap = yes
clean = yes

[rpool/home/docs]
hourly = 48
clean = no
`))
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 2)

	parent, child := cfg.Entries[0], cfg.Entries[1]
	assert.Equal(t, "rpool", parent.Name)

	// unset keys flow down, set keys win
	assert.Equal(t, 4, child.Retention.Frequent)
	assert.Equal(t, 48, child.Retention.Hourly)
	assert.True(t, child.Snap)
	assert.False(t, child.Clean)
}

func TestConfigCovers(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[rpool]
snap = yes

[rpool/home]
snap = yes
`))
	require.NoError(t, err)

	root, home := cfg.Entries[0], cfg.Entries[1]
	assert.True(t, cfg.Covers(root, "rpool"))
	assert.True(t, cfg.Covers(root, "rpool/data"))
	assert.False(t, cfg.Covers(root, "rpool/home"))
	assert.False(t, cfg.Covers(root, "rpool/home/docs"))
	assert.True(t, cfg.Covers(home, "rpool/home/docs"))
	// no false prefix matches on sibling names
	assert.True(t, cfg.Covers(root, "rpool/homestead"))
}

func TestConfigDestListLengthMismatch(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
[rpool]
dest = tank/backup, tank/other
compress = lzop
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compress")
}

func TestConfigRejectsBadValues(t *testing.T) {
	for _, content := range []string{
		"[rpool]\nfrequent = -1\n",
		"[rpool]\nfrequent = often\n",
		"[rpool]\nsnap = maybe\n",
		"[rpool]\ncompress = zip\ndest = tank/backup\n",
		"[rpool]\ndest = ssh:badport:root@host:tank\n",
	} {
		_, err := LoadConfig(writeConfig(t, content))
		assert.Error(t, err, content)
	}
}

func TestConfigInlineComments(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[rpool]
frequent = 4 # keep four
snap = yes
`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Entries[0].Retention.Frequent)
}

func TestDestExcluded(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[rpool]
dest = tank/backup
exclude = rpool/data rpool/home/*
`))
	require.NoError(t, err)
	dest := &cfg.Entries[0].Dests[0]

	// replicated: rpool, rpool/home; skipped: rpool/data, rpool/home/docs
	assert.False(t, dest.Excluded("rpool"))
	assert.False(t, dest.Excluded("rpool/home"))
	assert.True(t, dest.Excluded("rpool/data"))
	assert.True(t, dest.Excluded("rpool/home/docs"))
}

func TestNewSendConfig(t *testing.T) {
	cfg, err := NewSendConfig(SendOverrides{
		Source:        "rpool/data",
		Dest:          "ssh::root@backup:tank/backup",
		Key:           "/root/.ssh/id_rsa",
		Exclude:       []string{"rpool/data/tmp"},
		Resume:        true,
		Retries:       2,
		RetryInterval: 10 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 1)

	entry := cfg.Entries[0]
	assert.Empty(t, entry.Retention)
	require.Len(t, entry.Dests, 1)

	dest := entry.Dests[0]
	assert.Equal(t, "/root/.ssh/id_rsa", dest.Location.Host.Key)
	assert.True(t, dest.Resume)
	assert.True(t, dest.Excluded("rpool/data/tmp"))
}

func TestNewSendConfigBothRemote(t *testing.T) {
	cfg, err := NewSendConfig(SendOverrides{
		Source:    "ssh::root@src:rpool/data",
		Dest:      "ssh::root@dst:tank/backup",
		SourceKey: "/keys/src",
		DestKey:   "/keys/dst",
	})
	require.NoError(t, err)

	entry := cfg.Entries[0]
	assert.Equal(t, "/keys/src", entry.Location.Host.Key)
	assert.Equal(t, "/keys/dst", entry.Dests[0].Location.Host.Key)
}

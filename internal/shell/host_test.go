package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"rpool/data":                       "rpool/data",
		"":                                 "''",
		"tank/my data":                     "'tank/my data'",
		"tank/it's":                        `'tank/it'\''s'`,
		"a;rm -rf /":                       "'a;rm -rf /'",
		"pyznap_2024-03-14_12:00:00_daily": "pyznap_2024-03-14_12:00:00_daily",
	}

	for in, want := range cases {
		assert.Equal(t, want, Quote(in), in)
	}
}

func TestQuoteAll(t *testing.T) {
	assert.Equal(t, "zfs list 'tank/my data'", QuoteAll([]string{"zfs", "list", "tank/my data"}))
}

func TestHostLocal(t *testing.T) {
	assert.True(t, Host{}.Local())
	assert.False(t, Host{User: "root", Addr: "backup"}.Local())
	assert.Equal(t, "localhost", Host{}.String())
	assert.Equal(t, "root@backup", Host{User: "root", Addr: "backup"}.String())
}

func TestHostSame(t *testing.T) {
	a := Host{User: "root", Addr: "backup"}
	b := Host{User: "root", Addr: "backup", Port: 22}
	c := Host{User: "root", Addr: "backup", Port: 2222}

	assert.True(t, a.Same(b))
	assert.False(t, a.Same(c))
	assert.True(t, a.Same(Host{User: "root", Addr: "backup", Key: "/other/key"}))
}

func TestSSHArgs(t *testing.T) {
	h := Host{User: "root", Addr: "backup", Port: 2222, Key: "/root/.ssh/id_rsa"}
	args := h.sshArgs("/tmp/sock")

	assert.Equal(t, "ssh", args[0])
	assert.Contains(t, args, "BatchMode=yes")
	assert.Contains(t, args, "ControlPath=/tmp/sock")
	assert.Contains(t, args, "-i")
	assert.Contains(t, args, "/root/.ssh/id_rsa")
	assert.Contains(t, args, "2222")
	assert.Equal(t, "root@backup", args[len(args)-1])
}

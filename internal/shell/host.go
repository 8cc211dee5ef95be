package shell

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Host identifies where a command runs. The zero value is the local host.
type Host struct {
	User string
	Addr string
	Port int
	Key  string
}

// Local reports whether commands for this host run without ssh.
func (h Host) Local() bool {
	return h.Addr == ""
}

func (h Host) String() string {
	if h.Local() {
		return "localhost"
	}
	return h.User + "@" + h.Addr
}

// Same reports whether two hosts reach the same machine.
func (h Host) Same(o Host) bool {
	return h.User == o.User && h.Addr == o.Addr && h.port() == o.port()
}

func (h Host) port() int {
	if h.Port == 0 {
		return 22
	}
	return h.Port
}

func (h Host) key() string {
	return fmt.Sprintf("%s:%d", h.String(), h.port())
}

// sshArgs builds the ssh invocation prefix for the host. The control socket
// keeps a master connection alive across commands of one invocation.
func (h Host) sshArgs(socket string) []string {
	args := []string{
		"ssh",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"-o", "ControlMaster=auto",
		"-o", "ControlPersist=1m",
		"-o", "ControlPath=" + socket,
	}
	if h.Key != "" {
		args = append(args, "-i", h.Key)
	}
	args = append(args, "-p", strconv.Itoa(h.port()), h.User+"@"+h.Addr)
	return args
}

var plain = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

// Quote escapes an argument for a POSIX shell. ZFS dataset names may contain
// spaces and single quotes.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if plain.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes every argument and joins them into one shell word sequence.
func QuoteAll(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

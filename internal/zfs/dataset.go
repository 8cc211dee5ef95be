package zfs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yboetz/pyznap/internal/shell"
)

// Kind is the ZFS dataset type as reported by 'zfs list'.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindVolume     Kind = "volume"
	KindSnapshot   Kind = "snapshot"
	KindBookmark   Kind = "bookmark"
)

// Dataset is a filesystem or volume observed on a host.
type Dataset struct {
	Path        string
	Kind        Kind
	ResumeToken string
}

// Snapshot references a snapshot by its parent dataset and short name.
type Snapshot struct {
	Parent string
	Name   string
}

// Path returns the full ZFS path of the snapshot.
func (s Snapshot) Path() string {
	return s.Parent + "@" + s.Name
}

func (s Snapshot) String() string {
	return s.Path()
}

// ParseSnapshotPath splits 'pool/data@name' at the separator.
func ParseSnapshotPath(path string) (Snapshot, error) {
	parent, name, ok := strings.Cut(path, "@")
	if !ok || parent == "" || name == "" {
		return Snapshot{}, ErrParse.New("'%s' is not a snapshot path", path)
	}
	return Snapshot{Parent: parent, Name: name}, nil
}

// Location is a fully qualified reference to a dataset, local or remote.
type Location struct {
	Host shell.Host
	Path string
}

func (l Location) String() string {
	if l.Host.Local() {
		return l.Path
	}
	return fmt.Sprintf("%s:%s", l.Host, l.Path)
}

// ParseLocation parses 'ssh:PORT:USER@HOST:DATASET' or a plain dataset path.
// An empty PORT means 22.
func ParseLocation(value string) (Location, error) {
	if !strings.HasPrefix(value, "ssh:") {
		if value == "" {
			return Location{}, ErrParse.New("empty dataset path")
		}
		return Location{Path: value}, nil
	}

	parts := strings.SplitN(value, ":", 4)
	if len(parts) != 4 {
		return Location{}, ErrParse.New("cannot parse location '%s'", value)
	}

	port := 22
	if parts[1] != "" {
		p, err := strconv.Atoi(parts[1])
		if err != nil {
			return Location{}, ErrParse.New("invalid port in '%s'", value)
		}
		port = p
	}

	user, host, ok := strings.Cut(parts[2], "@")
	if !ok || user == "" || host == "" {
		return Location{}, ErrParse.New("cannot parse user@host in '%s'", value)
	}
	if parts[3] == "" {
		return Location{}, ErrParse.New("empty dataset path in '%s'", value)
	}

	return Location{
		Host: shell.Host{User: user, Addr: host, Port: port},
		Path: parts[3],
	}, nil
}

// Rebase maps a source dataset path onto the destination tree by swapping the
// root prefix.
func Rebase(path, srcRoot, dstRoot string) string {
	if path == srcRoot {
		return dstRoot
	}
	return dstRoot + strings.TrimPrefix(path, srcRoot)
}

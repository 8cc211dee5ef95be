package zfs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/joomcode/errorx"
	"github.com/yboetz/pyznap/internal/shell"
)

const listProps = "name,type,receive_resume_token"

// Zfs exposes typed ZFS operations on one host, local or remote, by wrapping
// the command-line 'zfs' utility through a shell.Runner.
type Zfs struct {
	runner *shell.Runner
	host   shell.Host

	mu    sync.Mutex
	sizes map[string]int64
}

// New binds a Zfs adapter to a host.
func New(runner *shell.Runner, host shell.Host) *Zfs {
	return &Zfs{
		runner: runner,
		host:   host,
		sizes:  make(map[string]int64),
	}
}

// Host returns the host this adapter targets.
func (z *Zfs) Host() shell.Host {
	return z.host
}

// Runner exposes the underlying runner for pipeline assembly.
func (z *Zfs) Runner() *shell.Runner {
	return z.runner
}

func (z *Zfs) run(ctx context.Context, dataset string, argv ...string) (string, error) {
	out, err := z.runner.Output(ctx, z.host, argv...)
	if err != nil {
		if errorx.IsOfType(err, shell.ErrRemote) {
			return "", Classify(shell.Stderr(err), dataset)
		}
		return "", err
	}
	return out, nil
}

// CheckTools verifies the required binaries are present on the host.
func (z *Zfs) CheckTools(ctx context.Context) error {
	for _, tool := range []string{"zfs", "zpool"} {
		if !z.runner.ToolAvailable(ctx, z.host, tool) {
			return shell.ErrToolMissing.New("'%s' not found on %s", tool, z.host)
		}
	}
	return nil
}

// Available probes for an optional tool on the host.
func (z *Zfs) Available(ctx context.Context, tool string) bool {
	return z.runner.ToolAvailable(ctx, z.host, tool)
}

func parseListing(out string) ([]Dataset, error) {
	var datasets []Dataset
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, ErrParse.New("cannot parse listing row '%s'", line)
		}
		token := fields[2]
		if token == "-" {
			token = ""
		}
		datasets = append(datasets, Dataset{
			Path:        fields[0],
			Kind:        Kind(fields[1]),
			ResumeToken: token,
		})
	}
	return datasets, nil
}

// List enumerates the dataset subtree under root, depth first, the root
// itself included.
func (z *Zfs) List(ctx context.Context, root string) ([]Dataset, error) {
	out, err := z.run(ctx, root, "zfs", "list", "-H", "-p", "-r",
		"-t", "filesystem,volume", "-o", listProps, "-s", "name", root)
	if err != nil {
		return nil, err
	}
	return parseListing(out)
}

// Get opens a single dataset.
func (z *Zfs) Get(ctx context.Context, path string) (*Dataset, error) {
	out, err := z.run(ctx, path, "zfs", "list", "-H", "-p", "-d", "0",
		"-t", "filesystem,volume", "-o", listProps, path)
	if err != nil {
		return nil, err
	}
	datasets, err := parseListing(out)
	if err != nil {
		return nil, err
	}
	if len(datasets) != 1 {
		return nil, ErrParse.New("expected one dataset for '%s', got %d", path, len(datasets))
	}
	return &datasets[0], nil
}

// Snapshots lists the snapshots of one dataset, oldest first.
func (z *Zfs) Snapshots(ctx context.Context, path string) ([]Snapshot, error) {
	out, err := z.run(ctx, path, "zfs", "list", "-H", "-p", "-d", "1",
		"-t", "snapshot", "-o", "name", "-s", "creation", path)
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		snap, err := ParseSnapshotPath(line)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// CreateSnapshot takes a snapshot, atomically per ZFS semantics.
func (z *Zfs) CreateSnapshot(ctx context.Context, path, name string, recursive bool) error {
	argv := []string{"zfs", "snapshot"}
	if recursive {
		argv = append(argv, "-r")
	}
	argv = append(argv, path+"@"+name)
	_, err := z.run(ctx, path+"@"+name, argv...)
	return err
}

// CreateDataset creates a dataset and any missing parents. ZFS complains when
// a non-root user cannot mount the result; that still counts as created.
func (z *Zfs) CreateDataset(ctx context.Context, path string) error {
	_, err := z.run(ctx, path, "zfs", "create", "-p", path)
	if err != nil && strings.Contains(err.Error(), "successfully created, but it may only be mounted") {
		return nil
	}
	return err
}

// DestroySnapshot destroys a single snapshot. Snapshots with holds or clones
// fail with ErrBusy.
func (z *Zfs) DestroySnapshot(ctx context.Context, snap Snapshot) error {
	_, err := z.run(ctx, snap.Path(), "zfs", "destroy", snap.Path())
	return err
}

// Holds returns the hold tags on a snapshot.
func (z *Zfs) Holds(ctx context.Context, snap Snapshot) ([]string, error) {
	out, err := z.run(ctx, snap.Path(), "zfs", "holds", "-H", snap.Path())
	if err != nil {
		return nil, err
	}

	var holds []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, ErrParse.New("cannot parse holds row '%s'", line)
		}
		holds = append(holds, fields[1])
	}
	return holds, nil
}

// Hold places a hold on a snapshot.
func (z *Zfs) Hold(ctx context.Context, snap Snapshot, tag string) error {
	_, err := z.run(ctx, snap.Path(), "zfs", "hold", tag, snap.Path())
	return err
}

// Release removes a hold. A missing tag is not an error.
func (z *Zfs) Release(ctx context.Context, snap Snapshot, tag string) error {
	_, err := z.run(ctx, snap.Path(), "zfs", "release", tag, snap.Path())
	if err != nil && strings.Contains(err.Error(), "no such tag on this dataset") {
		return nil
	}
	return err
}

// ReceiveInProgress probes the host's process table for a receive into the
// dataset. Errors during the probe count as in progress, which keeps us from
// racing an ongoing transfer.
func (z *Zfs) ReceiveInProgress(ctx context.Context, path string) bool {
	out, err := z.runner.Output(ctx, z.host, "ps", "-Ao", "args=")
	if err != nil {
		return true
	}
	pattern := regexp.MustCompile(`zfs (receive|recv).*` + regexp.QuoteMeta(path) + `($|\s)`)
	for _, line := range strings.Split(out, "\n") {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// ReceiveAbort discards the partial receive state of a dataset.
func (z *Zfs) ReceiveAbort(ctx context.Context, path string) error {
	_, err := z.run(ctx, path, "zfs", "receive", "-A", path)
	return err
}

// StreamSize estimates the size of a send via a dry run. Estimation is best
// effort for display only; failures yield zero.
func (z *Zfs) StreamSize(ctx context.Context, snap Snapshot, base *Snapshot, raw bool, token string) int64 {
	basePath := ""
	if base != nil {
		basePath = base.Path()
	}
	key := fmt.Sprintf("%s|%s|%t|%s", snap.Path(), basePath, raw, token)

	z.mu.Lock()
	if size, ok := z.sizes[key]; ok {
		z.mu.Unlock()
		return size
	}
	z.mu.Unlock()

	argv := []string{"zfs", "send", "-nvP"}
	if raw {
		argv = append(argv, "-w")
	}
	if token != "" {
		argv = append(argv, "-t", token)
	} else {
		if base != nil {
			argv = append(argv, "-I", base.Path())
		}
		argv = append(argv, snap.Path())
	}

	out, err := z.run(ctx, snap.Path(), argv...)
	if err != nil {
		return 0
	}

	var size int64
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > 0 {
		fields := strings.Fields(lines[len(lines)-1])
		if len(fields) > 0 {
			if n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil {
				size = n
			}
		}
	}

	z.mu.Lock()
	z.sizes[key] = size
	z.mu.Unlock()
	return size
}

// SendArgs builds the zfs send argument vector for one replication action.
// A token resumes an interrupted receive; a base selects an incremental
// stream carrying all intermediate snapshots.
func SendArgs(snap Snapshot, base *Snapshot, raw bool, token string) []string {
	argv := []string{"zfs", "send"}
	if token != "" {
		return append(argv, "-t", token)
	}
	if raw {
		argv = append(argv, "-w")
	}
	if base != nil {
		argv = append(argv, "-I", base.Path())
	}
	return append(argv, snap.Path())
}

// ReceiveArgs builds the zfs receive argument vector. -F rolls the
// destination back to the incremental base, -u leaves it unmounted, -s keeps
// resumable state.
func ReceiveArgs(path string, resume bool) []string {
	argv := []string{"zfs", "receive", "-F", "-u"}
	if resume {
		argv = append(argv, "-s")
	}
	return append(argv, path)
}

package pyznap

import (
	"context"
	"errors"

	"github.com/gofrs/flock"
	"github.com/yboetz/pyznap/internal/shell"
)

// Pyznap drives snapshot retention and replication for the configured
// dataset tree.
type Pyznap struct {
	ctx    context.Context
	cfg    *Config
	runner *shell.Runner
	prefix string
	dryRun bool
}

// New instantiates Pyznap. The context cancels all in-flight work on
// interrupt.
func New(ctx context.Context, cfg *Config, dryRun bool) *Pyznap {
	return &Pyznap{
		ctx:    ctx,
		cfg:    cfg,
		runner: shell.NewRunner(),
		prefix: DefaultPrefix,
		dryRun: dryRun,
	}
}

// Close releases ssh control connections.
func (p *Pyznap) Close() {
	p.runner.Close()
}

// Take creates snapshots according to policy.
func (p *Pyznap) Take() error {
	return p.newSnapper().take()
}

// Clean destroys snapshots that fall out of policy.
func (p *Pyznap) Clean() error {
	return p.newSnapper().clean()
}

// Full takes snapshots, then cleans. Both phases always run; a failed take
// on one dataset must not keep retention from sweeping the rest.
func (p *Pyznap) Full() error {
	return errors.Join(p.Take(), p.Clean())
}

// Send replicates snapshots to every configured destination.
func (p *Pyznap) Send() error {
	return p.newSender().send()
}

// AcquireLock takes the invocation lock so overlapping cron ticks do not
// race. The returned release function is safe to call once.
func AcquireLock(path string) (func(), error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, ErrLocked.Wrap(err, "cannot acquire lock '%s'", path)
	}
	if !ok {
		return nil, ErrLocked.New("another pyznap instance holds '%s'", path)
	}
	return func() { _ = lock.Unlock() }, nil
}

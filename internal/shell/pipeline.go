package shell

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// teardownGrace is how long a signalled stage gets before SIGKILL.
	teardownGrace = 10 * time.Second

	// stderrCap bounds the captured stderr of each stage.
	stderrCap = 64 * 1024
)

// Stage is one process of a pipeline. Commands beyond the first are piped
// together in a shell on the stage's host, so a remote stage costs a single
// ssh connection no matter how many tools it chains.
type Stage struct {
	Host     Host
	Commands [][]string

	// EchoStderr streams the stage's stderr to the terminal while the tail
	// is still captured. Used for pv progress output.
	EchoStderr bool
}

func (s Stage) name() string {
	parts := make([]string, len(s.Commands))
	for i, cmd := range s.Commands {
		parts[i] = cmd[0]
	}
	return strings.Join(parts, "|")
}

func (s Stage) script() string {
	parts := make([]string, len(s.Commands))
	for i, cmd := range s.Commands {
		parts[i] = QuoteAll(cmd)
	}
	return strings.Join(parts, " | ")
}

// Pipeline joins stages stdout to stdin, left to right, across host
// boundaries. The stream always traverses the local machine, so a remote to
// remote transfer spawns two ssh connections joined here.
type Pipeline struct {
	runner *Runner
	stages []Stage
	grace  time.Duration
}

// Pipeline assembles a pipeline from stages.
func (r *Runner) Pipeline(stages ...Stage) *Pipeline {
	return &Pipeline{
		runner: r,
		stages: stages,
		grace:  teardownGrace,
	}
}

func (p *Pipeline) command(ctx context.Context, s Stage) *exec.Cmd {
	if s.Host.Local() {
		if len(s.Commands) == 1 {
			argv := s.Commands[0]
			return exec.CommandContext(ctx, argv[0], argv[1:]...)
		}
		return exec.CommandContext(ctx, "sh", "-c", s.script())
	}
	full := append(s.Host.sshArgs(p.runner.socket(s.Host)), s.script())
	return exec.CommandContext(ctx, full[0], full[1:]...)
}

// Run starts every stage, wires the file descriptors, and waits. On failure
// the remaining stages get SIGTERM, then SIGKILL after a grace period. The
// canonical error is the first stage, in pipeline order, that failed on its
// own; stages killed during teardown or by a broken pipe never mask it.
func (p *Pipeline) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	n := len(p.stages)
	cmds := make([]*exec.Cmd, n)
	tails := make([]*tailBuffer, n)

	for i, stage := range p.stages {
		cmd := p.command(egCtx, stage)
		cmd.WaitDelay = p.grace
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}

		tail := newTailBuffer(stderrCap)
		if stage.EchoStderr {
			cmd.Stderr = io.MultiWriter(tail, os.Stderr)
		} else {
			cmd.Stderr = tail
		}

		cmds[i] = cmd
		tails[i] = tail
	}
	cmds[n-1].Stdout = io.Discard

	var pipes []*os.File
	closePipes := func() {
		for _, f := range pipes {
			f.Close()
		}
		pipes = nil
	}

	for i := 0; i < n-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			closePipes()
			return ErrPipeline.Wrap(err, "cannot allocate pipe")
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		pipes = append(pipes, pr, pw)
	}

	started := 0
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			closePipes()
			for j := 0; j < started; j++ {
				_ = cmds[j].Process.Kill()
				_ = cmds[j].Wait()
			}
			if ctx.Err() != nil {
				return ErrCancelled.New("pipeline interrupted")
			}
			return ErrPipeline.Wrap(err, "cannot start '%s'", p.stages[i].name())
		}
		started++
	}
	// the children hold duplicates now; release ours so EOF propagates
	closePipes()

	results := make([]error, n)
	for i := range cmds {
		i := i
		eg.Go(func() error {
			results[i] = cmds[i].Wait()
			return results[i]
		})
	}
	_ = eg.Wait()

	return p.verdict(ctx, results, tails)
}

func (p *Pipeline) verdict(ctx context.Context, results []error, tails []*tailBuffer) error {
	failed := false
	for _, err := range results {
		if err != nil {
			failed = true
			break
		}
	}
	if !failed {
		return nil
	}

	for i, err := range results {
		if err == nil || signalled(err) {
			continue
		}
		tail := trimStderr(tails[i].String())
		if transient(tail) {
			continue
		}
		return ErrPipeline.New("'%s' failed: %s", p.stages[i].name(), tail).
			WithProperty(PropertyStderr, tail)
	}

	if ctx.Err() != nil {
		return ErrCancelled.New("pipeline interrupted")
	}

	// every failure was a broken pipe or a dropped connection
	for i, err := range results {
		if err == nil || signalled(err) {
			continue
		}
		tail := trimStderr(tails[i].String())
		return ErrTransport.New("'%s' lost its stream: %s", p.stages[i].name(), tail).
			WithProperty(PropertyStderr, tail)
	}
	return ErrTransport.New("pipeline torn down without a primary error")
}

// signalled reports whether the process died from a signal, ours or a broken
// pipe delivered by the kernel.
func signalled(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	code := exitErr.ExitCode()
	return code == -1 || code == 128+int(syscall.SIGTERM) || code == 128+int(syscall.SIGINT) || code == 128+int(syscall.SIGPIPE)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.b = append(t.b, p...)
	if len(t.b) > t.max {
		t.b = t.b[len(t.b)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

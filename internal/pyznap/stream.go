package pyznap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joomcode/errorx"
	"github.com/yboetz/pyznap/internal/shell"
	"github.com/yboetz/pyznap/internal/zfs"
)

const mib = 1 << 20

// compressors maps an algorithm to its compress and decompress commands.
var compressors = map[string][2][]string{
	"lzop":  {{"lzop"}, {"lzop", "-dfc"}},
	"lz4":   {{"lz4"}, {"lz4", "-dc"}},
	"gzip":  {{"gzip", "-3"}, {"zcat"}},
	"pigz":  {{"pigz"}, {"pigz", "-dc"}},
	"bzip2": {{"bzip2"}, {"bzip2", "-dc"}},
	"xz":    {{"xz"}, {"xz", "-d"}},
}

// perform materializes one replication action as a two stage pipeline: the
// send side chains zfs send, mbuffer, pv, and the compressor on the source
// host, the receive side chains the decompressor, mbuffer, and zfs receive
// on the destination host.
func (s *sender) perform(entry *Entry, src, dst *zfs.Zfs, action Action, dstPath string, dest *Dest) error {
	size := src.StreamSize(s.ctx, action.Snapshot, action.Base, dest.Raw, action.Token)

	switch action.Kind {
	case ActionResume:
		Logger.Info().Msgf("found resume token, resuming transfer of %s (~%s)", dstPath, bytesFmt(size))
	case ActionFull:
		Logger.Info().Msgf("no common snapshots on %s, sending oldest snapshot %s (~%s)",
			dstPath, action.Snapshot, bytesFmt(size))
	case ActionIncremental:
		Logger.Info().Msgf("updating %s with snapshot %s (~%s)", dstPath, action.Snapshot, bytesFmt(size))
	}

	if s.pyznap.dryRun || entry.DryRun {
		Logger.Info().Msgf("sending %s to %s *** DRY RUN ***", action.Snapshot, dstPath)
		return nil
	}

	crossing := !src.Host().Local() || !dst.Host().Local()
	compress, decompress := s.compression(src, dst, dest, crossing)

	srcCmds := [][]string{zfs.SendArgs(action.Snapshot, action.Base, dest.Raw, action.Token)}
	if size >= mib && src.Available(s.ctx, "mbuffer") {
		srcCmds = append(srcCmds, mbufferArgs(size, crossing))
	}
	echo := false
	if size >= mib && src.Available(s.ctx, "pv") {
		srcCmds = append(srcCmds, pvArgs(size))
		echo = true
	}
	if compress != nil {
		srcCmds = append(srcCmds, compress)
	}

	var dstCmds [][]string
	if decompress != nil {
		dstCmds = append(dstCmds, decompress)
	}
	if crossing && size >= mib && dst.Available(s.ctx, "mbuffer") {
		dstCmds = append(dstCmds, mbufferArgs(size, crossing))
	}
	dstCmds = append(dstCmds, zfs.ReceiveArgs(dstPath, dest.Resume))

	pipeline := s.pyznap.runner.Pipeline(
		shell.Stage{Host: src.Host(), Commands: srcCmds, EchoStderr: echo},
		shell.Stage{Host: dst.Host(), Commands: dstCmds},
	)

	err := pipeline.Run(s.ctx)
	if err != nil && errorx.IsOfType(err, shell.ErrPipeline) {
		if tail := shell.Stderr(err); tail != "" {
			if classified := zfs.Classify(tail, dstPath); !errorx.IsOfType(classified, zfs.ErrGeneric) {
				return classified
			}
		}
	}
	return err
}

// compression picks the stream compressor. Streams only compress across an
// ssh boundary and never for raw sends. Without a configured algorithm lzop
// is used when both ends have it, and the stream is sent uncompressed
// otherwise; a configured algorithm missing on either end drops compression
// with a warning.
func (s *sender) compression(src, dst *zfs.Zfs, dest *Dest, crossing bool) ([]string, []string) {
	if !crossing || dest.Raw {
		return nil, nil
	}

	algo := dest.Compress
	if algo == "" {
		algo = "lzop"
		if !src.Available(s.ctx, "lzop") || !dst.Available(s.ctx, "lzop") {
			return nil, nil
		}
	}
	if algo == "none" {
		return nil, nil
	}

	cmds, ok := compressors[algo]
	if !ok {
		return nil, nil
	}
	if !src.Available(s.ctx, algo) || !dst.Available(s.ctx, algo) {
		Logger.Warn().Msgf("'%s' not available on both ends, sending uncompressed", algo)
		return nil, nil
	}
	Logger.Debug().Msgf("using '%s' compression for the transfer", algo)
	return cmds[0], cmds[1]
}

// mbufferArgs sizes the buffer to the stream, at least 1M and at most 256M
// over ssh or 512M locally.
func mbufferArgs(size int64, crossing bool) []string {
	limit := int64(512)
	if crossing {
		limit = 256
	}
	m := size / mib
	if m < 1 {
		m = 1
	}
	if m > limit {
		m = limit
	}
	return []string{"mbuffer", "-q", "-s", "128K", "-m", fmt.Sprintf("%dM", m)}
}

// pvArgs renders progress at 100 columns; with stdout redirected it falls
// back to one line per minute.
func pvArgs(size int64) []string {
	args := []string{"pv", "-f", "-w", "100", "-s", strconv.FormatInt(size, 10)}
	if !stdoutIsTerminal() {
		args = append(args, "-D", "60", "-i", "60")
	}
	return args
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

package pyznap

import (
	"context"
	"strings"
	"time"

	"github.com/joomcode/errorx"
	"github.com/yboetz/pyznap/internal/zfs"
)

// replanLimit bounds how often one dataset pair is re-planned after resumed
// transfers land.
const replanLimit = 3

type sender struct {
	ctx    context.Context
	cfg    *Config
	pyznap *Pyznap
}

func (p *Pyznap) newSender() *sender {
	return &sender{ctx: p.ctx, cfg: p.cfg, pyznap: p}
}

func (s *sender) send() error {
	Logger.Info().Msg("sending snapshots")

	failed := 0
	for _, entry := range s.cfg.Entries {
		if s.ctx.Err() != nil {
			Logger.Warn().Msg("interrupted, skipping remaining datasets")
			return ErrCancelled.New("interrupted")
		}
		if len(entry.Dests) == 0 {
			continue
		}
		failed += s.sendEntry(entry)
	}
	if failed > 0 {
		return ErrPartial.New("%d sends failed", failed)
	}
	return nil
}

func (s *sender) sendEntry(entry *Entry) int {
	src, err := s.pyznap.open(s.ctx, entry)
	if err != nil {
		Logger.Error().Msgf("cannot open source %s: %s", entry.Location, err)
		return len(entry.Dests)
	}

	children, err := src.List(s.ctx, entry.Location.Path)
	if err != nil {
		if errorx.IsOfType(err, zfs.ErrDatasetNotFound) {
			Logger.Error().Msgf("source %s does not exist", entry.Location)
		} else {
			Logger.Error().Msgf("cannot open source %s: %s", entry.Location, err)
		}
		return len(entry.Dests)
	}

	failed := 0
	for i := range entry.Dests {
		failed += s.sendDest(entry, src, children, &entry.Dests[i])
	}
	return failed
}

func (s *sender) sendDest(entry *Entry, src *zfs.Zfs, children []zfs.Dataset, dest *Dest) int {
	destLog := dest.Location.String()

	dst, err := s.openDest(dest)
	if err != nil {
		Logger.Error().Msgf("cannot open dest %s: %s", destLog, err)
		return 1
	}

	if _, err := dst.Get(s.ctx, dest.Location.Path); err != nil {
		if !errorx.IsOfType(err, zfs.ErrDatasetNotFound) {
			Logger.Error().Msgf("cannot open dest %s: %s", destLog, err)
			return 1
		}
		if !dest.AutoCreate {
			missing := ErrDestMissing.New("destination %s does not exist, create it manually or set dest_auto_create", destLog)
			Logger.Error().Msgf("%s", missing)
			return 1
		}
		Logger.Info().Msgf("destination %s does not exist, creating it", destLog)
		if s.pyznap.dryRun || entry.DryRun {
			Logger.Info().Msgf("creating dataset %s *** DRY RUN ***", destLog)
		} else if err := dst.CreateDataset(s.ctx, dest.Location.Path); err != nil {
			Logger.Error().Msgf("cannot create %s: %s", destLog, err)
			return 1
		}
	}

	failed := 0
	for _, child := range children {
		if s.ctx.Err() != nil {
			return failed + 1
		}
		if s.childHasOwnDest(entry, child.Path) {
			Logger.Debug().Msgf("%s has its own send section, skipping", child.Path)
			continue
		}
		if dest.Excluded(child.Path) {
			Logger.Debug().Msgf("matched %s in exclude rules, not sending", child.Path)
			continue
		}

		dstPath := zfs.Rebase(child.Path, entry.Location.Path, dest.Location.Path)
		if err := s.syncWithRetry(entry, src, dst, child.Path, dstPath, dest); err != nil {
			Logger.Error().Msgf("error while sending %s to %s: %s", child.Path, dstPath, err)
			failed++
		}
	}
	return failed
}

// childHasOwnDest reports whether a more specific section replicates this
// dataset itself, in which case the parent's send skips it.
func (s *sender) childHasOwnDest(entry *Entry, path string) bool {
	for _, o := range s.cfg.Entries {
		if o == entry || len(o.Dests) == 0 || !o.Location.Host.Same(entry.Location.Host) {
			continue
		}
		if len(o.Location.Path) <= len(entry.Location.Path) {
			continue
		}
		if path == o.Location.Path || strings.HasPrefix(path, o.Location.Path+"/") {
			return true
		}
	}
	return false
}

func (s *sender) openDest(dest *Dest) (*zfs.Zfs, error) {
	host := dest.Location.Host
	if err := s.pyznap.runner.Probe(s.ctx, host); err != nil {
		return nil, err
	}
	z := zfs.New(s.pyznap.runner, host)
	if err := z.CheckTools(s.ctx); err != nil {
		return nil, err
	}
	return z, nil
}

func (s *sender) syncWithRetry(entry *Entry, src, dst *zfs.Zfs, srcPath, dstPath string, dest *Dest) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.sync(entry, src, dst, srcPath, dstPath, dest)
		if err == nil || !errorx.HasTrait(err, errorx.Temporary()) || attempt >= dest.Retries {
			return err
		}
		Logger.Info().Msgf("retrying send in %s (retry %d of %d)",
			dest.RetryInterval, attempt+1, dest.Retries)
		select {
		case <-s.ctx.Done():
			return ErrCancelled.New("interrupted")
		case <-time.After(dest.RetryInterval):
		}
	}
}

// sync brings one destination dataset up to date with its source. Plans are
// recomputed after a resumed transfer lands, since the resume changes what
// the two sides have in common.
func (s *sender) sync(entry *Entry, src, dst *zfs.Zfs, srcPath, dstPath string, dest *Dest) error {
	if dst.ReceiveInProgress(s.ctx, dstPath) {
		return zfs.ErrReceiveInProgress.New("receive already in progress on %s", dstPath)
	}

	srcSnaps, err := src.Snapshots(s.ctx, srcPath)
	if err != nil {
		return err
	}

	for round := 0; round < replanLimit; round++ {
		exists := true
		token := ""
		var dstSnaps []zfs.Snapshot

		ds, err := dst.Get(s.ctx, dstPath)
		switch {
		case errorx.IsOfType(err, zfs.ErrDatasetNotFound):
			exists = false
		case err != nil:
			return err
		default:
			token = ds.ResumeToken
			if dstSnaps, err = dst.Snapshots(s.ctx, dstPath); err != nil {
				return err
			}
		}

		actions, err := planActions(srcSnaps, dstSnaps, exists, token, dest.Resume)
		if err != nil {
			return err
		}
		Logger.Debug().RawJSON("plan", rawPlan(actions)).Msgf("planned send of %s to %s", srcPath, dstPath)

		if len(actions) == 0 {
			Logger.Info().Msgf("%s is up to date", dstPath)
			return nil
		}

		for _, action := range actions {
			if err := s.perform(entry, src, dst, action, dstPath, dest); err != nil {
				return err
			}
		}

		if actions[0].Kind != ActionResume {
			return nil
		}
		// resumed transfer landed; probe again and finish the increments
	}
	return zfs.ErrGeneric.New("%s still carries a resume token after %d rounds", dstPath, replanLimit)
}

package pyznap

import (
	"context"
	"time"

	"github.com/joomcode/errorx"
	"github.com/yboetz/pyznap/internal/zfs"
)

type snapper struct {
	ctx    context.Context
	cfg    *Config
	pyznap *Pyznap
}

func (p *Pyznap) newSnapper() snapper {
	return snapper{ctx: p.ctx, cfg: p.cfg, pyznap: p}
}

// open resolves a config entry to a bound adapter, probing remote hosts
// first.
func (p *Pyznap) open(ctx context.Context, entry *Entry) (*zfs.Zfs, error) {
	host := entry.Location.Host
	if err := p.runner.Probe(ctx, host); err != nil {
		return nil, err
	}
	z := zfs.New(p.runner, host)
	if err := z.CheckTools(ctx); err != nil {
		return nil, err
	}
	return z, nil
}

func (s snapper) take() error {
	Logger.Info().Msg("taking snapshots")

	failed := 0
	for _, entry := range s.cfg.Entries {
		if s.ctx.Err() != nil {
			Logger.Warn().Msg("interrupted, skipping remaining datasets")
			return ErrCancelled.New("interrupted")
		}
		if !entry.Snap {
			continue
		}
		failed += s.takeEntry(entry)
	}
	if failed > 0 {
		return ErrPartial.New("%d datasets failed", failed)
	}
	return nil
}

func (s snapper) takeEntry(entry *Entry) int {
	z, err := s.pyznap.open(s.ctx, entry)
	if err != nil {
		Logger.Error().Msgf("cannot open %s: %s", entry.Location, err)
		return 1
	}

	children, err := z.List(s.ctx, entry.Location.Path)
	if err != nil {
		if errorx.IsOfType(err, zfs.ErrDatasetNotFound) {
			Logger.Error().Msgf("dataset %s does not exist", entry.Location)
		} else {
			Logger.Error().Msgf("cannot open %s: %s", entry.Location, err)
		}
		return 1
	}

	failed := 0
	for _, child := range children {
		if !s.cfg.Covers(entry, child.Path) {
			continue
		}
		if err := s.takeDataset(z, entry, child.Path); err != nil {
			Logger.Error().Msgf("error while taking snapshots on %s: %s", child.Path, err)
			failed++
		}
	}
	return failed
}

func (s snapper) takeDataset(z *zfs.Zfs, entry *Entry, path string) error {
	snaps, err := z.Snapshots(s.ctx, path)
	if err != nil {
		return err
	}

	now := time.Now()
	sweep := planSweep(snaps, entry.Retention, s.pyznap.prefix, now)
	Logger.Debug().RawJSON("sweep", rawPlan(sweep)).Msgf("planned sweep for %s", path)

	dryRun := s.pyznap.dryRun || entry.DryRun
	for _, g := range sweep.Take {
		name := zfs.SnapshotName(s.pyznap.prefix, now, g)
		if dryRun {
			Logger.Info().Msgf("taking snapshot %s@%s *** DRY RUN ***", path, name)
			continue
		}
		Logger.Info().Msgf("taking snapshot %s@%s", path, name)
		if err := z.CreateSnapshot(s.ctx, path, name, true); err != nil {
			if errorx.IsOfType(err, zfs.ErrDatasetExists) || errorx.IsOfType(err, zfs.ErrBusy) {
				Logger.Warn().Msgf("cannot take snapshot %s@%s: %s", path, name, err)
				continue
			}
			return err
		}
	}
	return nil
}

func (s snapper) clean() error {
	Logger.Info().Msg("cleaning snapshots")

	failed := 0
	for _, entry := range s.cfg.Entries {
		if s.ctx.Err() != nil {
			Logger.Warn().Msg("interrupted, skipping remaining datasets")
			return ErrCancelled.New("interrupted")
		}
		if !entry.Clean {
			continue
		}
		failed += s.cleanEntry(entry)
	}
	if failed > 0 {
		return ErrPartial.New("%d datasets failed", failed)
	}
	return nil
}

func (s snapper) cleanEntry(entry *Entry) int {
	z, err := s.pyznap.open(s.ctx, entry)
	if err != nil {
		Logger.Error().Msgf("cannot open %s: %s", entry.Location, err)
		return 1
	}

	children, err := z.List(s.ctx, entry.Location.Path)
	if err != nil {
		if errorx.IsOfType(err, zfs.ErrDatasetNotFound) {
			Logger.Error().Msgf("dataset %s does not exist", entry.Location)
		} else {
			Logger.Error().Msgf("cannot open %s: %s", entry.Location, err)
		}
		return 1
	}

	failed := 0
	for _, child := range children {
		if !s.cfg.Covers(entry, child.Path) {
			continue
		}
		if err := s.cleanDataset(z, entry, child.Path); err != nil {
			Logger.Error().Msgf("error while cleaning snapshots on %s: %s", child.Path, err)
			failed++
		}
	}
	return failed
}

func (s snapper) cleanDataset(z *zfs.Zfs, entry *Entry, path string) error {
	snaps, err := z.Snapshots(s.ctx, path)
	if err != nil {
		return err
	}

	sweep := planSweep(snaps, entry.Retention, s.pyznap.prefix, time.Now())
	Logger.Debug().RawJSON("sweep", rawPlan(sweep)).Msgf("planned sweep for %s", path)

	if len(sweep.Destroy) == 0 {
		return nil
	}
	if z.ReceiveInProgress(s.ctx, path) {
		Logger.Warn().Msgf("receive in progress on %s, not destroying snapshots", path)
		return nil
	}

	dryRun := s.pyznap.dryRun || entry.DryRun
	for _, snap := range sweep.Destroy {
		holds, err := z.Holds(s.ctx, snap)
		if err != nil {
			Logger.Warn().Msgf("cannot list holds on %s: %s", snap, err)
			continue
		}
		if len(holds) > 0 {
			Logger.Warn().Msgf("snapshot %s has holds %v, not destroying", snap, holds)
			continue
		}
		if dryRun {
			Logger.Info().Msgf("destroying snapshot %s *** DRY RUN ***", snap)
			continue
		}
		Logger.Info().Msgf("destroying snapshot %s", snap)
		if err := z.DestroySnapshot(s.ctx, snap); err != nil {
			if errorx.IsOfType(err, zfs.ErrBusy) {
				Logger.Warn().Msgf("snapshot %s is busy, not destroying", snap)
				continue
			}
			return err
		}
	}
	return nil
}

package pyznap

import (
	"github.com/yboetz/pyznap/internal/zfs"
)

// ActionKind distinguishes the replication actions a plan can emit.
type ActionKind string

const (
	// ActionResume continues a partial receive from a token.
	ActionResume ActionKind = "resume"
	// ActionFull sends a complete snapshot stream.
	ActionFull ActionKind = "full"
	// ActionIncremental sends base to snapshot with intermediates.
	ActionIncremental ActionKind = "incremental"
)

// Action is one step of a replication plan.
type Action struct {
	Kind     ActionKind    `json:"kind"`
	Snapshot zfs.Snapshot  `json:"snapshot"`
	Base     *zfs.Snapshot `json:"base,omitempty"`
	Token    string        `json:"token,omitempty"`
}

// planActions derives the ordered replication actions for one dataset pair
// from the observed snapshot lists, oldest first on both sides.
//
// A resume token on the destination takes precedence: the plan is then just
// the resume, and the caller re-probes and re-plans once it lands. With no
// common snapshot and a non-empty destination there is nothing safe to do.
// A fresh destination receives the oldest snapshot in full, preserving the
// whole history, then one incremental batch to the newest. An existing
// destination is brought up to date from its newest common snapshot.
func planActions(src, dst []zfs.Snapshot, dstExists bool, token string, resume bool) ([]Action, error) {
	if len(src) == 0 {
		return nil, ErrNoSnapshots.New("source has no snapshots")
	}
	newest := src[len(src)-1]
	oldest := src[0]

	if dstExists && token != "" && resume {
		return []Action{{Kind: ActionResume, Snapshot: oldest, Token: token}}, nil
	}

	common := make(map[string]bool)
	if dstExists {
		names := make(map[string]bool, len(src))
		for _, s := range src {
			names[s.Name] = true
		}
		for _, d := range dst {
			if names[d.Name] {
				common[d.Name] = true
			}
		}
	}

	if len(common) == 0 {
		if dstExists && len(dst) > 0 {
			return nil, zfs.ErrNoCommonBase.New("no common snapshots, but destination has snapshots")
		}
		actions := []Action{{Kind: ActionFull, Snapshot: oldest}}
		if oldest != newest {
			base := oldest
			actions = append(actions, Action{Kind: ActionIncremental, Snapshot: newest, Base: &base})
		}
		return actions, nil
	}

	// newest common snapshot is the incremental base
	var base zfs.Snapshot
	for i := len(src) - 1; i >= 0; i-- {
		if common[src[i].Name] {
			base = src[i]
			break
		}
	}

	if base == newest {
		return nil, nil
	}
	return []Action{{Kind: ActionIncremental, Snapshot: newest, Base: &base}}, nil
}

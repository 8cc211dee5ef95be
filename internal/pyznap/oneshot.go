package pyznap

import (
	"time"

	"github.com/gobwas/glob"
	"github.com/yboetz/pyznap/internal/zfs"
)

// SendOverrides carries the flags of a one-shot 'send -s SRC -d DST'.
type SendOverrides struct {
	Source        string
	Dest          string
	Compress      string
	Key           string
	SourceKey     string
	DestKey       string
	Exclude       []string
	Raw           bool
	Resume        bool
	AutoCreate    bool
	Retries       int
	RetryInterval time.Duration
}

// NewSendConfig builds a single-entry config from command-line arguments,
// bypassing the config file. With only one remote end the shared key applies
// to it; with both remote the per-side keys take over.
func NewSendConfig(o SendOverrides) (*Config, error) {
	srcLoc, err := zfs.ParseLocation(o.Source)
	if err != nil {
		return nil, ErrConfig.Wrap(err, "invalid source '%s'", o.Source)
	}
	dstLoc, err := zfs.ParseLocation(o.Dest)
	if err != nil {
		return nil, ErrConfig.Wrap(err, "invalid dest '%s'", o.Dest)
	}

	srcKey, dstKey := o.SourceKey, o.DestKey
	if srcKey == "" {
		srcKey = o.Key
	}
	if dstKey == "" {
		dstKey = o.Key
	}
	srcLoc.Host.Key = srcKey
	dstLoc.Host.Key = dstKey

	if o.Compress != "" {
		if _, err := checkCompression(o.Source, o.Compress); err != nil {
			return nil, err
		}
	}

	dest := Dest{
		Location:      dstLoc,
		Key:           dstKey,
		Compress:      o.Compress,
		Exclude:       o.Exclude,
		Raw:           o.Raw,
		Resume:        o.Resume,
		AutoCreate:    o.AutoCreate,
		Retries:       o.Retries,
		RetryInterval: o.RetryInterval,
	}
	for _, pattern := range o.Exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, ErrConfig.Wrap(err, "invalid exclude pattern '%s'", pattern)
		}
		dest.globs = append(dest.globs, g)
	}

	entry := &Entry{
		Name:     o.Source,
		Location: srcLoc,
		Key:      srcKey,
		Dests:    []Dest{dest},
	}
	return &Config{Entries: []*Entry{entry}}, nil
}

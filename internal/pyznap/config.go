package pyznap

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/yboetz/pyznap/internal/zfs"
	ini "gopkg.in/ini.v1"
)

// Compressions lists the supported stream compressors.
var Compressions = []string{"none", "lzop", "lz4", "gzip", "pigz", "bzip2", "xz"}

// Dest is one replication destination of a config entry.
type Dest struct {
	Location      zfs.Location
	Key           string
	Compress      string
	Exclude       []string
	Raw           bool
	Resume        bool
	AutoCreate    bool
	Retries       int
	RetryInterval time.Duration

	globs []glob.Glob
}

// Excluded matches a source dataset path against the destination's exclude
// globs. Patterns use fnmatch semantics against the full path.
func (d *Dest) Excluded(path string) bool {
	for _, g := range d.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Entry is the effective policy of one configured section.
type Entry struct {
	Name      string
	Location  zfs.Location
	Key       string
	Retention Retention
	Snap      bool
	Clean     bool
	DryRun    bool
	Dests     []Dest
}

// Config is the full set of policy entries, sorted parents before children.
type Config struct {
	Entries []*Entry
}

// Covers reports whether entry is the most specific configured section for a
// dataset path on its host. A child section takes over its own subtree.
func (c *Config) Covers(e *Entry, path string) bool {
	for _, o := range c.Entries {
		if o == e || !o.Location.Host.Same(e.Location.Host) {
			continue
		}
		if len(o.Location.Path) <= len(e.Location.Path) {
			continue
		}
		if path == o.Location.Path || strings.HasPrefix(path, o.Location.Path+"/") {
			return false
		}
	}
	return true
}

// rawEntry holds the parsed section before inheritance is resolved. Unset
// options stay nil so a parent section can fill them in.
type rawEntry struct {
	name   string
	key    *string
	counts map[zfs.Granularity]*int
	snap   *bool
	clean  *bool
	dryRun *bool

	dests         []string
	destKeys      []string
	compress      []string
	exclude       [][]string
	rawSend       []*bool
	resume        []*bool
	autoCreate    []*bool
	retries       []*int
	retryInterval []*int
}

var inherited = []zfs.Granularity{zfs.Frequent, zfs.Hourly, zfs.Daily, zfs.Weekly, zfs.Monthly, zfs.Yearly}

// LoadConfig reads an INI policy file and resolves inheritance: a section
// configures its own subtree, and a more specific section overrides a less
// specific one key by key.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, ErrConfig.Wrap(err, "cannot load config '%s'", path)
	}
	return buildConfig(file)
}

func buildConfig(file *ini.File) (*Config, error) {
	var raws []*rawEntry
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		raw, err := parseSection(section)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}

	// pass unset inheritable options from parent sections to children, the
	// closest configured ancestor first
	parents := append([]*rawEntry(nil), raws...)
	sort.SliceStable(parents, func(i, j int) bool {
		return len(parents[i].name) > len(parents[j].name)
	})
	for _, parent := range parents {
		for _, child := range raws {
			if parent == child {
				continue
			}
			i := strings.LastIndexByte(child.name, '/')
			if i < 0 {
				continue
			}
			if dir := child.name[:i]; dir != parent.name && !strings.HasPrefix(dir, parent.name+"/") {
				continue
			}
			child.inherit(parent)
		}
	}

	cfg := &Config{}
	for _, raw := range raws {
		entry, err := raw.resolve()
		if err != nil {
			return nil, err
		}
		cfg.Entries = append(cfg.Entries, entry)
	}

	sort.Slice(cfg.Entries, func(i, j int) bool {
		return cfg.Entries[i].Name < cfg.Entries[j].Name
	})
	return cfg, nil
}

func (r *rawEntry) inherit(parent *rawEntry) {
	if r.key == nil {
		r.key = parent.key
	}
	if r.snap == nil {
		r.snap = parent.snap
	}
	if r.clean == nil {
		r.clean = parent.clean
	}
	if r.dryRun == nil {
		r.dryRun = parent.dryRun
	}
	for _, g := range inherited {
		if r.counts[g] == nil {
			r.counts[g] = parent.counts[g]
		}
	}
}

func parseSection(section *ini.Section) (*rawEntry, error) {
	raw := &rawEntry{
		name:   section.Name(),
		counts: make(map[zfs.Granularity]*int),
	}

	get := func(key string) (string, bool) {
		if !section.HasKey(key) {
			return "", false
		}
		return strings.TrimSpace(section.Key(key).String()), true
	}

	for _, g := range inherited {
		if v, ok := get(string(g)); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, ErrConfig.New("[%s] %s: '%s' is not a non-negative integer", raw.name, g, v)
			}
			raw.counts[g] = &n
		}
	}

	var err error
	if raw.snap, err = boolOption(section, "snap", raw.name); err != nil {
		return nil, err
	}
	if raw.clean, err = boolOption(section, "clean", raw.name); err != nil {
		return nil, err
	}
	if raw.dryRun, err = boolOption(section, "dry_run", raw.name); err != nil {
		return nil, err
	}
	if v, ok := get("key"); ok {
		raw.key = &v
	}

	if v, ok := get("dest"); ok {
		raw.dests = splitList(v)
	}
	if v, ok := get("dest_key"); ok {
		raw.destKeys = splitList(v)
	}
	if v, ok := get("compress"); ok {
		raw.compress = splitList(v)
	}
	if v, ok := get("exclude"); ok {
		for _, item := range splitList(v) {
			raw.exclude = append(raw.exclude, strings.Fields(item))
		}
	}
	if raw.rawSend, err = boolList(section, "raw_send", raw.name); err != nil {
		return nil, err
	}
	if raw.resume, err = boolList(section, "resume", raw.name); err != nil {
		return nil, err
	}
	if raw.autoCreate, err = boolList(section, "dest_auto_create", raw.name); err != nil {
		return nil, err
	}
	if raw.retries, err = intList(section, "retries", raw.name); err != nil {
		return nil, err
	}
	if raw.retryInterval, err = intList(section, "retry_interval", raw.name); err != nil {
		return nil, err
	}

	return raw, nil
}

func (r *rawEntry) resolve() (*Entry, error) {
	location, err := zfs.ParseLocation(r.name)
	if err != nil {
		return nil, ErrConfig.Wrap(err, "[%s] invalid section name", r.name)
	}

	entry := &Entry{
		Name:     r.name,
		Location: location,
		Snap:     boolValue(r.snap),
		Clean:    boolValue(r.clean),
		DryRun:   boolValue(r.dryRun),
	}
	if r.key != nil {
		entry.Key = *r.key
		entry.Location.Host.Key = *r.key
	}
	for _, g := range inherited {
		if r.counts[g] != nil {
			entry.Retention.set(g, *r.counts[g])
		}
	}

	n := len(r.dests)
	if err := checkLen(r.name, "dest_key", len(r.destKeys), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "compress", len(r.compress), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "exclude", len(r.exclude), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "raw_send", len(r.rawSend), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "resume", len(r.resume), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "dest_auto_create", len(r.autoCreate), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "retries", len(r.retries), n); err != nil {
		return nil, err
	}
	if err := checkLen(r.name, "retry_interval", len(r.retryInterval), n); err != nil {
		return nil, err
	}

	for i, destName := range r.dests {
		dest := Dest{
			Compress:      "",
			RetryInterval: 10 * time.Second,
		}
		dest.Location, err = zfs.ParseLocation(destName)
		if err != nil {
			return nil, ErrConfig.Wrap(err, "[%s] invalid dest '%s'", r.name, destName)
		}
		if r.destKeys != nil {
			dest.Key = r.destKeys[i]
			dest.Location.Host.Key = dest.Key
		}
		if r.compress != nil {
			dest.Compress, err = checkCompression(r.name, r.compress[i])
			if err != nil {
				return nil, err
			}
		}
		if r.exclude != nil {
			dest.Exclude = r.exclude[i]
			for _, pattern := range dest.Exclude {
				g, err := glob.Compile(pattern)
				if err != nil {
					return nil, ErrConfig.Wrap(err, "[%s] invalid exclude pattern '%s'", r.name, pattern)
				}
				dest.globs = append(dest.globs, g)
			}
		}
		if r.rawSend != nil && r.rawSend[i] != nil {
			dest.Raw = *r.rawSend[i]
		}
		if r.resume != nil && r.resume[i] != nil {
			dest.Resume = *r.resume[i]
		}
		if r.autoCreate != nil && r.autoCreate[i] != nil {
			dest.AutoCreate = *r.autoCreate[i]
		}
		if r.retries != nil && r.retries[i] != nil {
			dest.Retries = *r.retries[i]
		}
		if r.retryInterval != nil && r.retryInterval[i] != nil {
			dest.RetryInterval = time.Duration(*r.retryInterval[i]) * time.Second
		}
		entry.Dests = append(entry.Dests, dest)
	}

	return entry, nil
}

func checkCompression(section, name string) (string, error) {
	for _, c := range Compressions {
		if name == c {
			return name, nil
		}
	}
	return "", ErrConfig.New("[%s] unknown compression '%s'", section, name)
}

func checkLen(section, option string, got, dests int) error {
	if got != 0 && got != dests {
		return ErrConfig.New("[%s] %s has %d entries for %d dests", section, option, got, dests)
	}
	return nil
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		items = append(items, strings.TrimSpace(item))
	}
	return items
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true":
		return true, true
	case "no", "false":
		return false, true
	}
	return false, false
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func boolOption(section *ini.Section, key, name string) (*bool, error) {
	if !section.HasKey(key) {
		return nil, nil
	}
	v, ok := parseBool(section.Key(key).String())
	if !ok {
		return nil, ErrConfig.New("[%s] %s: expected yes or no", name, key)
	}
	return &v, nil
}

func boolList(section *ini.Section, key, name string) ([]*bool, error) {
	if !section.HasKey(key) {
		return nil, nil
	}
	var out []*bool
	for _, item := range splitList(section.Key(key).String()) {
		v, ok := parseBool(item)
		if !ok {
			return nil, ErrConfig.New("[%s] %s: expected yes or no, got '%s'", name, key, item)
		}
		out = append(out, &v)
	}
	return out, nil
}

func intList(section *ini.Section, key, name string) ([]*int, error) {
	if !section.HasKey(key) {
		return nil, nil
	}
	var out []*int
	for _, item := range splitList(section.Key(key).String()) {
		n, err := strconv.Atoi(item)
		if err != nil || n < 0 {
			return nil, ErrConfig.New("[%s] %s: '%s' is not a non-negative integer", name, key, item)
		}
		out = append(out, &n)
	}
	return out, nil
}

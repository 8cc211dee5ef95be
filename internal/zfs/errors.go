package zfs

import (
	"regexp"
	"strings"

	"github.com/joomcode/errorx"
)

// Errors is the namespace for failures reported by the zfs binary itself.
// None of these are retriable; a failed transport is classified by the shell
// package instead.
var (
	Errors = errorx.NewNamespace("zfs")

	ErrParse             = Errors.NewType("parse")
	ErrDatasetNotFound   = Errors.NewType("dataset_not_found", errorx.NotFound())
	ErrDatasetExists     = Errors.NewType("dataset_exists", errorx.Duplicate())
	ErrBusy              = Errors.NewType("busy")
	ErrNoCommonBase      = Errors.NewType("no_common_base")
	ErrReceiveInProgress = Errors.NewType("receive_in_progress")
	ErrStreamMismatch    = Errors.NewType("stream_mismatch")
	ErrOutOfSpace        = Errors.NewType("out_of_space")
	ErrGeneric           = Errors.NewType("generic")
)

// cannotLine matches the first line of zfs error output,
// "cannot <verb> <dataset>: <reason>".
var cannotLine = regexp.MustCompile(`^cannot [^:]+: (.+)$`)

// Classify maps zfs stderr onto the error taxonomy. The dataset argument is
// only used for the message.
func Classify(stderr, dataset string) *errorx.Error {
	reason := strings.TrimSpace(stderr)
	if line, _, ok := strings.Cut(reason, " - "); ok {
		reason = line
	}
	if m := cannotLine.FindStringSubmatch(reason); m != nil {
		reason = m[1]
	}

	kind := ErrGeneric
	switch {
	case strings.Contains(reason, "dataset does not exist"):
		kind = ErrDatasetNotFound
	case strings.Contains(reason, "dataset already exists"):
		kind = ErrDatasetExists
	case strings.Contains(reason, "dataset is busy"),
		strings.Contains(reason, "snapshot has dependent clones"):
		kind = ErrBusy
	case strings.Contains(reason, "out of space"),
		strings.Contains(reason, "quota exceeded"):
		kind = ErrOutOfSpace
	case strings.Contains(reason, "destination already exists"),
		strings.Contains(reason, "destination has been modified"),
		strings.Contains(reason, "does not match incremental source"),
		strings.Contains(reason, "checksum mismatch"),
		strings.Contains(reason, "invalid backup stream"):
		kind = ErrStreamMismatch
	case strings.Contains(reason, "destination is busy"),
		strings.Contains(reason, "receive already in progress"):
		kind = ErrReceiveInProgress
	}

	return kind.New("%s: %s", dataset, reason)
}

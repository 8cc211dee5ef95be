package pyznap

import "github.com/joomcode/errorx"

// Errors is the namespace for policy-level failures.
var (
	Errors = errorx.NewNamespace("pyznap")

	// ErrConfig means the configuration is malformed. Fatal at invocation.
	ErrConfig = Errors.NewType("config")

	// ErrDestMissing means a destination dataset is absent and auto-create
	// was not requested.
	ErrDestMissing = Errors.NewType("dest_missing")

	// ErrNoSnapshots means a source dataset has nothing to send.
	ErrNoSnapshots = Errors.NewType("no_snapshots")

	// ErrPartial aggregates per-dataset failures of one sweep.
	ErrPartial = Errors.NewType("partial")

	// ErrLocked means another invocation holds the run lock.
	ErrLocked = Errors.NewType("locked")

	// ErrCancelled means the sweep was interrupted by the user.
	ErrCancelled = Errors.NewType("cancelled")
)

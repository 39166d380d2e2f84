package mirror

import "errors"

var (
	ErrNotFound    = errors.New("mirror: path not found")
	ErrInvalidPath = errors.New("mirror: invalid path")
	ErrClosed      = errors.New("mirror: store closed")
	ErrSealed      = errors.New("mirror: path is sealed")

	// ErrSlowWatcher closes a watch whose buffer overflowed. The caller should re-subscribe
	// and read the current state again.
	ErrSlowWatcher = errors.New("mirror: watcher fell behind")

	// ErrMirrorWriteFailed is returned by Syncer.Apply when an op still failed after its retry.
	// The op has been queued for repair.
	ErrMirrorWriteFailed = errors.New("mirror write failed")
)

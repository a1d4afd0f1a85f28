// Package bridgeerr defines the sentinel error kinds shared across the
// terminal backend, storage adapter, IPC channel, daemon, and bridge
// packages (spec.md §7). Every error surfaced to a caller wraps one of
// these with errors.Is-compatible chaining via fmt.Errorf("%w", ...).
package bridgeerr

import "errors"

// Sentinel errors. Compare with errors.Is, not string matching.
var (
	// ErrBackendNotAvailable means the host terminal program is missing.
	ErrBackendNotAvailable = errors.New("backend not available")
	// ErrSpawnFailed means pane creation returned non-zero.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrNoBackendAvailable means every candidate backend failed its probe.
	ErrNoBackendAvailable = errors.New("no terminal backend available")
	// ErrUnsupported means the backend does not implement an operation.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrInstallationMissing means the secondary CLI's --version probe failed.
	ErrInstallationMissing = errors.New("secondary CLI installation missing")
	// ErrTimeout means no response arrived within requestTimeoutMs.
	ErrTimeout = errors.New("request timed out")
	// ErrStuck means sent text remained visible in the input line.
	ErrStuck = errors.New("input appears stuck, not submitted")
	// ErrIPCUnavailable means named-pipe/FIFO creation failed.
	ErrIPCUnavailable = errors.New("ipc channel unavailable")
	// ErrWatcherError means the storage file watcher raised.
	ErrWatcherError = errors.New("storage watcher error")
	// ErrCancelled means the orchestrator stopped before completion.
	ErrCancelled = errors.New("orchestrator stopped before completion")
	// ErrUnknownDaemon means a daemon name has no registered factory.
	ErrUnknownDaemon = errors.New("unknown daemon")
	// ErrDaemonUnregistered is the cause recorded for requests whose
	// daemon was unregistered while they were in flight.
	ErrDaemonUnregistered = errors.New("daemon unregistered")
	// ErrDaemonError wraps an error-pattern match surfaced by the
	// pane-scrape state machine (spec.md §4.5's "error-detected"
	// early-exit) or another daemon-reported failure that carries no
	// more specific sentinel above.
	ErrDaemonError = errors.New("daemon reported an error")
)

// Kind classifies an error for reporting/logging per the spec.md §7
// taxonomy table. It does not replace errors.Is-based handling; it is
// a human-readable label for events and status payloads.
type Kind string

const (
	KindBackendNotAvailable Kind = "BackendNotAvailable"
	KindSpawnFailed         Kind = "SpawnFailed"
	KindInstallationMissing Kind = "InstallationMissing"
	KindTimeout             Kind = "Timeout"
	KindStuck               Kind = "Stuck"
	KindIPCUnavailable      Kind = "IPCUnavailable"
	KindWatcherError        Kind = "WatcherError"
	KindCancelled           Kind = "Cancelled"
	KindDaemonError         Kind = "DaemonError"
	KindUnknown             Kind = "Unknown"
)

// ClassifyKind maps a wrapped error to its human-readable Kind by
// walking the errors.Is chain against the sentinels above.
func ClassifyKind(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrBackendNotAvailable), errors.Is(err, ErrNoBackendAvailable):
		return KindBackendNotAvailable
	case errors.Is(err, ErrSpawnFailed):
		return KindSpawnFailed
	case errors.Is(err, ErrInstallationMissing):
		return KindInstallationMissing
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrStuck):
		return KindStuck
	case errors.Is(err, ErrIPCUnavailable):
		return KindIPCUnavailable
	case errors.Is(err, ErrWatcherError):
		return KindWatcherError
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrDaemonError):
		return KindDaemonError
	default:
		return KindUnknown
	}
}

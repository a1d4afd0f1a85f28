// Package ipc implements C3, a thin per-daemon named-pipe/FIFO
// abstraction that gives the daemon a faster, shell-free input path
// than terminal text injection (spec.md §4.3). Creation and write
// failures must never abort a request — they downgrade the daemon to
// the C1 terminal-injection fallback.
package ipc

import "context"

// Channel is the C3 contract.
type Channel interface {
	// Create allocates the pipe/FIFO on disk (or via the OS named-pipe
	// primitive) and prepares it for writes. Safe to call once per
	// Channel; a second call is a no-op if already created.
	Create(ctx context.Context) error

	// Write delivers text through the channel. On an error the daemon
	// delivers that text by terminal injection instead; its next write
	// tries the channel again.
	Write(ctx context.Context, text string) error

	// OnData registers a callback invoked with each line read back
	// from the channel, if the backing transport supports reads
	// (most backends are write-only from the daemon's perspective;
	// implementations that don't support reads simply never call back).
	OnData(callback func(line string))

	// OnError registers a callback invoked when the channel's
	// background reader/writer encounters an error it cannot recover
	// from. After this fires the channel should be considered dead.
	OnError(callback func(err error))

	// Destroy releases all resources (closes file handles, removes the
	// FIFO from disk). Idempotent.
	Destroy() error
}

// ErrHostUnsupported is the error for a host where neither a FIFO nor
// an OS named pipe is safely available. No function in this package
// returns it: NewChannel takes no error path and always builds a FIFO
// channel (non-Windows) or a named-pipe channel (Windows).
var ErrHostUnsupported = errHostUnsupported{}

type errHostUnsupported struct{}

func (errHostUnsupported) Error() string { return "ipc channel not available on this host" }

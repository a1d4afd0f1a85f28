package terminal

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
)

// candidateList orders backends by platform default preference when
// the caller asks for config.BackendAuto; an explicit preference comes
// first, followed by the remaining backends in platform default order.
func candidateList(preferred config.TerminalBackendKind) []Backend {
	multiplexer := NewMultiplexer()
	emulator := NewEmulator("")
	native := NewNativeOS()

	var first Backend
	switch preferred {
	case config.BackendMultiplexer:
		first = multiplexer
	case config.BackendModernEmulator:
		first = emulator
	case config.BackendNativeOS:
		first = native
	default:
		if runtime.GOOS == "windows" {
			return []Backend{emulator, native, multiplexer}
		}
		return []Backend{multiplexer, emulator, native}
	}

	out := []Backend{first}
	for _, b := range candidateList(config.BackendAuto) {
		if b.Name() != first.Name() {
			out = append(out, b)
		}
	}
	return out
}

// Select probes candidates in preference order and returns the first
// one whose Probe call succeeds (spec.md §4.1, "Backend selection").
// On total failure it returns bridgeerr.ErrNoBackendAvailable wrapping
// a diagnostic message that lists every candidate's failure reason.
func Select(ctx context.Context, preferred config.TerminalBackendKind) (Backend, error) {
	candidates := candidateList(preferred)

	var diagnostics []string
	for _, b := range candidates {
		if err := b.Probe(ctx); err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		return b, nil
	}

	return nil, fmt.Errorf("%w: %s", bridgeerr.ErrNoBackendAvailable, strings.Join(diagnostics, "; "))
}

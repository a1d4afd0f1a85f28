package bridge

import (
	"strings"

	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/daemon"
)

// DaemonFactory builds a ready-to-queue daemon for one named AI config.
// Concrete factories live alongside cmd/bridged's wiring code, one per
// supported secondary AI (a Claude CLI, a Codex CLI, etc.), each
// choosing the terminal backend / responder combination that AI needs.
// Grounded on the teacher's flat `configs map[string]types.AgentConfig`
// field on Captain (internal/captain/captain.go), generalized from a
// config lookup into a constructor lookup since this system's daemons
// are heterogeneous (log-backed vs pane-scrape), not homogeneous.
type DaemonFactory func(cfg config.AIConfig) *daemon.Daemon

// baseName strips a ":"-suffixed instance qualifier, so "cc:1" and
// "cc:2" both resolve to the "cc" factory (spec.md §4.6, "registerAI
// looks up a factory by daemon name, or by its base name before a ':'
// suffix, so multiple instances ... share a factory").
func baseName(name string) string {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// factoryRegistry is a simple name -> factory map; spec.md describes
// no operation on the factory set itself beyond lookup-by-base-name,
// so there's nothing here worth a richer abstraction.
type factoryRegistry map[string]DaemonFactory

func (r factoryRegistry) lookup(name string) (DaemonFactory, bool) {
	if f, ok := r[name]; ok {
		return f, true
	}
	f, ok := r[baseName(name)]
	return f, ok
}

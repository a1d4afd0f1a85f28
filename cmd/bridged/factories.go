package main

import (
	"github.com/aibridge/bridge/internal/bridge"
	"github.com/aibridge/bridge/internal/config"
	"github.com/aibridge/bridge/internal/daemon"
	"github.com/aibridge/bridge/internal/storage"
	"github.com/aibridge/bridge/internal/terminal"
)

// buildFactories turns a BridgeConfig's static AI list into one
// DaemonFactory per distinct name/base-name, choosing the log-backed or
// pane-scrape responder per spec.md §4.4's two variants based on
// whether the AI's config names a session log root. All daemons share
// the single backend resolved once at startup (spec.md §4.1's
// "Factory" selection runs once per process, not per AI).
func buildFactories(ais []config.AIConfig, backend terminal.Backend, runDirRoot string) map[string]bridge.DaemonFactory {
	factories := make(map[string]bridge.DaemonFactory, len(ais))
	for _, ai := range ais {
		ai := ai
		factories[ai.Name] = newDaemonFactory(ai, backend, runDirRoot)
	}
	return factories
}

func newDaemonFactory(ai config.AIConfig, backend terminal.Backend, runDirRoot string) bridge.DaemonFactory {
	var newResponder func(*daemon.Daemon) daemon.Responder
	if ai.SessionLogRoot != "" {
		adapter := storageAdapterFor(ai)
		newResponder = daemon.NewLogBackedResponderFactory(adapter)
	} else {
		newResponder = daemon.NewPaneScrapeResponderFactory(daemon.Patterns{}, nil)
	}

	return func(cfg config.AIConfig) *daemon.Daemon {
		cfg.Durations()
		return daemon.New(daemon.Deps{
			Config:       cfg,
			Backend:      backend,
			Prober:       lookPathProber,
			RunDirRoot:   runDirRoot,
			NewResponder: newResponder,
		})
	}
}

// storageAdapterFor picks the single-file or multi-file C2 adapter per
// spec.md §4.2's two format families.
func storageAdapterFor(ai config.AIConfig) storage.Adapter {
	if ai.SessionLogFormat == config.SessionLogMultiFile {
		return storage.NewMultiFile(ai.SessionLogRoot)
	}
	return storage.NewSingleFile(ai.SessionLogRoot)
}

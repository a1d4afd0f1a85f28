package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
)

// lookPathProber implements daemon.Prober by checking that a secondary
// AI's configured CLI binary resolves on $PATH, grounded on the
// teacher's own exec.LookPath installation checks (e.g.
// internal/bootstrap/scaleup.go, internal/agents/spawner.go).
func lookPathProber(ctx context.Context, cfg config.AIConfig) error {
	if cfg.CLICommand == "" {
		return fmt.Errorf("%w: no cliCommand configured for %s", bridgeerr.ErrInstallationMissing, cfg.Name)
	}
	if _, err := exec.LookPath(cfg.CLICommand); err != nil {
		return fmt.Errorf("%w: %s: %v", bridgeerr.ErrInstallationMissing, cfg.CLICommand, err)
	}
	return nil
}

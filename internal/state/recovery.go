package state

import (
	"fmt"

	"github.com/nicobailon/pi-messenger-sub001/internal/registry"
)

// MarkInterrupted flags running runs whose owner process is gone. It
// returns the ids it changed. alive defaults to a signal-0 probe.
func (db *DB) MarkInterrupted(alive func(pid int) bool) ([]string, error) {
	if alive == nil {
		alive = registry.PIDAlive
	}
	runs, err := db.ListRuns(0)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var changed []string
	for _, r := range runs {
		if r.Status != RunRunning || alive(r.PID) {
			continue
		}
		if err := db.setFinished(r.ID, RunInterrupted, r.Succeeded, r.Failed); err != nil {
			return changed, err
		}
		changed = append(changed, r.ID)
	}
	return changed, nil
}

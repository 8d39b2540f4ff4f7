package planning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/internal/fsutil"
)

// FileName is the per-directory planning state file.
const FileName = "planning-state.json"

// State is the persisted record of one directory's planning run.
type State struct {
	Active    bool       `json:"active"`
	Cwd       string     `json:"cwd"`
	RunID     string     `json:"runId,omitempty"`
	Pass      int        `json:"pass"`
	MaxPasses int        `json:"maxPasses"`
	Phase     Phase      `json:"phase"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	PID       int        `json:"pid,omitempty"`
}

// idleState is the cleared record for cwd.
func idleState(cwd string) State {
	return State{Cwd: cwd, Phase: PhaseIdle}
}

// Path returns the planning state file for cwd.
func Path(cwd string) string {
	return filepath.Join(config.CrewDir(cwd), FileName)
}

// Load reads the persisted state for cwd. A missing file yields the idle
// state with no error.
func Load(cwd string) (State, error) {
	data, err := os.ReadFile(Path(cwd))
	if errors.Is(err, os.ErrNotExist) {
		return idleState(cwd), nil
	}
	if err != nil {
		return idleState(cwd), fmt.Errorf("read planning state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return idleState(cwd), fmt.Errorf("parse planning state: %w", err)
	}
	if st.Cwd == "" {
		st.Cwd = cwd
	}
	if st.Phase == "" {
		st.Phase = PhaseIdle
	}
	return st, nil
}

func save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode planning state: %w", err)
	}
	if err := fsutil.WriteAtomic(Path(st.Cwd), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write planning state: %w", err)
	}
	return nil
}

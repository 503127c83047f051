package bisect

// #region imports
import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// #endregion

// #region errors

// ErrStateCorrupt reports an unreadable or inconsistent checkpoint. Resuming
// from a corrupt file is fatal rather than a silent fresh start: starting
// over would discard the decider invocations already paid for.
var ErrStateCorrupt = errors.New("bisection state file corrupt")

// #endregion

// #region state

// state is the resumable checkpoint, written after every fully-resolved work
// item. CommonFuncs stores the post-shuffle ordering so a resumed run probes
// the same spans; RNGState is the serialized random source so later shuffles
// replay identically.
type state struct {
	Seed        int64      `json:"seed"`
	RNGState    string     `json:"rng_state"`
	CommonFuncs []string   `json:"common_funcs"`
	Individuals []string   `json:"individuals"`
	Ranges      [][]string `json:"ranges"`
	Skipped     [][]string `json:"skipped,omitempty"`
	ToProcess   []Span     `json:"to_process"`
}

// #endregion state

// #region load

func loadState(path string) (*state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStateCorrupt, path, err)
	}
	if st.RNGState == "" {
		return nil, fmt.Errorf("%w: %s: missing rng_state", ErrStateCorrupt, path)
	}
	for _, sp := range st.ToProcess {
		if sp.Lo < 0 || sp.Hi > len(st.CommonFuncs) || sp.Lo >= sp.Hi {
			return nil, fmt.Errorf("%w: %s: queue span [%d,%d) out of bounds",
				ErrStateCorrupt, path, sp.Lo, sp.Hi)
		}
	}
	return &st, nil
}

// #endregion load

// #region save

// save writes the checkpoint through a temp file and rename so a crash
// mid-write never clobbers the previous checkpoint.
func (st *state) save(path string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// #endregion save

// #region completed

// completedName is the audit-trail name a finished run's state file is
// renamed to, so a later run at the same base path starts clean.
func completedName(path string, now time.Time) string {
	return fmt.Sprintf("%s.completed.%s", path, now.Format("2006-01-02"))
}

// #endregion completed

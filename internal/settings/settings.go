package settings

// #region imports
import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #endregion

// #region types

// Settings tunes the decider and search behaviour without long flag
// strings, so automation can pin policy in a checked-in file.
type Settings struct {
	Decider DeciderSettings `yaml:"decider"`
	Search  SearchSettings  `yaml:"search"`
}

// DeciderSettings controls the external decider adapter.
type DeciderSettings struct {
	// MaxSkipRetries bounds how often a SKIP verdict is retried before the
	// candidate is declared inconclusive. Zero keeps the default.
	MaxSkipRetries int `yaml:"max_skip_retries"`
	// StagingDir is where candidate profiles are written for the decider
	// script. Empty uses the system temp directory.
	StagingDir string `yaml:"staging_dir"`
}

// SearchSettings controls the bisection engine.
type SearchSettings struct {
	// NonBisectRuns is how many shuffled passes the non-bisecting boundary
	// scan makes. Zero keeps the default.
	NonBisectRuns int `yaml:"non_bisect_runs"`
}

// #endregion types

// #region load

// Load reads a YAML settings file. An empty path or a missing file returns
// nil (not an error); callers treat a nil *Settings as all-defaults.
func Load(path string) (*Settings, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &s, nil
}

// #endregion load

package bisect

// #region imports
import (
	"github.com/afdo-tools/bisect/internal/decider"
	"github.com/afdo-tools/bisect/internal/profile"
)

// #endregion

// #region span

// Span is a half-open [Lo, Hi) index range into the common function ordering.
type Span struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// #endregion span

// #region config

// Config carries everything one analysis run needs. Tests construct it
// directly; the engine never mutates the caller's copy.
type Config struct {
	Good profile.Profile
	Bad  profile.Profile

	Decider decider.Decider

	// StateFile is the checkpoint path. Empty disables persistence.
	StateFile string
	// NoResume starts fresh even when StateFile already exists.
	NoResume bool
	// RemoveStateOnCompletion deletes the checkpoint after a finished run
	// instead of archiving it under the .completed.<date> name.
	RemoveStateOnCompletion bool

	// Seed for the engine's random source. Nil derives one from the clock.
	Seed *int64

	// SkipSanityCheck bypasses the initial good-is-GOOD / bad-is-BAD probes.
	SkipSanityCheck bool

	// NonBisectRuns is how many shuffled passes the non-bisecting boundary
	// scan makes over a suspect span.
	NonBisectRuns int
}

const defaultNonBisectRuns = 20

// #endregion config

// #region results

// Results is the final attribution for one run. Individuals are functions
// independently responsible for the regression; each range is a set of
// functions only jointly responsible. The two never overlap.
type Results struct {
	Individuals []string   `json:"individuals"`
	Ranges      [][]string `json:"ranges"`
	Skipped     [][]string `json:"skipped,omitempty"`
}

// Report is the JSON document the CLI writes on success.
type Report struct {
	Seed              int64   `json:"seed"`
	BisectResults     Results `json:"bisect_results"`
	GoodOnlyFunctions bool    `json:"good_only_functions"`
	BadOnlyFunctions  bool    `json:"bad_only_functions"`
}

// #endregion results

package decider

// #region imports
import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/afdo-tools/bisect/internal/profile"
)

// #endregion

// #region verdict

// Verdict is the decider's judgement of a candidate profile.
type Verdict int

const (
	Good Verdict = iota
	Bad
	Skip
)

func (v Verdict) String() string {
	switch v {
	case Good:
		return "good"
	case Bad:
		return "bad"
	case Skip:
		return "skip"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Exit-code protocol for external decider scripts. Problem status is the
// script's reserved "my environment is broken" signal and is always fatal.
const (
	goodStatus    = 0
	badStatus     = 1
	skipStatus    = 125
	problemStatus = 127
)

// #endregion verdict

// #region errors

// ErrProblemStatus reports the decider's reserved problem exit code.
var ErrProblemStatus = errors.New("external decider reported problem status")

// ErrInconclusive reports that the SKIP retry budget was exhausted without a
// usable verdict.
var ErrInconclusive = errors.New("decider skipped candidate too many times")

// #endregion

// #region interfaces

// Decider judges a candidate hybrid profile.
type Decider interface {
	Decide(prof profile.Profile) (Verdict, error)
}

// Observer receives a record of every completed external invocation.
type Observer interface {
	Invocation(rec Invocation)
}

// Invocation describes one external decider run. ProfileSHA is the sha256 of
// the staged candidate text, so an audit row can be correlated with the exact
// hybrid that produced it.
type Invocation struct {
	ProfileSHA string
	NumFuncs   int
	Verdict    string
	ExitCode   int
	Duration   time.Duration
}

// #endregion interfaces

// #region external

// External invokes a caller-supplied executable as "<script> <path>" where
// path is a staged copy of a candidate profile, and maps the script's exit
// status to a Verdict.
type External struct {
	Script     string
	StagingDir string   // "" = os.TempDir()
	Observer   Observer // optional
}

// Decide stages prof under a unique filename, runs the script against it and
// interprets the exit code. A script that cannot be started, exits with the
// problem status, or exits outside the protocol is a fatal error.
func (e *External) Decide(prof profile.Profile) (Verdict, error) {
	dir := e.StagingDir
	if dir == "" {
		dir = os.TempDir()
	}
	// Unique per invocation so parallel callers could never collide.
	path := filepath.Join(dir, "candidate-"+uuid.New().String()+".prof")
	text := prof.Text()
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return 0, fmt.Errorf("stage candidate: %w", err)
	}
	defer os.Remove(path)
	sum := sha256.Sum256([]byte(text))

	start := time.Now()
	cmd := exec.Command(e.Script, path)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	code := goodStatus
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("run decider %s: %w", e.Script, err)
		}
		code = exitErr.ExitCode()
	}
	elapsed := time.Since(start)

	var verdict Verdict
	switch code {
	case goodStatus:
		verdict = Good
	case badStatus:
		verdict = Bad
	case skipStatus:
		verdict = Skip
	case problemStatus:
		return 0, fmt.Errorf("%w (exit code %d)", ErrProblemStatus, code)
	default:
		return 0, fmt.Errorf("decider %s returned unexpected exit code %d", e.Script, code)
	}

	if e.Observer != nil {
		e.Observer.Invocation(Invocation{
			ProfileSHA: hex.EncodeToString(sum[:]),
			NumFuncs:   len(prof),
			Verdict:    verdict.String(),
			ExitCode:   code,
			Duration:   elapsed,
		})
	}
	return verdict, nil
}

// #endregion external

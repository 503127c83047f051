package bisect

// #region imports
import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/afdo-tools/bisect/internal/decider"
	"github.com/afdo-tools/bisect/internal/profile"
)

// #endregion

// #region errors

// Sanity probe failures. Distinct from "no culprit found": if the inputs are
// not actually distinguishable by the decider, bisection would only report
// noise.
var (
	ErrGoodNotGood = errors.New("supplied good profile does not test GOOD")
	ErrBadNotBad   = errors.New("supplied bad profile does not test BAD")
)

// #endregion

// #region engine

// Engine runs one profile bisection to completion. It owns all of its state
// exclusively and is not safe for concurrent use; every decider call is a
// blocking build-and-test cycle, so the design spends its effort on
// minimizing invocations, not on parallelism.
type Engine struct {
	cfg  Config
	pcg  *rand.PCG
	rng  *rand.Rand
	seed int64

	common      []string
	individuals []string
	ranges      [][]string
	skipped     [][]string
	queue       []Span
}

// New builds an engine from cfg. When cfg.StateFile names an existing
// checkpoint and resumption is allowed, the engine picks up exactly where
// the interrupted run left off.
func New(cfg Config) (*Engine, error) {
	if cfg.Decider == nil {
		return nil, errors.New("bisect: config has no decider")
	}
	if cfg.NonBisectRuns <= 0 {
		cfg.NonBisectRuns = defaultNonBisectRuns
	}

	e := &Engine{cfg: cfg}

	if cfg.StateFile != "" && !cfg.NoResume {
		if _, err := os.Stat(cfg.StateFile); err == nil {
			st, err := loadState(cfg.StateFile)
			if err != nil {
				return nil, err
			}
			if err := e.restore(st); err != nil {
				return nil, err
			}
			return e, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat state file: %w", err)
		}
	}

	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	e.seed = seed
	e.pcg = rand.NewPCG(uint64(seed), uint64(seed))
	e.rng = rand.New(e.pcg)

	// The common-function list has no inherent ordering; shuffling it means
	// repeated runs with different seeds can surface different minimal
	// ranges.
	e.common = commonFuncs(cfg.Good, cfg.Bad)
	e.shuffle(e.common)
	if len(e.common) > 0 {
		e.queue = []Span{{0, len(e.common)}}
	}
	return e, nil
}

// Seed returns the seed this run was created (or resumed) with.
func (e *Engine) Seed() int64 { return e.seed }

// #endregion engine

// #region restore

func (e *Engine) restore(st *state) error {
	raw, err := base64.StdEncoding.DecodeString(st.RNGState)
	if err != nil {
		return fmt.Errorf("%w: undecodable rng_state: %v", ErrStateCorrupt, err)
	}
	pcg := &rand.PCG{}
	if err := pcg.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("%w: undecodable rng_state: %v", ErrStateCorrupt, err)
	}
	for _, fn := range st.CommonFuncs {
		if _, ok := e.cfg.Good[fn]; !ok {
			return fmt.Errorf("%w: function %q not in supplied good profile", ErrStateCorrupt, fn)
		}
		if _, ok := e.cfg.Bad[fn]; !ok {
			return fmt.Errorf("%w: function %q not in supplied bad profile", ErrStateCorrupt, fn)
		}
	}

	e.seed = st.Seed
	e.pcg = pcg
	e.rng = rand.New(pcg)
	e.common = st.CommonFuncs
	e.individuals = st.Individuals
	e.ranges = st.Ranges
	e.skipped = st.Skipped
	e.queue = st.ToProcess
	return nil
}

// #endregion restore

// #region run

// Run executes the bisection until the work queue drains, checkpointing
// after every resolved item, then archives the state file and returns the
// attribution.
func (e *Engine) Run() (*Results, error) {
	if !e.cfg.SkipSanityCheck {
		if err := e.sanityCheck(); err != nil {
			return nil, err
		}
	}
	if err := e.checkpoint(); err != nil {
		return nil, err
	}

	for len(e.queue) > 0 {
		item := e.queue[len(e.queue)-1]
		e.queue = e.queue[:len(e.queue)-1]
		if err := e.resolve(item); err != nil {
			return nil, err
		}
		// The checkpoint is written only after the popped item is fully
		// resolved, so a crash mid-item leaves it queued in the previous
		// checkpoint.
		if err := e.checkpoint(); err != nil {
			return nil, err
		}
	}

	res := e.results()
	if e.cfg.StateFile != "" {
		if err := e.finishState(); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *Engine) sanityCheck() error {
	v, err := e.cfg.Decider.Decide(e.cfg.Good)
	if err != nil {
		return fmt.Errorf("sanity check good profile: %w", err)
	}
	if v != decider.Good {
		return ErrGoodNotGood
	}
	v, err = e.cfg.Decider.Decide(e.cfg.Bad)
	if err != nil {
		return fmt.Errorf("sanity check bad profile: %w", err)
	}
	if v != decider.Bad {
		return ErrBadNotBad
	}
	return nil
}

// #endregion run

// #region resolve

func (e *Engine) resolve(sp Span) error {
	if sp.Hi-sp.Lo <= 1 {
		return e.resolveSingle(sp)
	}

	mid := (sp.Lo + sp.Hi) / 2
	loVerdict, loErr := e.decideHybrid(sp.Lo, mid)
	if loErr != nil && !errors.Is(loErr, decider.ErrInconclusive) {
		return loErr
	}
	hiVerdict, hiErr := e.decideHybrid(mid, sp.Hi)
	if hiErr != nil && !errors.Is(hiErr, decider.ErrInconclusive) {
		return hiErr
	}

	if loErr != nil || hiErr != nil {
		switch {
		case loErr != nil && hiErr != nil:
			e.markSkipped(Span{sp.Lo, mid})
			e.markSkipped(Span{mid, sp.Hi})
		case loErr != nil:
			if hiVerdict == decider.Bad {
				e.queue = append(e.queue, Span{mid, sp.Hi})
				e.markSkipped(Span{sp.Lo, mid})
			} else {
				// The half that tested Good could still hold part of a
				// combination crossing mid; with the other half unanswerable,
				// nothing in the span can be attributed.
				e.markSkipped(sp)
			}
		default:
			if loVerdict == decider.Bad {
				e.queue = append(e.queue, Span{sp.Lo, mid})
				e.markSkipped(Span{mid, sp.Hi})
			} else {
				e.markSkipped(sp)
			}
		}
		return nil
	}

	loBad := loVerdict == decider.Bad
	hiBad := hiVerdict == decider.Bad
	switch {
	case loBad && hiBad:
		// Independent culprits exist in both halves.
		e.queue = append(e.queue, Span{sp.Lo, mid}, Span{mid, sp.Hi})
	case loBad:
		e.queue = append(e.queue, Span{sp.Lo, mid})
	case hiBad:
		e.queue = append(e.queue, Span{mid, sp.Hi})
	default:
		// Neither half alone reproduces the regression even though the full
		// span does: the culpable combination crosses mid.
		rng, err := e.nonBisectingSearch(sp.Lo, sp.Hi)
		if err != nil {
			if errors.Is(err, decider.ErrInconclusive) {
				e.markSkipped(sp)
				return nil
			}
			return err
		}
		if len(rng) > 0 {
			e.ranges = append(e.ranges, rng)
		}
	}
	return nil
}

// resolveSingle classifies one function in isolation. The verdict that
// narrowed the queue down to this function is not trusted; re-testing keeps
// the individual/range disjointness independent of how the span was produced.
func (e *Engine) resolveSingle(sp Span) error {
	v, err := e.decideHybrid(sp.Lo, sp.Hi)
	if err != nil {
		if errors.Is(err, decider.ErrInconclusive) {
			e.markSkipped(sp)
			return nil
		}
		return err
	}
	if v == decider.Bad {
		e.individuals = append(e.individuals, e.common[sp.Lo])
	}
	return nil
}

// decideHybrid probes the good profile with the bad bodies of the common
// functions in [lo, hi) substituted in.
func (e *Engine) decideHybrid(lo, hi int) (decider.Verdict, error) {
	hybrid := e.cfg.Good.Clone()
	for _, fn := range e.common[lo:hi] {
		hybrid[fn] = e.cfg.Bad[fn]
	}
	return e.cfg.Decider.Decide(hybrid)
}

func (e *Engine) markSkipped(sp Span) {
	funcs := append([]string(nil), e.common[sp.Lo:sp.Hi]...)
	log.Printf("[BISECT] decider kept skipping span [%d,%d) (%d funcs), excluding it from attribution",
		sp.Lo, sp.Hi, len(funcs))
	e.skipped = append(e.skipped, funcs)
}

// #endregion resolve

// #region non-bisecting

// nonBisectingSearch finds a contiguous set of functions within [lo, hi)
// that only tests BAD when present together. It expands an upper boundary
// from the midpoint until the hybrid turns BAD, then contracts the lower
// boundary until it turns GOOD again; the span between the two boundaries is
// a problematic combination. Each pass reshuffles the candidate orderings to
// try for a smaller range; the returned list may not be minimal but always
// contains a problematic combination.
func (e *Engine) nonBisectingSearch(lo, hi int) ([]string, error) {
	var loMidFuncs, midHiFuncs, minRange []string
	for run := 0; run < e.cfg.NonBisectRuns; run++ {
		if len(minRange) > 0 {
			// Narrow to the range found so far before reshuffling.
			loMidFuncs = loMidFuncs[indexOf(loMidFuncs, minRange[0]):]
			midHiFuncs = midHiFuncs[:indexOf(midHiFuncs, minRange[len(minRange)-1])+1]
			e.shuffle(loMidFuncs)
			e.shuffle(midHiFuncs)
		} else {
			// The combination must cross the original midpoint, otherwise
			// plain bisection would have caught it.
			mid := (lo + hi) / 2
			loMidFuncs = append([]string(nil), e.common[lo:mid]...)
			midHiFuncs = append([]string(nil), e.common[mid:hi]...)
		}

		funcs := make([]string, 0, len(loMidFuncs)+len(midHiFuncs))
		funcs = append(append(funcs, loMidFuncs...), midHiFuncs...)
		top := len(funcs)
		mid := len(loMidFuncs)

		hybrid := e.cfg.Good.Clone()
		for _, fn := range loMidFuncs {
			hybrid[fn] = e.cfg.Bad[fn]
		}

		for upper := mid; upper < top; upper++ {
			fn := funcs[upper]
			hybrid[fn] = e.cfg.Bad[fn]
			v, err := e.cfg.Decider.Decide(hybrid)
			if err != nil {
				return nil, err
			}
			if v != decider.Bad {
				continue
			}

			// Upper boundary found; revert lower functions to good until the
			// hybrid recovers. The function whose reversion flips the
			// verdict is part of the combination, so it stays included.
			for lower := 0; lower < mid; lower++ {
				lowFn := funcs[lower]
				hybrid[lowFn] = e.cfg.Good[lowFn]
				v, err := e.cfg.Decider.Decide(hybrid)
				if err != nil {
					return nil, err
				}
				if v != decider.Good {
					continue
				}
				if len(minRange) == 0 || upper-lower < len(minRange) {
					minRange = append([]string(nil), funcs[lower:upper+1]...)
					if len(minRange) == 2 {
						sort.Strings(minRange)
						return minRange, nil // can't get any smaller
					}
				}
				break
			}
		}
	}

	out := append([]string(nil), minRange...)
	sort.Strings(out)
	return out, nil
}

func indexOf(list []string, fn string) int {
	for i, s := range list {
		if s == fn {
			return i
		}
	}
	return -1
}

// #endregion non-bisecting

// #region persistence

func (e *Engine) checkpoint() error {
	if e.cfg.StateFile == "" {
		return nil
	}
	rngBin, err := e.pcg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal rng state: %w", err)
	}
	st := state{
		Seed:        e.seed,
		RNGState:    base64.StdEncoding.EncodeToString(rngBin),
		CommonFuncs: e.common,
		Individuals: e.individuals,
		Ranges:      e.ranges,
		Skipped:     e.skipped,
		ToProcess:   append([]Span(nil), e.queue...),
	}
	return st.save(e.cfg.StateFile)
}

func (e *Engine) finishState() error {
	if e.cfg.RemoveStateOnCompletion {
		if err := os.Remove(e.cfg.StateFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove state: %w", err)
		}
		return nil
	}
	dst := completedName(e.cfg.StateFile, time.Now())
	if err := os.Rename(e.cfg.StateFile, dst); err != nil {
		return fmt.Errorf("archive state: %w", err)
	}
	return nil
}

// #endregion persistence

// #region results

func (e *Engine) results() *Results {
	individuals := append([]string(nil), e.individuals...)
	sort.Strings(individuals)

	ranges := make([][]string, 0, len(e.ranges))
	for _, r := range e.ranges {
		ranges = append(ranges, append([]string(nil), r...))
	}
	sort.Slice(ranges, func(i, j int) bool {
		return lessStrings(ranges[i], ranges[j])
	})

	skipped := make([][]string, 0, len(e.skipped))
	for _, s := range e.skipped {
		skipped = append(skipped, append([]string(nil), s...))
	}

	return &Results{Individuals: individuals, Ranges: ranges, Skipped: skipped}
}

func lessStrings(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// #endregion results

// #region helpers

func (e *Engine) shuffle(list []string) {
	e.rng.Shuffle(len(list), func(i, j int) {
		list[i], list[j] = list[j], list[i]
	})
}

// commonFuncs returns the names present in both profiles, sorted, as the
// base ordering the seeded shuffle permutes.
func commonFuncs(good, bad profile.Profile) []string {
	var out []string
	for fn := range good {
		if _, ok := bad[fn]; ok {
			out = append(out, fn)
		}
	}
	sort.Strings(out)
	return out
}

// #endregion helpers

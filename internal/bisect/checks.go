package bisect

// #region imports
import (
	"github.com/afdo-tools/bisect/internal/decider"
	"github.com/afdo-tools/bisect/internal/profile"
)

// #endregion

// #region rough-diff

// CheckGoodNotBad reports whether the bad profile turns GOOD once the
// functions only the good profile has are added to it. A true result means
// the regression lives in functions the bad profile lacks.
func CheckGoodNotBad(good, bad profile.Profile, d decider.Decider) (bool, error) {
	hybrid := bad.Clone()
	for fn, body := range good {
		if _, ok := bad[fn]; !ok {
			hybrid[fn] = body
		}
	}
	v, err := d.Decide(hybrid)
	if err != nil {
		return false, err
	}
	return v == decider.Good, nil
}

// CheckBadNotGood reports whether the good profile turns BAD once the
// functions only the bad profile has are added to it.
func CheckBadNotGood(good, bad profile.Profile, d decider.Decider) (bool, error) {
	hybrid := good.Clone()
	for fn, body := range bad {
		if _, ok := good[fn]; !ok {
			hybrid[fn] = body
		}
	}
	v, err := d.Decide(hybrid)
	if err != nil {
		return false, err
	}
	return v == decider.Bad, nil
}

// #endregion rough-diff

// #region analyze

// Analyze runs a full analysis: the bisection itself plus the good-only /
// bad-only rough-diff probes, producing the report the CLI serializes.
func Analyze(cfg Config) (*Report, error) {
	eng, err := New(cfg)
	if err != nil {
		return nil, err
	}
	res, err := eng.Run()
	if err != nil {
		return nil, err
	}

	gnb, err := CheckGoodNotBad(cfg.Good, cfg.Bad, cfg.Decider)
	if err != nil {
		return nil, err
	}
	bng, err := CheckBadNotGood(cfg.Good, cfg.Bad, cfg.Decider)
	if err != nil {
		return nil, err
	}

	return &Report{
		Seed:              eng.Seed(),
		BisectResults:     *res,
		GoodOnlyFunctions: gnb,
		BadOnlyFunctions:  bng,
	}, nil
}

// #endregion analyze

package decider

// #region imports
import (
	"log"

	"github.com/afdo-tools/bisect/internal/profile"
)

// #endregion

// #region policy

const defaultMaxSkipRetries = 2 // max 2 retries = 3 total attempts

// RetryPolicy bounds how many times a SKIP verdict is retried before the
// candidate is declared inconclusive.
type RetryPolicy struct {
	MaxSkipRetries int
}

// DefaultRetryPolicy returns the standard retry budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxSkipRetries: defaultMaxSkipRetries}
}

// #endregion policy

// #region retrier

// Retrier wraps a Decider and converts persistent SKIP verdicts into
// ErrInconclusive once the policy's budget is spent. All other verdicts and
// errors pass through unchanged.
type Retrier struct {
	Inner  Decider
	Policy RetryPolicy
}

func (r *Retrier) Decide(prof profile.Profile) (Verdict, error) {
	attempts := r.Policy.MaxSkipRetries + 1
	for i := 0; i < attempts; i++ {
		v, err := r.Inner.Decide(prof)
		if err != nil {
			return 0, err
		}
		if v != Skip {
			return v, nil
		}
		if i < attempts-1 {
			log.Printf("[DECIDER] candidate (%d funcs) skipped, retry %d/%d",
				len(prof), i+1, r.Policy.MaxSkipRetries)
		}
	}
	return 0, ErrInconclusive
}

// #endregion retrier

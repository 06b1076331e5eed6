package admission

import (
	"context"
	"time"
)

// AdmitWait wraps Controller.Admit with the delay protocol: a Delay verdict
// suspends the calling goroutine until the bucket has accrued a token, then
// re-runs the admission check exactly once. A second Delay collapses to
// Reject so a waiter never loops. Cancellation during the wait abandons the
// request without consuming anything.
func AdmitWait(ctx context.Context, c Controller, key string, p Policy) (Decision, error) {
	dec, err := c.Admit(ctx, key, p, time.Now())
	if err != nil || dec.Verdict != Delay {
		return dec, err
	}

	waited := dec.Wait
	t := time.NewTimer(waited)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return dec, ctx.Err()
	case <-t.C:
	}

	dec, err = c.Admit(ctx, key, p, time.Now())
	if err != nil {
		return dec, err
	}
	if dec.Verdict == Delay {
		// a concurrent request for the same key took the token we waited for
		dec.Verdict = Reject
	}
	dec.Delayed = waited
	return dec, nil
}

package admission

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned by AdmitWait when a request cannot be admitted.
var ErrRateLimited = errors.New("rate limit exceeded")

type Policy struct {
	Rate      float64       // tokens added per second
	Burst     int           // bucket capacity
	DelayMode bool          // queue excess requests instead of rejecting
	MaxDelay  time.Duration // longest wait DelayMode may hand out
}

type Verdict int

const (
	Allow Verdict = iota
	Delay
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Delay:
		return "delay"
	case Reject:
		return "reject"
	}
	return "unknown"
}

type Decision struct {
	Verdict      Verdict
	Wait         time.Duration // time until the next token (Delay/Reject)
	Delayed      time.Duration // how long AdmitWait actually suspended the caller
	Limit        float64       // policy rate, for headers
	Remaining    int           // tokens after this request (min 0)
	ResetUnixSec int64         // when the bucket would be full again
}

// Controller decides, per client key, whether a request may proceed.
// Implementations must not block in Admit; the Delay verdict tells the
// caller how long to suspend, it never suspends the controller.
type Controller interface {
	Admit(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
	Close() error
}

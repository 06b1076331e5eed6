package admission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmelchor/floodgate/internal/admission"
	"github.com/kmelchor/floodgate/internal/admission/memory"
)

type scriptedController struct {
	decisions []admission.Decision
	calls     int
}

func (c *scriptedController) Admit(_ context.Context, _ string, _ admission.Policy, _ time.Time) (admission.Decision, error) {
	dec := c.decisions[c.calls]
	c.calls++
	return dec, nil
}

func (c *scriptedController) Close() error { return nil }

func TestAdmitWait_PassesThroughAllow(t *testing.T) {
	ctrl := &scriptedController{decisions: []admission.Decision{{Verdict: admission.Allow}}}

	dec, err := admission.AdmitWait(context.Background(), ctrl, "k", admission.Policy{})
	if err != nil {
		t.Fatalf("AdmitWait: %v", err)
	}
	if dec.Verdict != admission.Allow {
		t.Fatalf("expected allow, got %s", dec.Verdict)
	}
	if ctrl.calls != 1 {
		t.Fatalf("expected a single admit call, got %d", ctrl.calls)
	}
}

func TestAdmitWait_DelayThenAllow(t *testing.T) {
	ctrl := &scriptedController{decisions: []admission.Decision{
		{Verdict: admission.Delay, Wait: 10 * time.Millisecond},
		{Verdict: admission.Allow},
	}}

	start := time.Now()
	dec, err := admission.AdmitWait(context.Background(), ctrl, "k", admission.Policy{})
	if err != nil {
		t.Fatalf("AdmitWait: %v", err)
	}
	if dec.Verdict != admission.Allow {
		t.Fatalf("expected allow after delay, got %s", dec.Verdict)
	}
	if dec.Delayed != 10*time.Millisecond {
		t.Fatalf("expected Delayed=10ms, got %s", dec.Delayed)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("returned before the wait elapsed (%s)", elapsed)
	}
	if ctrl.calls != 2 {
		t.Fatalf("expected exactly two admit calls, got %d", ctrl.calls)
	}
}

func TestAdmitWait_SecondDelayCollapsesToReject(t *testing.T) {
	ctrl := &scriptedController{decisions: []admission.Decision{
		{Verdict: admission.Delay, Wait: time.Millisecond},
		{Verdict: admission.Delay, Wait: time.Millisecond},
	}}

	dec, err := admission.AdmitWait(context.Background(), ctrl, "k", admission.Policy{})
	if err != nil {
		t.Fatalf("AdmitWait: %v", err)
	}
	if dec.Verdict != admission.Reject {
		t.Fatalf("expected reject, got %s", dec.Verdict)
	}
	if ctrl.calls != 2 {
		t.Fatalf("waiter must not loop, got %d admit calls", ctrl.calls)
	}
}

func TestAdmitWait_CancelledWaitGrantsNothing(t *testing.T) {
	ctrl := &scriptedController{decisions: []admission.Decision{
		{Verdict: admission.Delay, Wait: 5 * time.Second},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := admission.AdmitWait(ctx, ctrl, "k", admission.Policy{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if ctrl.calls != 1 {
		t.Fatalf("cancelled wait must not re-admit, got %d calls", ctrl.calls)
	}
}

func TestAdmitWait_AgainstMemoryStore(t *testing.T) {
	store := memory.New()
	p := admission.Policy{Rate: 50, Burst: 1, DelayMode: true, MaxDelay: time.Second}

	dec, err := admission.AdmitWait(context.Background(), store, "k", p)
	if err != nil || dec.Verdict != admission.Allow {
		t.Fatalf("first request: dec=%v err=%v", dec, err)
	}

	// bucket is empty; the next token accrues in ~20ms
	dec, err = admission.AdmitWait(context.Background(), store, "k", p)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if dec.Verdict != admission.Allow {
		t.Fatalf("expected allow after delaying, got %s", dec.Verdict)
	}
	if dec.Delayed <= 0 {
		t.Fatalf("expected a recorded delay, got %s", dec.Delayed)
	}
}

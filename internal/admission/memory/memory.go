package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kmelchor/floodgate/internal/admission"
)

// bucket holds the mutable token state for one client key.
// Token math happens under the bucket's own mutex so one hot client
// never serializes admissions for everyone else.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

type entry struct {
	b        *bucket
	lastSeen time.Time
}

// Store is the in-memory bucket store. The outer mutex guards only the
// map (lookup, insert, evict); it is never held during token math.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxClients int
	idleTTL    time.Duration
	sweepEvery time.Duration

	now func() time.Time
}

type Option func(*Store)

// WithMaxClients caps the number of tracked client keys. Inserting past
// the cap drops the longest-idle entry first.
func WithMaxClients(n int) Option {
	return func(s *Store) { s.maxClients = n }
}

func WithIdleTTL(d time.Duration) Option {
	return func(s *Store) { s.idleTTL = d }
}

func WithSweepEvery(d time.Duration) Option {
	return func(s *Store) { s.sweepEvery = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		maxClients: 10000,
		idleTTL:    15 * time.Minute,
		sweepEvery: 2 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return nil }

// Len reports how many client keys are currently tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Admit(_ context.Context, key string, p admission.Policy, now time.Time) (admission.Decision, error) {
	if p.Rate <= 0 || p.Burst <= 0 {
		// unconfigured policy never throttles
		return admission.Decision{Verdict: admission.Allow, Limit: p.Rate, Remaining: p.Burst}, nil
	}

	capacity := float64(p.Burst)
	b := s.bucket(key, capacity, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	// refill, clamped so a wall-clock jump can never grant more than a
	// full bucket's worth of credit in one step
	elapsed := now.Sub(b.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if maxElapsed := capacity / p.Rate; elapsed > maxElapsed {
		elapsed = maxElapsed
	}
	b.tokens += elapsed * p.Rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.last = now

	dec := admission.Decision{Limit: p.Rate}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		dec.Verdict = admission.Allow
	} else {
		need := (1.0 - b.tokens) / p.Rate
		dec.Wait = time.Duration(need * float64(time.Second))
		if p.DelayMode && p.MaxDelay > 0 && dec.Wait <= p.MaxDelay {
			dec.Verdict = admission.Delay
		} else {
			dec.Verdict = admission.Reject
		}
	}

	dec.Remaining = int(b.tokens)
	if b.tokens >= capacity {
		dec.ResetUnixSec = now.Unix()
	} else {
		sec := (capacity - b.tokens) / p.Rate
		dec.ResetUnixSec = now.Add(time.Duration(sec * float64(time.Second))).Unix()
	}
	return dec, nil
}

func (s *Store) bucket(key string, capacity float64, now time.Time) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.b
	}

	if s.maxClients > 0 && len(s.entries) >= s.maxClients {
		s.evictOldestLocked()
	}

	b := &bucket{tokens: capacity, last: now}
	s.entries[key] = &entry{b: b, lastSeen: now}
	return b
}

// evictOldestLocked drops the entry that has been idle the longest.
// Caller must hold s.mu.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, ent := range s.entries {
		if oldestKey == "" || ent.lastSeen.Before(oldest) {
			oldestKey = k
			oldest = ent.lastSeen
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// Cleanup removes entries idle longer than the idle TTL.
func (s *Store) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor sweeps idle entries periodically until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

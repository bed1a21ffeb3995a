package mutation

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxDelay bounds a throttle delay so that near-zero rates cannot overflow
// time arithmetic. The task still looks paused.
const maxDelay = 100 * 365 * 24 * time.Hour

// limitFor maps a requests-per-second value to a rate. -1 means
// unlimited; callers reject zero before it gets here.
func limitFor(rps float64) rate.Limit {
	if rps <= 0 || math.IsInf(rps, 1) {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// rpsOf reports a rate the way clients submit it, -1 for unlimited.
func rpsOf(l rate.Limit) float64 {
	if l == rate.Inf {
		return -1
	}
	return float64(l)
}

// delayFor is how long to wait after a batch of docs so that the batch,
// which took elapsed, runs at no more than limit documents per second.
func delayFor(limit rate.Limit, docs int, elapsed time.Duration) time.Duration {
	if limit == rate.Inf || docs <= 0 {
		return 0
	}
	target := float64(docs) / float64(limit) * float64(time.Second)
	if target >= float64(maxDelay) {
		return maxDelay
	}
	d := time.Duration(math.Round(target)) - elapsed
	if d < 0 {
		return 0
	}
	return d
}

// throttle holds a worker's rate. The rate is the only state shared
// between Rethrottle callers and the batch loop.
type throttle struct {
	mu        sync.Mutex
	limit     rate.Limit
	until     time.Time
	throttled time.Duration
	wake      chan struct{}
	now       func() time.Time
}

func newThrottle(limit rate.Limit) *throttle {
	return &throttle{limit: limit, wake: make(chan struct{}, 1), now: time.Now}
}

func (t *throttle) rate() rate.Limit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// snapshot returns the rate, accumulated throttle time and the time left
// in the current wait.
func (t *throttle) snapshot() (rate.Limit, time.Duration, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var left time.Duration
	if !t.until.IsZero() {
		left = t.until.Sub(t.now())
		if left < 0 {
			left = 0
		}
	}
	return t.limit, t.throttled, left
}

// setRate changes the rate. A faster rate shortens a pending wait in
// proportion; a slower one only applies from the next batch.
func (t *throttle) setRate(limit rate.Limit) {
	t.mu.Lock()
	old := t.limit
	t.limit = limit
	shortened := false
	if limit > old && !t.until.IsZero() {
		now := t.now()
		left := t.until.Sub(now)
		if left > 0 {
			scaled := time.Duration(0)
			if limit != rate.Inf {
				scaled = time.Duration(float64(left) * float64(old) / float64(limit))
			}
			t.until = now.Add(scaled)
			shortened = true
		}
	}
	t.mu.Unlock()

	if shortened {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

// sleep waits for the delay owed after a batch of docs that took elapsed.
// It returns false when canceled or ctx ends first.
func (t *throttle) sleep(ctx context.Context, cancel <-chan struct{}, docs int, elapsed time.Duration) (time.Duration, bool) {
	t.mu.Lock()
	delay := delayFor(t.limit, docs, elapsed)
	if delay == 0 {
		t.mu.Unlock()
		return 0, true
	}
	start := t.now()
	t.until = start.Add(delay)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.throttled += t.now().Sub(start)
		t.until = time.Time{}
		t.mu.Unlock()
	}()

	for {
		t.mu.Lock()
		left := t.until.Sub(t.now())
		t.mu.Unlock()
		if left <= 0 {
			return t.now().Sub(start), true
		}

		timer := time.NewTimer(left)
		select {
		case <-timer.C:
		case <-t.wake:
			timer.Stop()
		case <-cancel:
			timer.Stop()
			return t.now().Sub(start), false
		case <-ctx.Done():
			timer.Stop()
			return t.now().Sub(start), false
		}
	}
}

package llm

import "sync"

// FailureTracker counts consecutive LLM failures. The counter increments on
// every error and resets on success.
type FailureTracker struct {
	mu          sync.Mutex
	consecutive int
}

func (t *FailureTracker) RecordFailure() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive++
	return t.consecutive
}

func (t *FailureTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = 0
}

func (t *FailureTracker) Consecutive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutive
}

// PausePolicy decides when the engine should pause in response to LLM
// failures.
type PausePolicy struct {
	PauseOnCriticalError   bool
	MaxConsecutiveFailures int
}

// ShouldPause reports whether the engine must pause given the classified
// error and the current consecutive-failure count.
func (p PausePolicy) ShouldPause(c Classified, consecutive int) bool {
	if !p.PauseOnCriticalError {
		return false
	}
	if c.Severity == SeverityCritical {
		return true
	}
	max := p.MaxConsecutiveFailures
	if max <= 0 {
		max = 3
	}
	return consecutive >= max
}

// Backoff computes the deferral applied to a character's next decision after
// n consecutive failures: base × 2^min(n, cap), bounded by Max.
type Backoff struct {
	BaseMinutes int
	ExponentCap int
	MaxMinutes  int
}

func (b Backoff) DelayMinutes(n int) int {
	base := b.BaseMinutes
	if base <= 0 {
		base = 5
	}
	cap := b.ExponentCap
	if cap <= 0 {
		cap = 5
	}
	if n > cap {
		n = cap
	}

	d := base << n
	if b.MaxMinutes > 0 && d > b.MaxMinutes {
		d = b.MaxMinutes
	}
	return d
}

package coordinator

import (
	"sync"
	"time"
)

// SourceHealth tracks per-provider reliability state for the process
// lifetime. It is created on first registration and mutated on every
// attempt outcome.
type SourceHealth struct {
	Attempts            int
	Successes           int
	Failures            int
	ConsecutiveFailures int
	LastError           string
	LastLatencyMs        int64
	LastAttempt         time.Time
	LastSuccess         time.Time
	CooldownUntil       time.Time
	CircuitOpen         bool
	SkipCount           int
}

// healthRegistry is the single-writer-locked table of per-provider health,
// keyed by provider name. Values read out are always copies.
type healthRegistry struct {
	mu    sync.Mutex
	table map[string]*SourceHealth
}

func newHealthRegistry() *healthRegistry {
	return &healthRegistry{table: make(map[string]*SourceHealth)}
}

func (r *healthRegistry) get(name string) SourceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.table[name]
	if !ok {
		return SourceHealth{}
	}
	return *h
}

func (r *healthRegistry) all() map[string]SourceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SourceHealth, len(r.table))
	for k, v := range r.table {
		out[k] = *v
	}
	return out
}

func (r *healthRegistry) entry(name string) *SourceHealth {
	h, ok := r.table[name]
	if !ok {
		h = &SourceHealth{}
		r.table[name] = h
	}
	return h
}

// defaultCircuitFailureThreshold and defaultCircuitCooldown are the default
// circuit breaker tunables; Config may override them per instance.
const (
	defaultCircuitFailureThreshold = 5
	defaultCircuitCooldown         = 60 * time.Second
)

// checkCircuit reports whether the provider may be called right now. It
// performs the open -> half-open transition bookkeeping (the half-open probe
// itself is just "let this call through and record its outcome normally").
func (r *healthRegistry) checkCircuit(name string, now time.Time) (allowed bool, cooldownRemaining time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.entry(name)

	if !h.CircuitOpen {
		return true, 0
	}
	if now.Before(h.CooldownUntil) {
		h.SkipCount++
		return false, h.CooldownUntil.Sub(now)
	}
	// Half-open: let the next call through as a probe.
	return true, 0
}

// recordOutcome updates health after a provider call completes, and applies
// circuit-breaker transitions. failureThreshold/cooldown let callers wire
// tunables; zero values use the package defaults.
func (r *healthRegistry) recordOutcome(name string, ok bool, latency time.Duration, lastErr string, failureThreshold int, cooldown time.Duration, now time.Time) {
	if failureThreshold <= 0 {
		failureThreshold = defaultCircuitFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCircuitCooldown
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.entry(name)

	h.Attempts++
	h.LastAttempt = now
	h.LastLatencyMs = latency.Milliseconds()
	h.LastError = lastErr

	if ok {
		h.Successes++
		h.LastSuccess = now
		h.ConsecutiveFailures = 0
		h.CircuitOpen = false
		h.LastError = ""
		return
	}

	h.Failures++
	h.ConsecutiveFailures++
	if h.ConsecutiveFailures >= failureThreshold {
		h.CircuitOpen = true
		h.CooldownUntil = now.Add(cooldown)
	}
}

// routingScore computes the fan-out submission priority: higher is
// scheduled earlier. See spec §4.5.3.
func routingScore(h SourceHealth) float64 {
	if h.Attempts == 0 {
		return 100
	}
	successRate := float64(h.Successes) / float64(h.Attempts)
	score := 40 + successRate*60
	score -= minFloat(float64(h.LastLatencyMs)/150, 25)
	score -= float64(h.ConsecutiveFailures) * 8
	if h.CircuitOpen {
		score -= 40
	}
	return score
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

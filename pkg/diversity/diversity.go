// Package diversity implements the anti-eclipse / diversity engine
// (spec §4.E): ASN/region-capped relay admission, EMA health scoring,
// and periodic rotation of underperforming relays back to candidacy.
package diversity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Region is a coarse geographic bucket for relay placement.
type Region string

const (
	RegionNA     Region = "NA"
	RegionEU     Region = "EU"
	RegionAsia   Region = "ASIA"
	RegionSA     Region = "SA"
	RegionAfrica Region = "AF"
	RegionOC     Region = "OC"
	RegionUnk    Region = "UNK"
)

// ASN describes the autonomous system a relay is reachable through.
type ASN struct {
	Number  uint32
	Name    string
	Country string
}

// Relay is a diversity-tracked peer candidate (spec §3 "DiversityRelay").
type Relay struct {
	ID      string
	Address string
	ASN     ASN
	Region  Region
	Health  float64
	Active  bool
	Priority uint8

	uptimePct           float64
	errorRate           float64
	latencyMs           float64
	consecutiveFailures int
}

// Policy holds the tunables of spec §4.E.
type Policy struct {
	MinASNDiversity     int
	MinRegionDiversity  int
	MaxRelaysPerASN     int
	MaxRelaysPerRegion  int
	HealthThreshold     float64
	RotationInterval    time.Duration
	FailureThreshold    int
}

// Engine tracks candidate and active relay sets under a Policy.
type Engine struct {
	mu         sync.Mutex
	policy     Policy
	candidates map[string]*Relay
	active     map[string]*Relay
	lastRotate time.Time
}

// New creates an Engine with the given policy. Candidates are added via
// AddCandidate before the first Activate call.
func New(policy Policy) *Engine {
	return &Engine{
		policy:     policy,
		candidates: make(map[string]*Relay),
		active:     make(map[string]*Relay),
	}
}

// AddCandidate registers a relay as eligible for activation. It starts
// inactive with a neutral health score until UpdateHealth observes it.
func (e *Engine) AddCandidate(r Relay) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.Active = false
	if r.Health == 0 {
		r.Health = 0.5
	}
	e.candidates[r.ID] = &r
}

// latencyScore and failureScore implement the two derived terms of the
// composite health formula in spec §3.
func latencyScore(latencyMs float64) float64 {
	capped := latencyMs
	if capped > 200 {
		capped = 200
	}
	return (200 - capped) / 200
}

func failureScore(consecutiveFailures int) float64 {
	return 1 / float64(consecutiveFailures+1)
}

// compositeHealth implements spec §3's weighted formula, clamped to [0,1].
func compositeHealth(uptimePct, latencyMs, errorRate float64, consecutiveFailures int) float64 {
	h := 0.3*(uptimePct/100) + 0.3*latencyScore(latencyMs) + 0.2*(1-errorRate) + 0.2*failureScore(consecutiveFailures)
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}

// UpdateHealth implements spec §4.E's update_health: EMA updates to
// uptime/error-rate, composite health recompute, and deactivation when
// health falls below threshold or consecutive failures reach the cap —
// a deactivated relay moves back to candidates, never discarded.
func (e *Engine) UpdateHealth(id string, latencyMs float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.active[id]
	if r == nil {
		r = e.candidates[id]
	}
	if r == nil {
		return
	}

	okVal := 0.0
	if ok {
		okVal = 100
	}
	r.uptimePct = 0.95*r.uptimePct + 0.05*okVal

	errVal := 0.0
	if !ok {
		errVal = 1
	}
	r.errorRate = 0.9*r.errorRate + 0.1*errVal

	r.latencyMs = latencyMs
	if ok {
		r.consecutiveFailures = 0
	} else {
		r.consecutiveFailures++
	}

	r.Health = compositeHealth(r.uptimePct, r.latencyMs, r.errorRate, r.consecutiveFailures)

	if r.Health < e.policy.HealthThreshold || r.consecutiveFailures >= e.policy.FailureThreshold {
		e.deactivateLocked(r)
	}
}

func (e *Engine) deactivateLocked(r *Relay) {
	r.Active = false
	delete(e.active, r.ID)
	e.candidates[r.ID] = r
}

// diversityCounts tallies the active set's per-ASN/per-region occupancy.
func (e *Engine) diversityCounts() (perASN map[uint32]int, perRegion map[Region]int) {
	perASN = make(map[uint32]int)
	perRegion = make(map[Region]int)
	for _, r := range e.active {
		perASN[r.ASN.Number]++
		perRegion[r.Region]++
	}
	return
}

// Activate implements spec §4.E's activate(): candidates are sorted by
// (health desc, priority desc) and greedily admitted while the per-ASN
// and per-region caps hold and health meets the threshold.
func (e *Engine) Activate() []Relay {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]*Relay, 0, len(e.candidates))
	for _, r := range e.candidates {
		candidates = append(candidates, r)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Health != candidates[j].Health {
			return candidates[i].Health > candidates[j].Health
		}
		return candidates[i].Priority > candidates[j].Priority
	})

	perASN, perRegion := e.diversityCounts()

	admitted := make([]Relay, 0, len(candidates))
	for _, r := range candidates {
		if r.Health < e.policy.HealthThreshold {
			continue
		}
		if e.policy.MaxRelaysPerASN > 0 && perASN[r.ASN.Number] >= e.policy.MaxRelaysPerASN {
			continue
		}
		if e.policy.MaxRelaysPerRegion > 0 && perRegion[r.Region] >= e.policy.MaxRelaysPerRegion {
			continue
		}

		r.Active = true
		e.active[r.ID] = r
		delete(e.candidates, r.ID)
		perASN[r.ASN.Number]++
		perRegion[r.Region]++
		admitted = append(admitted, *r)
	}
	return admitted
}

// Rotate implements spec §4.E's rotate(): at most once per
// RotationInterval, deactivates underperformers (health below threshold
// or at the failure cap) then reactivates from the refreshed
// candidate pool.
func (e *Engine) Rotate(now time.Time) []Relay {
	e.mu.Lock()
	if !e.lastRotate.IsZero() && now.Sub(e.lastRotate) < e.policy.RotationInterval {
		e.mu.Unlock()
		return nil
	}
	e.lastRotate = now

	for _, r := range e.active {
		if r.Health < e.policy.HealthThreshold || r.consecutiveFailures >= e.policy.FailureThreshold {
			e.deactivateLocked(r)
		}
	}
	e.mu.Unlock()

	return e.Activate()
}

// RunRotationLoop polls Rotate at pollInterval until ctx is cancelled.
// Rotate itself is throttled by policy.RotationInterval, so pollInterval
// only needs to be shorter than that to stay responsive; it defaults to
// one tenth of it.
func (e *Engine) RunRotationLoop(ctx context.Context, pollInterval time.Duration, logger *slog.Logger) {
	if pollInterval <= 0 {
		pollInterval = e.policy.RotationInterval / 10
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if rotated := e.Rotate(now); len(rotated) > 0 && logger != nil {
				logger.Info("diversity rotation admitted relays", "count", len(rotated))
			}
		}
	}
}

// SelectForRouting implements spec §4.E's select_for_routing(k): up to k
// active relays respecting per-ASN/region caps, health-sorted descending.
func (e *Engine) SelectForRouting(k int) []Relay {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := make([]*Relay, 0, len(e.active))
	for _, r := range e.active {
		active = append(active, r)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Health > active[j].Health })

	perASN := make(map[uint32]int)
	perRegion := make(map[Region]int)
	out := make([]Relay, 0, k)
	for _, r := range active {
		if len(out) >= k {
			break
		}
		if e.policy.MaxRelaysPerASN > 0 && perASN[r.ASN.Number] >= e.policy.MaxRelaysPerASN {
			continue
		}
		if e.policy.MaxRelaysPerRegion > 0 && perRegion[r.Region] >= e.policy.MaxRelaysPerRegion {
			continue
		}
		perASN[r.ASN.Number]++
		perRegion[r.Region]++
		out = append(out, *r)
	}
	return out
}

// ActiveCount and CandidateCount support diversity-invariant assertions
// in tests and status endpoints.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) CandidateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.candidates)
}

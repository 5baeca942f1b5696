package gateway

import "sync"

// routeCounterMap tracks per-route request counts (spec §4.G
// "per-route counters").
type routeCounterMap struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func (m *routeCounterMap) inc(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]uint64)
	}
	m.counts[route]++
}

func (m *routeCounterMap) snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

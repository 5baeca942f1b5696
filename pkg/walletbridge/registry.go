package walletbridge

import "time"

// Entry is one registered (node_id, role) pair, spec §4.H.
type Entry struct {
	NodeID         string
	Role           Role
	Endpoint       string
	Port           int
	Stake          uint64
	AuthorityLevel AuthorityLevel
	Capabilities   []string
	RegisteredAt   time.Time
	LastActivity   time.Time
}

// basePortOffset returns the monotonic port offset for role, applied on
// top of a node's configured base port (spec §4.H: "monotonic port
// offsets from a base").
func basePortOffset(r Role) int {
	for i, candidate := range AllRoles() {
		if candidate == r {
			return i
		}
	}
	return 0
}

package walletbridge

import "time"

// MiningStatus is the closed set of mining session states, spec §4.H.
type MiningStatus int

const (
	MiningStarting MiningStatus = iota
	MiningActive
	MiningPaused
	MiningStopping
	MiningFailed
	MiningDisconnected
)

func (s MiningStatus) String() string {
	switch s {
	case MiningStarting:
		return "Starting"
	case MiningActive:
		return "Active"
	case MiningPaused:
		return "Paused"
	case MiningStopping:
		return "Stopping"
	case MiningFailed:
		return "Failed"
	case MiningDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// MiningSession tracks one active start_mining/stop_mining session.
type MiningSession struct {
	SessionID     string
	WalletID      string
	NodeID        string
	Threads       int
	Status        MiningStatus
	StartedAt     time.Time
	LastHeartbeat time.Time
}

package actionvm

import "time"

// DeploymentStatus is a Deployment's lifecycle state (spec §3, §4.F).
type DeploymentStatus int

const (
	StatusPending DeploymentStatus = iota
	StatusDeploying
	StatusActive
	StatusSuspended
	StatusFailed
	StatusTerminated
)

func (s DeploymentStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusDeploying:
		return "Deploying"
	case StatusActive:
		return "Active"
	case StatusSuspended:
		return "Suspended"
	case StatusFailed:
		return "Failed"
	case StatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal state (spec §4.F: "Failed and
// Terminated are terminal").
func (s DeploymentStatus) Terminal() bool {
	return s == StatusFailed || s == StatusTerminated
}

// validTransitions encodes the Deployment state machine of spec §4.F:
// Pending → Deploying → Active → {Suspended ↔ Active} → {Terminated|Failed}.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:    {StatusDeploying, StatusFailed},
	StatusDeploying:  {StatusActive, StatusFailed},
	StatusActive:     {StatusSuspended, StatusTerminated, StatusFailed},
	StatusSuspended:  {StatusActive, StatusTerminated, StatusFailed},
	StatusFailed:     {},
	StatusTerminated: {},
}

func canTransition(from, to DeploymentStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SecurityProfile describes the compliance posture attached to a
// Deployment at creation (spec §4.F step 4).
type SecurityProfile struct {
	EncryptionLevel  string // default "High"
	AuditLevel       string // default "Comprehensive"
	RetentionDays    int    // default 365
	RealtimeMonitor  bool   // default true
}

// DefaultSecurityProfile is applied unless the deploy config overrides it.
func DefaultSecurityProfile() SecurityProfile {
	return SecurityProfile{
		EncryptionLevel: "High",
		AuditLevel:      "Comprehensive",
		RetentionDays:   365,
		RealtimeMonitor: true,
	}
}

// Deployment is one contract instance managed by exactly one handler for
// its lifetime (spec §3 "Deployment").
type Deployment struct {
	DeploymentID    string
	ContractType    ContractType
	AppID           string
	SecurityProfile SecurityProfile
	DeployTS        time.Time
	Status          DeploymentStatus
}

// transition applies a lifecycle move, rejecting moves the state machine
// does not allow.
func (d *Deployment) transition(to DeploymentStatus) bool {
	if !canTransition(d.Status, to) {
		return false
	}
	d.Status = to
	return true
}

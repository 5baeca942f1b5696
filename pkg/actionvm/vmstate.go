package actionvm

import "time"

// VMStatus is the Action VM's own operating state (spec §3 "VMState").
type VMStatus int

const (
	VMInitializing VMStatus = iota
	VMActive
	VMSecurityAlert
	VMMaintenance
	VMEmergency
)

func (s VMStatus) String() string {
	switch s {
	case VMInitializing:
		return "Initializing"
	case VMActive:
		return "Active"
	case VMSecurityAlert:
		return "SecurityAlert"
	case VMMaintenance:
		return "Maintenance"
	case VMEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}

// VMState is the snapshot returned by vm_status() (spec §3).
type VMState struct {
	VMID            string
	Status          VMStatus
	ActiveContracts int
	SecurityLevel   string
	ThreatLevel     string
	LastScanTS      time.Time
	ComplianceScore float64 // [0,100]
}

// Package actionvm implements the Action VM orchestrator (spec §4.F): a
// contract-type handler registry, the Deployment lifecycle state
// machine, and security-policy enforcement.
package actionvm

// ContractType is the closed set of deployable contract kinds (spec §3).
type ContractType int

const (
	ContractSmartContract ContractType = iota
	ContractCUEYaml
	ContractDockLock
	ContractCUETerraform
	ContractBISO
	ContractTrafficLight
	ContractFirewall
	ContractPipeline
	ContractCUENginx
	ContractCustom
	ContractDatabaseSchema
	ContractApiGateway
	ContractServiceMesh
	ContractMonitoringStack
	ContractBackupRestore
	ContractCompliancePolicy
)

func (c ContractType) String() string {
	switch c {
	case ContractSmartContract:
		return "SmartContract"
	case ContractCUEYaml:
		return "CUEYaml"
	case ContractDockLock:
		return "DockLock"
	case ContractCUETerraform:
		return "CUETerraform"
	case ContractBISO:
		return "BISO"
	case ContractTrafficLight:
		return "TrafficLight"
	case ContractFirewall:
		return "Firewall"
	case ContractPipeline:
		return "Pipeline"
	case ContractCUENginx:
		return "CUENginx"
	case ContractCustom:
		return "Custom"
	case ContractDatabaseSchema:
		return "DatabaseSchema"
	case ContractApiGateway:
		return "ApiGateway"
	case ContractServiceMesh:
		return "ServiceMesh"
	case ContractMonitoringStack:
		return "MonitoringStack"
	case ContractBackupRestore:
		return "BackupRestore"
	case ContractCompliancePolicy:
		return "CompliancePolicy"
	default:
		return "Unknown"
	}
}

// AllContractTypes lists every registrable type, used to pre-populate a
// registry with the generic declarative handler for types that don't
// need a bespoke one.
func AllContractTypes() []ContractType {
	return []ContractType{
		ContractSmartContract, ContractCUEYaml, ContractDockLock, ContractCUETerraform,
		ContractBISO, ContractTrafficLight, ContractFirewall, ContractPipeline,
		ContractCUENginx, ContractCustom, ContractDatabaseSchema, ContractApiGateway,
		ContractServiceMesh, ContractMonitoringStack, ContractBackupRestore, ContractCompliancePolicy,
	}
}

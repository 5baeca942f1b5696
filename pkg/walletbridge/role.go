// Package walletbridge implements the Wallet-Registry Bridge (spec
// §4.H): it binds one physical node to a fixed set of typed logical
// roles, each independently addressable and independently stake-weighted.
package walletbridge

// Role is the closed set of typed roles a physical node multiplexes
// into, per spec §4.H.
type Role int

const (
	RoleMining Role = iota
	RoleBPCIServer1
	RoleBPCIServer2
	RoleValidator
	RoleNotary
	RoleLogbook
	RoleRoundtable
	RoleBoxBlock
	RoleRoundtableAPI
	RoleBankAPI
	RoleGovernmentAPI
)

// AllRoles returns the complete, ordered role set registered by
// Initialize.
func AllRoles() []Role {
	return []Role{
		RoleMining,
		RoleBPCIServer1,
		RoleBPCIServer2,
		RoleValidator,
		RoleNotary,
		RoleLogbook,
		RoleRoundtable,
		RoleBoxBlock,
		RoleRoundtableAPI,
		RoleBankAPI,
		RoleGovernmentAPI,
	}
}

func (r Role) String() string {
	switch r {
	case RoleMining:
		return "Mining"
	case RoleBPCIServer1:
		return "BPCI-Server-1"
	case RoleBPCIServer2:
		return "BPCI-Server-2"
	case RoleValidator:
		return "Validator"
	case RoleNotary:
		return "Notary"
	case RoleLogbook:
		return "Logbook"
	case RoleRoundtable:
		return "Roundtable"
	case RoleBoxBlock:
		return "BoxBlock"
	case RoleRoundtableAPI:
		return "Roundtable-API"
	case RoleBankAPI:
		return "Bank-API"
	case RoleGovernmentAPI:
		return "Government-API"
	default:
		return "Unknown"
	}
}

// AuthorityLevel classifies a role's governance weight, a supplemented
// feature carried over from the original source's per-role authority
// classification (`AuthorityLevel::Community`/`Bank`/...).
type AuthorityLevel int

const (
	AuthorityCommunity AuthorityLevel = iota
	AuthorityValidatorTier
	AuthorityBank
	AuthorityGovernment
)

func (a AuthorityLevel) String() string {
	switch a {
	case AuthorityCommunity:
		return "Community"
	case AuthorityValidatorTier:
		return "ValidatorTier"
	case AuthorityBank:
		return "Bank"
	case AuthorityGovernment:
		return "Government"
	default:
		return "Unknown"
	}
}

// defaultAuthority maps a role to its default authority level and base
// stake weight. Stake weight feeds AuthorityLevel classification for
// display/ranking purposes; it does not itself grant authority.
func defaultAuthority(r Role) (AuthorityLevel, uint64) {
	switch r {
	case RoleBankAPI:
		return AuthorityBank, 5000
	case RoleGovernmentAPI:
		return AuthorityGovernment, 8000
	case RoleValidator, RoleNotary, RoleRoundtable, RoleRoundtableAPI:
		return AuthorityValidatorTier, 2000
	default:
		return AuthorityCommunity, 500
	}
}

// defaultCapabilities returns the capability set advertised by a role,
// mirroring the original source's per-node-type capability vectors.
func defaultCapabilities(r Role) []string {
	switch r {
	case RoleMining:
		return []string{"mining.execute", "mining.pool"}
	case RoleBPCIServer1, RoleBPCIServer2:
		return []string{"mesh.relay", "mesh.gateway"}
	case RoleValidator:
		return []string{"consensus.validate", "consensus.vote"}
	case RoleNotary:
		return []string{"audit.notarize"}
	case RoleLogbook:
		return []string{"audit.append", "audit.query"}
	case RoleRoundtable, RoleRoundtableAPI:
		return []string{"governance.propose", "governance.vote"}
	case RoleBoxBlock:
		return []string{"storage.commit"}
	case RoleBankAPI:
		return []string{"settlement.execute"}
	case RoleGovernmentAPI:
		return []string{"compliance.report"}
	default:
		return nil
	}
}

// Package audit implements the node's append-only, hash-chained event
// record (spec §4.A): every state-changing action across the node is
// recorded here, signed, and linked to the previous event's hash. Events
// are never mutated or deleted.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the audit event kinds emitted across the node. The wire
// encoding is a u16 (spec §6); values are stable once assigned.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindContractDeployBegin
	KindContractDeployOk
	KindContractError
	KindSystemMetrics
	KindAnomalousAdmission
	KindAuditFatal
	KindGatewayRequest
	KindQLockSync1
	KindQLockSync0
	KindRelayPartitionDetected
	KindRelayPartitionRecovered
	KindWalletRegistryBind
	KindOracleSyncComplete
	KindOracleSyncFailed
	KindDeploymentStatusChange
	KindRelayRouted
)

func (k Kind) String() string {
	switch k {
	case KindContractDeployBegin:
		return "ContractDeployBegin"
	case KindContractDeployOk:
		return "ContractDeployOk"
	case KindContractError:
		return "ContractError"
	case KindSystemMetrics:
		return "SystemMetrics"
	case KindAnomalousAdmission:
		return "AnomalousAdmission"
	case KindAuditFatal:
		return "AuditFatal"
	case KindGatewayRequest:
		return "GatewayRequest"
	case KindQLockSync1:
		return "QLockSync1"
	case KindQLockSync0:
		return "QLockSync0"
	case KindRelayPartitionDetected:
		return "RelayPartitionDetected"
	case KindRelayPartitionRecovered:
		return "RelayPartitionRecovered"
	case KindWalletRegistryBind:
		return "WalletRegistryBind"
	case KindOracleSyncComplete:
		return "OracleSyncComplete"
	case KindOracleSyncFailed:
		return "OracleSyncFailed"
	case KindDeploymentStatusChange:
		return "DeploymentStatusChange"
	case KindRelayRouted:
		return "RelayRouted"
	default:
		return "Unknown"
	}
}

// Component enumerates the subsystem that emitted an event. Wire encoding
// is a u16 (spec §6).
type Component uint16

const (
	ComponentUnknown Component = iota
	ComponentAudit
	ComponentCrypto
	ComponentGate
	ComponentRelay
	ComponentDiversity
	ComponentActionVM
	ComponentGateway
	ComponentWalletBridge
	ComponentOracle
)

// Event is one entry in the audit chain (spec §3 "Event (audit)").
type Event struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	Component   Component `json:"component"`
	TSNanos     int64     `json:"ts_ns"`
	Actor       []byte    `json:"actor"`
	PayloadHash [32]byte  `json:"payload_hash"`
	PrevHash    [32]byte  `json:"prev_hash"`
	Signature   []byte    `json:"signature,omitempty"`
}

// canonicalEncoding returns the deterministic byte encoding of an Event
// used both for hashing (tail-hash chaining) and signing, over the
// signature-less form (the signature covers everything except itself).
// Go's encoding/json marshals struct fields in declaration order, which
// is sufficient for deterministic hashing here since the struct shape
// never varies across events of the same version — unlike map-keyed
// encodings there is no ordering ambiguity to guard against.
func (e Event) canonicalEncoding() []byte {
	unsigned := e
	unsigned.Signature = nil
	b, _ := json.Marshal(unsigned)
	return b
}

// newEventID/newTimestamp are separated out only so tests can observe the
// shape; Writer.Append is the sole production constructor of a fully
// populated Event.
func newEventID() uuid.UUID { return uuid.New() }
func newTimestamp() int64   { return time.Now().UnixNano() }

package walletbridge

import (
	"encoding/json"
	"fmt"

	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

// MessageType is the closed set of typed registry messages the bridge
// exchanges with remote peers, per spec §4.H ("start_mining, stop_mining,
// get_mining_status ... manifest as typed registry messages").
type MessageType int

const (
	MessageStartMining MessageType = iota
	MessageStopMining
	MessageMiningStatus
	MessageHeartbeat
)

func (t MessageType) String() string {
	switch t {
	case MessageStartMining:
		return "StartMining"
	case MessageStopMining:
		return "StopMining"
	case MessageMiningStatus:
		return "MiningStatus"
	case MessageHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// SignedMessage is a typed registry message signed with the node's
// Ed25519 key, as spec §4.H requires for all remote-peer messaging.
type SignedMessage struct {
	Type      MessageType `json:"type"`
	NodeID    string      `json:"node_id"`
	Payload   []byte      `json:"payload"`
	Signature []byte      `json:"signature"`
}

// SignMessage builds and signs a typed registry message.
func SignMessage(key *pqcrypto.KeyPair, nodeID string, msgType MessageType, payload any) (SignedMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SignedMessage{}, fmt.Errorf("marshaling message payload: %w", err)
	}
	sig, err := pqcrypto.Sign(key, body)
	if err != nil {
		return SignedMessage{}, fmt.Errorf("signing registry message: %w", err)
	}
	return SignedMessage{Type: msgType, NodeID: nodeID, Payload: body, Signature: sig}, nil
}

// VerifyMessage checks a SignedMessage's signature against pk.
func VerifyMessage(pk pqcrypto.PublicKey, msg SignedMessage) (bool, error) {
	return pqcrypto.Verify(pk, msg.Payload, msg.Signature)
}

// Package relay implements the node's deterministic P2P fan-out relay
// (spec §4.D): peer management, dedup, token-bucket rate limiting, loss
// simulation, and anti-eclipse/partition detection.
package relay

import (
	"encoding/binary"
	"fmt"
)

// Message is the relay's wire unit (spec §3 "Message (relay)" / §6 "Wire
// — Relay message"). Dedup is keyed solely on ID; ordering across peers
// is not preserved.
type Message struct {
	ID      uint64
	Payload []byte
}

// Encode serializes a Message to its canonical binary wire form:
// id (u64 big-endian) followed by a 4-byte length-prefixed payload.
func (m Message) Encode() []byte {
	buf := make([]byte, 8+4+len(m.Payload))
	binary.BigEndian.PutUint64(buf[0:8], m.ID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(m.Payload)))
	copy(buf[12:], m.Payload)
	return buf
}

// Decode parses the canonical binary wire form produced by Encode.
func Decode(b []byte) (Message, error) {
	if len(b) < 12 {
		return Message{}, fmt.Errorf("relay message too short: %d bytes", len(b))
	}
	id := binary.BigEndian.Uint64(b[0:8])
	n := binary.BigEndian.Uint32(b[8:12])
	if len(b) < 12+int(n) {
		return Message{}, fmt.Errorf("relay message payload truncated: want %d have %d", n, len(b)-12)
	}
	payload := make([]byte, n)
	copy(payload, b[12:12+int(n)])
	return Message{ID: id, Payload: payload}, nil
}

// Clone returns a deep copy of m, used when enqueueing the same logical
// message to multiple peer endpoints so no receiver can mutate another's copy.
func (m Message) Clone() Message {
	p := make([]byte, len(m.Payload))
	copy(p, m.Payload)
	return Message{ID: m.ID, Payload: p}
}

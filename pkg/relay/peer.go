package relay

import (
	"time"

	"go.uber.org/atomic"
)

// PeerInfo carries the descriptive metadata about a peer (spec §3 "Peer").
type PeerInfo struct {
	ID       string
	Address  string
	LastSeen time.Time
	MsgCount uint64
	IsRelay  bool
	Quality  float64 // [0,1]
}

// peerSlot is one entry in the Relay's peer table. A slot whose channel is
// nil is tombstoned; its index is never reused (spec §3 "Peer").
type peerSlot struct {
	index    uint32
	endpoint chan Message // nil once tombstoned
	paused   atomic.Bool
	bucket   *tokenBucket
	info     *PeerInfo

	enqueued atomic.Uint64
	overflow atomic.Uint64
}

func (p *peerSlot) tombstoned() bool {
	return p.endpoint == nil
}

// trySend delivers msg to the peer's bounded endpoint without blocking.
// A full queue is a silent QueueOverflow drop (spec §5 "Backpressure").
// If the receiver has closed its end of the channel, sending would panic;
// per spec "a closed endpoint is not re-retried" this is caught and
// treated as a failed, non-retried delivery rather than propagated.
func (p *peerSlot) trySend(msg Message) (sent bool) {
	if p.tombstoned() {
		return false
	}
	defer func() {
		if recover() != nil {
			p.overflow.Add(1)
			sent = false
		}
	}()
	select {
	case p.endpoint <- msg:
		p.enqueued.Add(1)
		return true
	default:
		p.overflow.Add(1)
		return false
	}
}

package relay

import (
	"context"
	"testing"
	"time"
)

func drain(t *testing.T, ch <-chan Message, want int, timeout time.Duration) int {
	t.Helper()
	got := 0
	deadline := time.After(timeout)
	for got < want {
		select {
		case <-ch:
			got++
		case <-deadline:
			return got
		}
	}
	return got
}

func newTestRelay() *Relay {
	return New(Config{
		DedupCacheSize:           64,
		RatePerSec:               1000,
		RateBurst:                1000,
		LossProbability:          0,
		AntiEclipseMinRelays:     3,
		PartitionRecoveryTimeout: 50 * time.Millisecond,
		PeerQueueCapacity:        16,
	})
}

func TestDedupDeliversExactlyOnce(t *testing.T) {
	r := newTestRelay()
	srcIdx, _ := r.AddPeer(&PeerInfo{ID: "src"})
	dstIdx, dstCh := r.AddPeer(&PeerInfo{ID: "dst"})
	_ = dstIdx

	msg := Message{ID: 42, Payload: []byte("hello")}

	delivered, reason := r.BroadcastFrom(srcIdx, msg)
	if delivered != 1 || reason != DropNone {
		t.Fatalf("first broadcast: delivered=%d reason=%v", delivered, reason)
	}

	delivered, reason = r.BroadcastFrom(srcIdx, msg)
	if delivered != 0 || reason != DropDedupDuplicate {
		t.Fatalf("duplicate broadcast: delivered=%d reason=%v, want 0/DropDedupDuplicate", delivered, reason)
	}

	got := drain(t, dstCh, 1, 100*time.Millisecond)
	if got != 1 {
		t.Fatalf("peer received %d messages, want exactly 1", got)
	}
}

func TestRateLimitBoundsDeliveredMessages(t *testing.T) {
	r := New(Config{
		DedupCacheSize:           4096,
		RatePerSec:               10,
		RateBurst:                5,
		PeerQueueCapacity:        4096,
		PartitionRecoveryTimeout: time.Second,
	})
	srcIdx, _ := r.AddPeer(&PeerInfo{ID: "src"})
	r.AddPeer(&PeerInfo{ID: "dst"})

	accepted := 0
	for i := 0; i < 100; i++ {
		_, reason := r.BroadcastFrom(srcIdx, Message{ID: uint64(i + 1), Payload: []byte("x")})
		if reason == DropNone {
			accepted++
		}
	}

	// Burst of 5 should cap near-instant acceptance tightly; allow slack
	// for the elapsed-time refill between calls.
	if accepted > 10 {
		t.Fatalf("accepted %d broadcasts immediately, want <= burst+slack (10)", accepted)
	}
	if accepted < 1 {
		t.Fatalf("accepted 0 broadcasts, want at least the initial burst allowance")
	}
}

func TestAntiEclipsePanicModeDeliversToAllBelowThreshold(t *testing.T) {
	r := newTestRelay() // AntiEclipseMinRelays: 3
	_, ch1 := r.AddPeer(&PeerInfo{ID: "p1", IsRelay: false})
	_, ch2 := r.AddPeer(&PeerInfo{ID: "p2", IsRelay: false})

	delivered := r.AntiEclipseBroadcast(Message{ID: 1, Payload: []byte("panic")})
	if delivered != 2 {
		t.Fatalf("panic-mode anti-eclipse delivered=%d, want 2 (all peers, below min-relays threshold)", delivered)
	}
	if drain(t, ch1, 1, 100*time.Millisecond) != 1 {
		t.Fatal("p1 did not receive panic-mode broadcast")
	}
	if drain(t, ch2, 1, 100*time.Millisecond) != 1 {
		t.Fatal("p2 did not receive panic-mode broadcast")
	}
}

func TestAntiEclipseRelayOnlyModeAboveThreshold(t *testing.T) {
	r := newTestRelay() // AntiEclipseMinRelays: 3
	idx1, ch1 := r.AddPeer(&PeerInfo{ID: "p1"})
	_, ch2 := r.AddPeer(&PeerInfo{ID: "p2"})
	_, ch3 := r.AddPeer(&PeerInfo{ID: "p3"})

	if err := r.SetRelay(idx1, true); err != nil {
		t.Fatalf("SetRelay: %v", err)
	}

	delivered := r.AntiEclipseBroadcast(Message{ID: 1, Payload: []byte("normal")})
	if delivered != 1 {
		t.Fatalf("relay-only anti-eclipse delivered=%d, want 1 (only the relay-class peer)", delivered)
	}
	if drain(t, ch1, 1, 50*time.Millisecond) != 1 {
		t.Fatal("relay-class peer p1 did not receive broadcast")
	}
	if drain(t, ch2, 1, 50*time.Millisecond) != 0 {
		t.Fatal("non-relay peer p2 unexpectedly received broadcast")
	}
	if drain(t, ch3, 1, 50*time.Millisecond) != 0 {
		t.Fatal("non-relay peer p3 unexpectedly received broadcast")
	}
}

func TestPartitionDetectedAfterSilenceAndRecovers(t *testing.T) {
	r := newTestRelay()
	r.AddPeer(&PeerInfo{ID: "p1"})

	r.AntiEclipseBroadcast(Message{ID: 1, Payload: []byte("x")})

	detected, _ := r.CheckPartition(time.Now().Add(100 * time.Millisecond))
	if !detected {
		t.Fatal("expected partition to be detected after exceeding PartitionRecoveryTimeout of silence")
	}
	if !r.PartitionDetected() {
		t.Fatal("PartitionDetected() should reflect the detected state")
	}

	r.AntiEclipseBroadcast(Message{ID: 2, Payload: []byte("y")})
	_, recovered := r.CheckPartition(time.Now())
	if !recovered {
		t.Fatal("expected partition to clear on the next broadcast cycle")
	}
	if r.PartitionDetected() {
		t.Fatal("PartitionDetected() should be false after recovery")
	}
}

func TestWithDistributedBackingNilClientDoesNotPanic(t *testing.T) {
	r := newTestRelay()
	r.WithDistributedBacking(nil)
	r.exportDedupOverflow(nil)
}

func TestRunPartitionMonitorLoopDetectsWithoutWriterOrLogger(t *testing.T) {
	r := newTestRelay()
	r.AddPeer(&PeerInfo{ID: "p1"})
	r.AntiEclipseBroadcast(Message{ID: 1, Payload: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunPartitionMonitorLoop(ctx, 5*time.Millisecond, nil, nil)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !r.PartitionDetected() {
		if time.Now().After(deadline) {
			t.Fatal("expected RunPartitionMonitorLoop to detect the partition before the deadline")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RunPartitionMonitorLoop to return after ctx cancellation")
	}
}

func TestRemovedPeerIsTombstonedAndSkipped(t *testing.T) {
	r := newTestRelay()
	srcIdx, _ := r.AddPeer(&PeerInfo{ID: "src"})
	dstIdx, dstCh := r.AddPeer(&PeerInfo{ID: "dst"})

	if err := r.RemovePeer(dstIdx); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}

	delivered, _ := r.BroadcastFrom(srcIdx, Message{ID: 7, Payload: []byte("x")})
	if delivered != 0 {
		t.Fatalf("delivered=%d, want 0 (only peer besides source was tombstoned)", delivered)
	}
	if drain(t, dstCh, 1, 50*time.Millisecond) != 0 {
		t.Fatal("tombstoned peer's channel should never receive further messages")
	}
}

func TestPausedPeerDoesNotReceive(t *testing.T) {
	r := newTestRelay()
	srcIdx, _ := r.AddPeer(&PeerInfo{ID: "src"})
	dstIdx, dstCh := r.AddPeer(&PeerInfo{ID: "dst"})

	if err := r.PausePeer(dstIdx); err != nil {
		t.Fatalf("PausePeer: %v", err)
	}

	r.BroadcastFrom(srcIdx, Message{ID: 1, Payload: []byte("x")})
	if drain(t, dstCh, 1, 50*time.Millisecond) != 0 {
		t.Fatal("paused peer received a broadcast")
	}

	if err := r.ResumePeer(dstIdx); err != nil {
		t.Fatalf("ResumePeer: %v", err)
	}
	r.BroadcastFrom(srcIdx, Message{ID: 2, Payload: []byte("y")})
	if drain(t, dstCh, 1, 50*time.Millisecond) != 1 {
		t.Fatal("resumed peer did not receive a broadcast")
	}
}

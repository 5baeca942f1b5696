package diversity

import (
	"context"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		MinASNDiversity:    2,
		MinRegionDiversity: 2,
		MaxRelaysPerASN:    2,
		MaxRelaysPerRegion: 2,
		HealthThreshold:    0.5,
		FailureThreshold:   3,
	}
}

func TestActivateRespectsASNAndRegionCaps(t *testing.T) {
	e := New(testPolicy())
	for i := 0; i < 5; i++ {
		e.AddCandidate(Relay{
			ID:       string(rune('a' + i)),
			ASN:      ASN{Number: 100},
			Region:   RegionNA,
			Health:   0.9,
			Priority: uint8(i),
		})
	}

	admitted := e.Activate()
	if len(admitted) != 2 {
		t.Fatalf("admitted %d relays, want 2 (capped by MaxRelaysPerASN=2)", len(admitted))
	}
	if e.CandidateCount() != 3 {
		t.Fatalf("candidate pool has %d left, want 3 remaining unadmitted", e.CandidateCount())
	}
}

func TestActivateSkipsBelowHealthThreshold(t *testing.T) {
	e := New(testPolicy())
	e.AddCandidate(Relay{ID: "low", ASN: ASN{Number: 1}, Region: RegionEU, Health: 0.1})
	e.AddCandidate(Relay{ID: "high", ASN: ASN{Number: 2}, Region: RegionAsia, Health: 0.9})

	admitted := e.Activate()
	if len(admitted) != 1 || admitted[0].ID != "high" {
		t.Fatalf("admitted=%v, want only the high-health relay", admitted)
	}
}

func TestUpdateHealthDeactivatesOnFailureThreshold(t *testing.T) {
	e := New(testPolicy())
	e.AddCandidate(Relay{ID: "r1", ASN: ASN{Number: 1}, Region: RegionNA, Health: 0.9, Priority: 10})
	e.Activate()
	if e.ActiveCount() != 1 {
		t.Fatalf("expected r1 active after Activate, got %d active", e.ActiveCount())
	}

	for i := 0; i < 3; i++ {
		e.UpdateHealth("r1", 500, false)
	}

	if e.ActiveCount() != 0 {
		t.Fatalf("expected r1 deactivated after hitting FailureThreshold, still %d active", e.ActiveCount())
	}
	if e.CandidateCount() != 1 {
		t.Fatal("deactivated relay should return to the candidate pool, not be discarded")
	}
}

func TestUpdateHealthRecoversWithSuccesses(t *testing.T) {
	e := New(testPolicy())
	e.AddCandidate(Relay{ID: "r1", ASN: ASN{Number: 1}, Region: RegionNA, Health: 0.9})
	e.Activate()

	for i := 0; i < 20; i++ {
		e.UpdateHealth("r1", 10, true)
	}

	if e.ActiveCount() != 1 {
		t.Fatal("relay with sustained successful updates should remain active")
	}
}

func TestCompositeHealthClampedToUnitInterval(t *testing.T) {
	h := compositeHealth(100, 0, 0, 0)
	if h < 0 || h > 1 {
		t.Fatalf("composite health %f out of [0,1]", h)
	}
	if h < 0.99 {
		t.Fatalf("perfect inputs should score close to 1.0, got %f", h)
	}

	h = compositeHealth(0, 1000, 1, 999)
	if h < 0 {
		t.Fatalf("composite health should clamp at 0, got %f", h)
	}
}

func TestSelectForRoutingRespectsCapsAndOrdering(t *testing.T) {
	e := New(testPolicy())
	e.AddCandidate(Relay{ID: "a", ASN: ASN{Number: 1}, Region: RegionNA, Health: 0.95})
	e.AddCandidate(Relay{ID: "b", ASN: ASN{Number: 1}, Region: RegionNA, Health: 0.9})
	e.AddCandidate(Relay{ID: "c", ASN: ASN{Number: 2}, Region: RegionEU, Health: 0.99})
	e.Activate()

	selected := e.SelectForRouting(2)
	if len(selected) != 2 {
		t.Fatalf("selected %d, want 2", len(selected))
	}
	if selected[0].ID != "c" {
		t.Fatalf("highest-health relay should be first, got %s", selected[0].ID)
	}
}

func TestRunRotationLoopAdmitsCandidatesOverTime(t *testing.T) {
	p := testPolicy()
	p.RotationInterval = 5 * time.Millisecond
	e := New(p)
	e.AddCandidate(Relay{ID: "r1", ASN: ASN{Number: 1}, Region: RegionNA, Health: 0.9})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.RunRotationLoop(ctx, time.Millisecond, nil)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for e.ActiveCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected RunRotationLoop to admit the candidate before the deadline")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RunRotationLoop to return after ctx cancellation")
	}
}

func TestRotateRespectsMinimumInterval(t *testing.T) {
	p := testPolicy()
	p.RotationInterval = time.Second
	e := New(p)
	e.AddCandidate(Relay{ID: "r1", ASN: ASN{Number: 1}, Region: RegionNA, Health: 0.9})
	e.Activate()

	now := time.Now()
	first := e.Rotate(now)
	if first == nil {
		t.Fatal("first Rotate call should run immediately (lastRotate is zero)")
	}
	second := e.Rotate(now)
	if second != nil {
		t.Fatal("second Rotate call within the interval should be a no-op")
	}
}

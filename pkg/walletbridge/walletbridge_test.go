package walletbridge

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllRolesHasElevenDistinctRoles(t *testing.T) {
	roles := AllRoles()
	if len(roles) != 11 {
		// Mining, BPCI-Server x2, Validator, Notary, Logbook, Roundtable,
		// BoxBlock, Roundtable-API, Bank-API, Government-API = 11 entries
		// binding one "BPCI-Server" role counted twice in the spec's prose.
		t.Fatalf("AllRoles() = %d roles, want 11", len(roles))
	}
	seen := make(map[Role]bool)
	for _, r := range roles {
		if seen[r] {
			t.Fatalf("duplicate role %s in AllRoles()", r)
		}
		seen[r] = true
	}
}

func TestBasePortOffsetsAreMonotonicAndUnique(t *testing.T) {
	seen := make(map[int]bool)
	last := -1
	for _, r := range AllRoles() {
		off := basePortOffset(r)
		if off <= last {
			t.Fatalf("port offset for %s = %d, want > %d (monotonic)", r, off, last)
		}
		if seen[off] {
			t.Fatalf("duplicate port offset %d", off)
		}
		seen[off] = true
		last = off
	}
}

func TestDefaultAuthorityClassification(t *testing.T) {
	cases := []struct {
		role Role
		want AuthorityLevel
	}{
		{RoleBankAPI, AuthorityBank},
		{RoleGovernmentAPI, AuthorityGovernment},
		{RoleValidator, AuthorityValidatorTier},
		{RoleMining, AuthorityCommunity},
	}
	for _, c := range cases {
		got, stake := defaultAuthority(c.role)
		if got != c.want {
			t.Errorf("defaultAuthority(%s) = %s, want %s", c.role, got, c.want)
		}
		if stake == 0 {
			t.Errorf("defaultAuthority(%s) stake = 0, want > 0", c.role)
		}
	}
}

func TestMiningStatusString(t *testing.T) {
	if MiningActive.String() != "Active" {
		t.Fatalf("MiningActive.String() = %q, want Active", MiningActive.String())
	}
	if MiningDisconnected.String() != "Disconnected" {
		t.Fatalf("MiningDisconnected.String() = %q, want Disconnected", MiningDisconnected.String())
	}
}

func TestSignAndVerifyMessageRoundTrip(t *testing.T) {
	key, err := pqcrypto.GenerateKeypair(pqcrypto.SchemeEd25519, pqcrypto.ScopeSigning, time.Hour, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	msg, err := SignMessage(key, "node-1", MessageStartMining, map[string]any{"wallet_id": "w-1", "threads": 4})
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if msg.Type != MessageStartMining {
		t.Fatalf("msg.Type = %v, want MessageStartMining", msg.Type)
	}

	ok, err := VerifyMessage(key.PublicKey, msg)
	if err != nil {
		t.Fatalf("VerifyMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	key, err := pqcrypto.GenerateKeypair(pqcrypto.SchemeEd25519, pqcrypto.ScopeSigning, time.Hour, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return New(Config{NodeID: "node-1", BaseEndpoint: "127.0.0.1", BasePort: 9000}, nil, key, nil, discardLogger())
}

func TestStartMiningTransitionsToActive(t *testing.T) {
	b := newTestBridge(t)
	sessionID, err := b.StartMining(context.Background(), "wallet-1", 4)
	if err != nil {
		t.Fatalf("StartMining: %v", err)
	}

	session, err := b.GetMiningStatus(sessionID)
	if err != nil {
		t.Fatalf("GetMiningStatus: %v", err)
	}
	if session.Status != MiningActive {
		t.Fatalf("session.Status = %s, want Active", session.Status)
	}
	if session.WalletID != "wallet-1" || session.Threads != 4 {
		t.Fatalf("unexpected session fields: %+v", session)
	}
}

func TestStopMiningTransitionsToDisconnected(t *testing.T) {
	b := newTestBridge(t)
	sessionID, err := b.StartMining(context.Background(), "wallet-2", 2)
	if err != nil {
		t.Fatalf("StartMining: %v", err)
	}
	if err := b.StopMining(context.Background(), sessionID); err != nil {
		t.Fatalf("StopMining: %v", err)
	}

	session, err := b.GetMiningStatus(sessionID)
	if err != nil {
		t.Fatalf("GetMiningStatus: %v", err)
	}
	if session.Status != MiningDisconnected {
		t.Fatalf("session.Status = %s, want Disconnected", session.Status)
	}
}

func TestStopMiningUnknownSessionFails(t *testing.T) {
	b := newTestBridge(t)
	if err := b.StopMining(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestGetMiningStatusUnknownSessionFails(t *testing.T) {
	b := newTestBridge(t)
	if _, err := b.GetMiningStatus("nonexistent"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestVerifyMessageFailsOnTamperedPayload(t *testing.T) {
	key, err := pqcrypto.GenerateKeypair(pqcrypto.SchemeEd25519, pqcrypto.ScopeSigning, time.Hour, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	msg, err := SignMessage(key, "node-1", MessageStopMining, map[string]any{"session_id": "s-1"})
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	msg.Payload = []byte(`{"session_id":"tampered"}`)

	ok, _ := VerifyMessage(key.PublicKey, msg)
	if ok {
		t.Fatal("expected tampered payload to fail verification")
	}
}

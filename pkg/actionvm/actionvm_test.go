package actionvm

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bpi-sushrut/bpinode/internal/persist"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, policy Policy) (*Orchestrator, func()) {
	t.Helper()
	dir := t.TempDir()
	log, err := persist.Open(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("persist.Open: %v", err)
	}
	key, err := pqcrypto.GenerateKeypair(pqcrypto.SchemeEd25519, pqcrypto.ScopeSigning, time.Hour, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	logger := discardLogger()
	w, err := audit.NewWriter(log, key, logger)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	registry := NewDefaultRegistry(logger)
	alerts := NewAlertSink("", "", logger)
	orch := New("vm-1", registry, w, alerts, policy, logger)
	orch.Activate()

	cleanup := func() {
		cancel()
		_ = w.Close()
		_ = os.RemoveAll(dir)
	}
	return orch, cleanup
}

func TestDeployUnknownContractType(t *testing.T) {
	orch, cleanup := newTestOrchestrator(t, Policy{})
	defer cleanup()

	// Unregister nothing — instead use an out-of-range type value to
	// simulate an unregistered contract type.
	_, err := orch.Deploy(context.Background(), ContractType(999), map[string]any{"name": "x"}, "app1")
	if err == nil {
		t.Fatal("expected UnknownContract error")
	}
}

func TestDeploySucceedsAndIncrementsActiveContracts(t *testing.T) {
	orch, cleanup := newTestOrchestrator(t, Policy{})
	defer cleanup()

	id, err := orch.Deploy(context.Background(), ContractSmartContract, map[string]any{"name": "contract1"}, "app1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty deployment id")
	}

	dep, err := orch.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if dep.Status != StatusActive {
		t.Fatalf("deployment status = %s, want Active", dep.Status)
	}

	vm := orch.VMStatus()
	if vm.ActiveContracts != 1 {
		t.Fatalf("active contracts = %d, want 1", vm.ActiveContracts)
	}
}

func TestDeployFailsValidation(t *testing.T) {
	orch, cleanup := newTestOrchestrator(t, Policy{})
	defer cleanup()

	_, err := orch.Deploy(context.Background(), ContractSmartContract, map[string]any{}, "app1")
	if err == nil {
		t.Fatal("expected validation failure for missing \"name\" field")
	}
}

func TestPolicyBlockingRefusesDeploy(t *testing.T) {
	policy := Policy{
		Enforcement: EnforcementBlocking,
		Rules: []SecurityRule{
			{
				Name:      "deny-all-custom",
				Condition: func(ctx DeployContext) bool { return ctx.ContractType == ContractCustom },
				Action:    ActionDeny,
				Severity:  "high",
			},
		},
	}
	orch, cleanup := newTestOrchestrator(t, policy)
	defer cleanup()

	_, err := orch.Deploy(context.Background(), ContractCustom, map[string]any{"name": "x"}, "app1")
	if err == nil {
		t.Fatal("expected deploy to be refused by blocking policy")
	}
}

func TestPolicyAdvisoryDoesNotBlockDeploy(t *testing.T) {
	policy := Policy{
		Enforcement: EnforcementAdvisory,
		Rules: []SecurityRule{
			{
				Name:      "flag-custom",
				Condition: func(ctx DeployContext) bool { return ctx.ContractType == ContractCustom },
				Action:    ActionDeny,
				Severity:  "low",
			},
		},
	}
	orch, cleanup := newTestOrchestrator(t, policy)
	defer cleanup()

	_, err := orch.Deploy(context.Background(), ContractCustom, map[string]any{"name": "x"}, "app1")
	if err != nil {
		t.Fatalf("Advisory enforcement should not block: %v", err)
	}
}

func TestTerminateIsTerminal(t *testing.T) {
	orch, cleanup := newTestOrchestrator(t, Policy{})
	defer cleanup()

	id, err := orch.Deploy(context.Background(), ContractSmartContract, map[string]any{"name": "c1"}, "app1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if err := orch.Terminate(context.Background(), id); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	dep, err := orch.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !dep.Status.Terminal() {
		t.Fatalf("status = %s, want a terminal status", dep.Status)
	}

	// Terminating again is not meant to panic; handler.Terminate is
	// idempotent even though the state-machine move itself will fail.
	if err := orch.Terminate(context.Background(), id); err == nil {
		t.Fatal("expected a second Terminate to fail the state-machine transition check")
	}
}

func TestTerraformHandlerValidateFailsFastOnMissingBinary(t *testing.T) {
	orch, cleanup := newTestOrchestrator(t, Policy{})
	defer cleanup()

	// In this sandboxed test environment terraform is not installed, so
	// validation must fail with a DeployFailed/BinaryNotFound style error
	// rather than surfacing a raw exec error at Deploy time.
	_, err := orch.Deploy(context.Background(), ContractCUETerraform, map[string]any{"name": "infra1"}, "app1")
	if err == nil {
		t.Skip("terraform binary is present in this environment; fail-fast path not exercised")
	}
}

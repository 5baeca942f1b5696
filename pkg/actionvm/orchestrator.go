package actionvm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/audit"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

// Orchestrator is the Action VM (spec §4.F): it owns the handler
// registry, the active Deployments, the VM's own status, and the active
// security Policy.
type Orchestrator struct {
	registry *Registry
	writer   *audit.Writer
	alerts   *AlertSink
	logger   *slog.Logger

	mu          sync.RWMutex
	policy      Policy
	deployments map[string]*Deployment
	handles     map[string]string // deployment_id -> handler-returned handle
	state       VMState
}

// New creates an Orchestrator with an empty deployment set, starting in
// VMInitializing until the caller transitions it (typically immediately
// after successful construction).
func New(vmID string, registry *Registry, writer *audit.Writer, alerts *AlertSink, policy Policy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		writer:      writer,
		alerts:      alerts,
		logger:      logger,
		policy:      policy,
		deployments: make(map[string]*Deployment),
		handles:     make(map[string]string),
		state: VMState{
			VMID:            vmID,
			Status:          VMInitializing,
			SecurityLevel:   "Nominal",
			ThreatLevel:     "Low",
			ComplianceScore: 100,
			LastScanTS:      time.Now(),
		},
	}
}

// Activate transitions the VM out of VMInitializing.
func (o *Orchestrator) Activate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Status = VMActive
}

// Deploy implements spec §4.F's deploy algorithm.
func (o *Orchestrator) Deploy(ctx context.Context, ct ContractType, config map[string]any, appID string) (string, error) {
	handler, ok := o.registry.Lookup(ct)
	if !ok {
		return "", apperrors.New(apperrors.KindUnknownContract, "no handler registered for "+ct.String())
	}

	configBytes, _ := json.Marshal(config)
	configHash := pqcrypto.HashDomain("DEPLOY-CONFIG", configBytes)

	decision := o.policy.Evaluate(DeployContext{ContractType: ct, AppID: appID, ConfigHash: configHash})
	for _, rule := range decision.Matched {
		if rule.Action == ActionAlert && o.alerts != nil {
			if err := o.alerts.Notify(ctx, ct.String(), appID, rule); err != nil {
				o.logger.Warn("security alert delivery failed", "error", err)
			}
		}
	}
	if decision.Refused {
		return "", apperrors.New(apperrors.KindPolicyViolation, "deploy refused by security policy").
			WithDetails(map[string]any{"contract_type": ct.String(), "app_id": appID})
	}

	if err := handler.Validate(config); err != nil {
		return "", err
	}

	deploymentID := uuid.NewString()
	if _, err := o.writer.Append(ctx, audit.KindContractDeployBegin, audit.ComponentActionVM, []byte(appID),
		map[string]any{"config_hash": configHash[:], "app_id": appID, "contract_type": ct.String()}); err != nil {
		return "", err
	}

	handle, err := handler.Deploy(ctx, config)
	if err != nil {
		o.writer.Append(ctx, audit.KindContractError, audit.ComponentActionVM, []byte(appID),
			map[string]any{"error": err.Error(), "contract_type": ct.String()})
		if ae, ok := apperrors.As(err); ok {
			return "", ae
		}
		return "", apperrors.Wrap(apperrors.KindDeployFailed, fmt.Errorf("deploying %s: %w", ct, err))
	}

	profile := DefaultSecurityProfile()
	if override, ok := config["security_profile"].(SecurityProfile); ok {
		profile = override
	}

	dep := &Deployment{
		DeploymentID:    deploymentID,
		ContractType:    ct,
		AppID:           appID,
		SecurityProfile: profile,
		DeployTS:        time.Now(),
		Status:          StatusPending,
	}
	dep.transition(StatusDeploying)
	dep.transition(StatusActive)

	o.mu.Lock()
	o.deployments[deploymentID] = dep
	o.handles[deploymentID] = handle
	o.state.ActiveContracts++
	o.mu.Unlock()

	if _, err := o.writer.Append(ctx, audit.KindContractDeployOk, audit.ComponentActionVM, []byte(appID),
		map[string]any{"deployment_id": deploymentID}); err != nil {
		o.logger.Error("audit append failed for ContractDeployOk", "error", err)
	}
	o.writer.Append(ctx, audit.KindSystemMetrics, audit.ComponentActionVM, nil,
		map[string]any{"active_contracts": o.activeContracts()})

	return deploymentID, nil
}

func (o *Orchestrator) activeContracts() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.ActiveContracts
}

// Status returns a copy of the named Deployment, or an error if unknown.
func (o *Orchestrator) Status(deploymentID string) (Deployment, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.deployments[deploymentID]
	if !ok {
		return Deployment{}, apperrors.New(apperrors.KindBadRequest, "unknown deployment "+deploymentID)
	}
	return *d, nil
}

// ListDeployments returns a snapshot of all known deployments, used by
// the gateway's /__vm/instances endpoint.
func (o *Orchestrator) ListDeployments() []Deployment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Deployment, 0, len(o.deployments))
	for _, d := range o.deployments {
		out = append(out, *d)
	}
	return out
}

// VMStatus returns a snapshot of the Action VM's own state.
func (o *Orchestrator) VMStatus() VMState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Suspend/Resume/Terminate drive the Deployment lifecycle's remaining
// transitions, emitting DeploymentStatusChange audit events.
func (o *Orchestrator) Suspend(ctx context.Context, deploymentID string) error {
	return o.moveTo(ctx, deploymentID, StatusSuspended)
}

func (o *Orchestrator) Resume(ctx context.Context, deploymentID string) error {
	return o.moveTo(ctx, deploymentID, StatusActive)
}

func (o *Orchestrator) Terminate(ctx context.Context, deploymentID string) error {
	o.mu.Lock()
	dep, ok := o.deployments[deploymentID]
	handle := o.handles[deploymentID]
	o.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.KindBadRequest, "unknown deployment "+deploymentID)
	}

	handler, hok := o.registry.Lookup(dep.ContractType)
	if hok {
		if err := handler.Terminate(ctx, handle); err != nil {
			o.logger.Warn("handler terminate failed", "deployment_id", deploymentID, "error", err)
		}
	}
	return o.moveTo(ctx, deploymentID, StatusTerminated)
}

func (o *Orchestrator) moveTo(ctx context.Context, deploymentID string, to DeploymentStatus) error {
	o.mu.Lock()
	dep, ok := o.deployments[deploymentID]
	if !ok {
		o.mu.Unlock()
		return apperrors.New(apperrors.KindBadRequest, "unknown deployment "+deploymentID)
	}
	from := dep.Status
	if !dep.transition(to) {
		o.mu.Unlock()
		return apperrors.New(apperrors.KindPolicyViolation, fmt.Sprintf("invalid transition %s -> %s", from, to))
	}
	if to == StatusTerminated || to == StatusFailed {
		o.state.ActiveContracts--
	}
	o.mu.Unlock()

	_, err := o.writer.Append(ctx, audit.KindDeploymentStatusChange, audit.ComponentActionVM, []byte(dep.AppID),
		map[string]any{"deployment_id": deploymentID, "from": from.String(), "to": to.String()})
	return err
}

// Shutdown drains the orchestrator, transitioning the VM to Maintenance.
// It does not terminate individual deployments (that is an explicit,
// separate operator action per deployment).
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.state.Status = VMMaintenance
	o.mu.Unlock()
	_, err := o.writer.Append(ctx, audit.KindSystemMetrics, audit.ComponentActionVM, nil,
		map[string]any{"event": "shutdown"})
	return err
}

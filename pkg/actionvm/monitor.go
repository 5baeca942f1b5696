package actionvm

import (
	"context"
	"log/slog"
	"time"

	"github.com/bpi-sushrut/bpinode/pkg/audit"
)

// RunMonitorLoop periodically calls each active Deployment's handler
// Monitor method; an unhealthy result flips the Action VM's own status
// to SecurityAlert and logs an AnomalousAdmission-class audit event.
// This supplements the distilled spec with the original implementation's
// continuous health-scan behavior (§4.F only describes deploy-time
// checks; the scan loop itself was present in the source this was
// distilled from and is reintroduced here in the orchestrator's idiom).
func (o *Orchestrator) RunMonitorLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.scanOnce(ctx, logger)
		}
	}
}

func (o *Orchestrator) scanOnce(ctx context.Context, logger *slog.Logger) {
	o.mu.RLock()
	snapshot := make([]*Deployment, 0, len(o.deployments))
	handles := make(map[string]string, len(o.handles))
	for id, d := range o.deployments {
		if d.Status != StatusActive {
			continue
		}
		snapshot = append(snapshot, d)
		handles[id] = o.handles[id]
	}
	o.mu.RUnlock()

	anyUnhealthy := false
	for _, d := range snapshot {
		handler, ok := o.registry.Lookup(d.ContractType)
		if !ok {
			continue
		}
		healthy, err := handler.Monitor(ctx, handles[d.DeploymentID])
		if err != nil || !healthy {
			anyUnhealthy = true
			logger.Warn("deployment health check failed", "deployment_id", d.DeploymentID, "error", err)
			o.writer.Append(ctx, audit.KindAnomalousAdmission, audit.ComponentActionVM, []byte(d.AppID),
				map[string]any{"deployment_id": d.DeploymentID, "reason": "monitor_unhealthy"})
		}
	}

	o.mu.Lock()
	o.state.LastScanTS = time.Now()
	if anyUnhealthy {
		o.state.Status = VMSecurityAlert
		o.state.ThreatLevel = "Elevated"
	} else if o.state.Status == VMSecurityAlert {
		o.state.Status = VMActive
		o.state.ThreatLevel = "Low"
	}
	o.mu.Unlock()
}

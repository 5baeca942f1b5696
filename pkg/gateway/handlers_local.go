package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleVMStatus implements GET /__vm/status (spec §6).
func (g *Gateway) handleVMStatus(w http.ResponseWriter, r *http.Request) {
	state := g.vm.VMStatus()
	respond(w, http.StatusOK, map[string]any{
		"vm_id":            state.VMID,
		"status":           state.Status.String(),
		"active_contracts": state.ActiveContracts,
		"security_level":   state.SecurityLevel,
		"threat_level":     state.ThreatLevel,
		"last_scan_ts":     state.LastScanTS,
		"compliance_score": state.ComplianceScore,
	})
}

// handleVMMetrics implements GET /__vm/metrics.
func (g *Gateway) handleVMMetrics(w http.ResponseWriter, r *http.Request) {
	sync0, sync1 := g.gate.Counters()
	respond(w, http.StatusOK, map[string]any{
		"total_requests":          g.totalRequests.Load(),
		"post_quantum_operations": g.postQuantumOperations.Load(),
		"per_route":               g.routeCounters.snapshot(),
		"qlock_sync0":             sync0,
		"qlock_sync1":             sync1,
	})
}

// handleVMInstances implements GET /__vm/instances.
func (g *Gateway) handleVMInstances(w http.ResponseWriter, r *http.Request) {
	deployments := g.vm.ListDeployments()
	out := make([]map[string]any, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, map[string]any{
			"deployment_id": d.DeploymentID,
			"contract_type": d.ContractType.String(),
			"app_id":        d.AppID,
			"status":        d.Status.String(),
			"deploy_ts":     d.DeployTS,
		})
	}
	respond(w, http.StatusOK, map[string]any{"instances": out})
}

// handleVMHealth implements GET /__vm/health.
func (g *Gateway) handleVMHealth(w http.ResponseWriter, r *http.Request) {
	state := g.vm.VMStatus()
	ok := state.Status.String() != "SecurityAlert" && state.Status.String() != "Emergency"
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	respond(w, status, map[string]any{"healthy": ok, "status": state.Status.String()})
}

// handleCageStatus implements GET /__cage/status.
func (g *Gateway) handleCageStatus(w http.ResponseWriter, r *http.Request) {
	sync0, sync1 := g.gate.Counters()
	respond(w, http.StatusOK, map[string]any{
		"proto":       "bpinode/1.0",
		"qlock_sync0": sync0,
		"qlock_sync1": sync1,
	})
}

// handleCageInfo implements GET /__cage/info: a static gateway-protocol
// descriptor.
func (g *Gateway) handleCageInfo(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"proto":          "bpinode/1.0",
		"security_level": g.securityLevel(),
		"quantum_safe":   true,
	})
}

// handleShadowDomains implements GET /__shadow/domains.
func (g *Gateway) handleShadowDomains(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"domains": g.shadow.Domains()})
}

// shadowRegisterRequest is the body accepted by POST /__shadow/register.
type shadowRegisterRequest struct {
	Domain     string `json:"domain"`
	BackendURL string `json:"backend_url"`
}

func (g *Gateway) handleShadowRegister(w http.ResponseWriter, r *http.Request) {
	var req shadowRegisterRequest
	if err := decodeJSON(r, &req); err != nil || req.Domain == "" || req.BackendURL == "" {
		respondError(w, r, http.StatusBadRequest, "BadRequest", map[string]any{"reason": "domain and backend_url are required"})
		return
	}
	g.shadow.Set(req.Domain, req.BackendURL)
	respond(w, http.StatusOK, map[string]any{"registered": req.Domain})
}

// handleZKLockStatus implements GET /__zklock/status: exposes the
// ENC-Lock/QLOCK gate's admission counters for operator visibility.
func (g *Gateway) handleZKLockStatus(w http.ResponseWriter, r *http.Request) {
	sync0, sync1 := g.gate.Counters()
	respond(w, http.StatusOK, map[string]any{
		"sync0_count": sync0,
		"sync1_count": sync1,
	})
}

// handleHTTPCG implements GET /httpcg/<domain>/<path> (spec §4.G,§6):
// resolves domain via the Shadow-Registry, then reverse-proxies.
func (g *Gateway) handleHTTPCG(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	backendURL, ok := g.shadow.Resolve(domain)
	if !ok {
		respondError(w, r, http.StatusNotFound, "NotFound", map[string]any{
			"available_endpoints": g.shadow.Domains(),
		})
		return
	}

	target, err := parseURL(backendURL)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "BackendUnavailable", map[string]any{"domain": domain})
		return
	}
	newReverseProxy(target, g.logger).ServeHTTP(w, r)
}

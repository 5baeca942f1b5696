package actionvm

import "log/slog"

// NewDefaultRegistry builds a Registry with a bespoke handler for the
// contract types that need one (CUETerraform, CUENginx, Pipeline,
// DockLock) and the generic DeclarativeHandler for every remaining type.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	bespoke := map[ContractType]Handler{
		ContractCUETerraform: NewTerraformHandler(logger),
		ContractCUENginx:     NewNginxHandler(logger),
		ContractPipeline:     NewPipelineHandler(logger),
		ContractDockLock:     NewDockLockHandler(logger),
	}
	for _, ct := range AllContractTypes() {
		if h, ok := bespoke[ct]; ok {
			r.Register(ct, h)
			continue
		}
		r.Register(ct, NewDeclarativeHandler(ct.String(), logger))
	}
	return r
}

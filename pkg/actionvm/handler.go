package actionvm

import "context"

// Handler is the interface every contract type implements (spec §4.F:
// "Handlers are stateful workers with their own invariants"), each bound
// to its contract type in a Registry.
type Handler interface {
	// Validate checks config shape before any side effect runs.
	Validate(config map[string]any) error
	// Deploy performs the type-specific provisioning and returns an
	// opaque deployment handle the handler can use in later calls.
	Deploy(ctx context.Context, config map[string]any) (handle string, err error)
	// Monitor reports whether the deployment is currently healthy. A
	// false result flips the VMState to SecurityAlert; the Deployment's
	// own status is left unchanged.
	Monitor(ctx context.Context, handle string) (healthy bool, err error)
	// Terminate tears down the deployment. Must be idempotent.
	Terminate(ctx context.Context, handle string) error
}

// Registry maps a ContractType to its Handler.
type Registry struct {
	handlers map[ContractType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ContractType]Handler)}
}

// Register binds a Handler to a ContractType, overwriting any prior
// registration (used both for bespoke handlers and the generic fallback).
func (r *Registry) Register(t ContractType, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the Handler for t, or ok=false if unregistered.
func (r *Registry) Lookup(t ContractType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

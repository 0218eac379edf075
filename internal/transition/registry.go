package transition

import (
	"sort"

	"github.com/roach88/covenant/internal/fault"
)

// Registry maps kernel names to their transformation functions. The
// kernel set is fixed before any transition applies; Register is not
// safe for concurrent use with Lookup.
type Registry struct {
	kernels map[string]Kernel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]Kernel)}
}

// Register binds a kernel name. Re-registering a name is rejected so a
// later binding can never silently shadow the one receipts were
// produced under.
func (r *Registry) Register(name string, fn Kernel) error {
	if name == "" {
		return fault.Type(fault.CodeBadTransition, "kernel name must not be empty")
	}
	if fn == nil {
		return fault.Type(fault.CodeBadTransition, "kernel %s needs a function", name)
	}
	if _, exists := r.kernels[name]; exists {
		return fault.Type(fault.CodeDuplicateKernel, "kernel %s already registered", name).
			With("kernel", name)
	}
	r.kernels[name] = fn
	return nil
}

// MustRegister binds a kernel name, panicking on conflict. For tests
// and fixed startup tables only.
func (r *Registry) MustRegister(name string, fn Kernel) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup resolves a kernel name.
func (r *Registry) Lookup(name string) (Kernel, error) {
	fn, ok := r.kernels[name]
	if !ok {
		return nil, fault.Type(fault.CodeUnknownKernel, "unknown kernel %q", name).
			With("kernel", name)
	}
	return fn, nil
}

// Kernels returns the registered names in sorted order.
func (r *Registry) Kernels() []string {
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

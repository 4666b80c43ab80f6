package pipeline

import (
	"context"
	"sync"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
)

// Loader executes modules of one module type. The entry point is the
// stage name ("pre_acquisition" / "post_acquisition") unless the spec
// overrides it.
type Loader interface {
	Run(ctx context.Context, spec Spec, entryPoint string, p params.Set) (exitCode int, err error)
}

// Registry maps module types to loaders. Capabilities are registered, not
// inherited: adding a new module type is a Register call, not a subclass.
type Registry struct {
	mu      sync.RWMutex
	loaders map[ModuleType]Loader
}

// NewRegistry creates an empty loader registry.
func NewRegistry() *Registry {
	return &Registry{
		loaders: make(map[ModuleType]Loader),
	}
}

// Register installs a loader for a module type, replacing any previous
// loader for that type.
func (r *Registry) Register(t ModuleType, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[t] = l
}

// Lookup returns the loader for a module type.
func (r *Registry) Lookup(t ModuleType) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[t]
	return l, ok
}

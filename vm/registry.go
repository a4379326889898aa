package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/tolsettle/core"
)

// Handler is the function signature every transaction module must implement.
// Errors should wrap a core taxonomy error so receipts carry a stable code.
type Handler func(ctx *Context, payload json.RawMessage) error

// Option adjusts how the executor treats a registered handler.
type Option func(*entry)

// AllowInMaintenance keeps a handler available while the maintenance switch
// is on. Only the switch itself should need it.
func AllowInMaintenance() Option {
	return func(e *entry) { e.maintenance = true }
}

type entry struct {
	handler     Handler
	maintenance bool
}

// Registry maps TxTypes to Handlers. Modules register from init, so writes
// happen before the first Execute; the lock keeps concurrent tests honest.
type Registry struct {
	mu      sync.RWMutex
	entries map[core.TxType]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[core.TxType]entry)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler, opts ...Option) {
	e := entry{handler: h}
	for _, o := range opts {
		o(&e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.entries[typ] = e
}

func (r *Registry) lookup(typ core.TxType) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	return e, ok
}

// Has reports whether a handler is registered for typ.
func (r *Registry) Has(typ core.TxType) bool {
	_, ok := r.lookup(typ)
	return ok
}

// Execute dispatches payload to the handler registered for typ. While
// maintenance is on only handlers registered with AllowInMaintenance run.
func (r *Registry) Execute(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	e, ok := r.lookup(typ)
	if !ok {
		return fmt.Errorf("vm: no handler registered for TxType %q: %w", typ, core.ErrInvalidParams)
	}
	if ctx.Params != nil && ctx.Params.Maintenance && !e.maintenance {
		return fmt.Errorf("%s rejected: %w", typ, core.ErrMaintenanceMode)
	}
	return e.handler(ctx, payload)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry.
// Module init() functions call this to self-register.
func Register(typ core.TxType, h Handler, opts ...Option) {
	globalRegistry.Register(typ, h, opts...)
}

// Registered reports whether typ has a handler in the global registry.
func Registered(typ core.TxType) bool {
	return globalRegistry.Has(typ)
}

package core

import (
	"imp/cache"
	"imp/config"
	"imp/events"
	"imp/logger"
	"imp/scheduler"
)

// Internal bundles the kernel-owned collaborators extracted from the
// boilerplate module. Services receive it read-only; none of these are
// theirs to replace.
type Internal struct {
	// Logger is the root logger, untagged.
	Logger logger.Logger
	// Config is the global configuration API.
	Config *config.Manager
	// Cache is the process-wide cache client.
	Cache cache.Client
	// Scheduler is the kernel's scheduler registry.
	Scheduler *scheduler.Registry
	// Events is the process-wide event bus.
	Events *events.Bus
}

// Peers resolves the APIs of services wired earlier in plan order. A
// factory observes exactly the services constructed before it; after
// Ready the full map is visible.
type Peers struct {
	k *Kernel
}

// Get returns the API one service exported, addressed by module and
// service name.
func (p Peers) Get(module, service string) (any, bool) {
	if p.k == nil {
		return nil, false
	}
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	api, ok := p.k.loaded[module][service]
	return api, ok
}

// Module returns a snapshot of every API a module has exported so far.
func (p Peers) Module(module string) map[string]any {
	if p.k == nil {
		return nil
	}
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	out := make(map[string]any, len(p.k.loaded[module]))
	for name, api := range p.k.loaded[module] {
		out[name] = api
	}
	return out
}

// ServiceParams is the fixed parameter bundle injected into every service
// factory.
type ServiceParams struct {
	// Context is "<module>:<service>", used in logs and metric labels.
	Context string
	// Logger is pre-tagged with Context.
	Logger logger.Logger
	// Config is the read-through view bound to the owning module's schema,
	// with the global API reachable through it.
	Config *config.View
	// Lifecycle is the owning module's lifecycle handle.
	Lifecycle *Lifecycle
	// Scheduler builds cron, interval and sliding timers owned by this
	// service context.
	Scheduler *scheduler.Scheduler
	// Cache is the process-wide cache client.
	Cache cache.Client
	// Event is the process-wide event bus.
	Event *events.Bus
	// Internal exposes the kernel-owned collaborators.
	Internal *Internal
	// Peers resolves APIs of services wired before this one.
	Peers Peers
}

package core

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"

	"imp/config"
	imperr "imp/errors"
)

// validate checks the static shape of definition options before the
// kernel's structural rules run.
var validate = validator.New()

// ServiceFactory builds one service. It receives the injected parameter
// bundle and returns the service's exported API, or nil when the service
// only registers lifecycle callbacks. Factories may block on I/O and are
// invoked exactly once per bootstrap.
type ServiceFactory func(ctx context.Context, p *ServiceParams) (any, error)

// definition carries the fields libraries and applications share.
type definition struct {
	name          string
	configuration config.Schema
	services      map[string]ServiceFactory
	priorityInit  []string
	lifecycle     *Lifecycle
}

// Name returns the module name.
func (d *definition) Name() string {
	return d.name
}

// Lifecycle returns the module's lifecycle handle. Services reach it
// through their parameter bundle; module authors may also register hooks
// directly on the definition before bootstrap.
func (d *definition) Lifecycle() *Lifecycle {
	return d.lifecycle
}

// Schema returns the module's declared configuration schema.
func (d *definition) Schema() config.Schema {
	return d.configuration
}

// LibraryOptions declares a library module.
type LibraryOptions struct {
	// Name uniquely identifies the library among its siblings.
	Name string `validate:"required"`
	// Configuration declares the library's config keys.
	Configuration config.Schema
	// Services maps service names to their factories.
	Services map[string]ServiceFactory
	// PriorityInit lists services constructed first, in order. The
	// remainder wires after them.
	PriorityInit []string
	// Depends names libraries that must wire before this one.
	Depends []*Library
}

// Library is an opaque library definition. Creation validates it; mounting
// happens during Bootstrap.
type Library struct {
	definition
	depends []*Library
}

// Depends returns the declared dependencies.
func (l *Library) Depends() []*Library {
	return l.depends
}

// NewLibrary validates the options and returns a library definition.
func NewLibrary(opts LibraryOptions) (*Library, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, imperr.Wrap(imperr.CodeMissingLibraryName, err, "library requires a name")
	}
	def, err := newDefinition(opts.Name, opts.Configuration, opts.Services, opts.PriorityInit)
	if err != nil {
		return nil, err
	}
	for _, dep := range opts.Depends {
		if dep == nil {
			return nil, imperr.New(imperr.CodeMissingDependency, "library %q declares a nil dependency", opts.Name)
		}
	}
	return &Library{definition: def, depends: opts.Depends}, nil
}

// ApplicationOptions declares the application module.
type ApplicationOptions struct {
	// Name uniquely identifies the application.
	Name string `validate:"required"`
	// Configuration declares the application's config keys.
	Configuration config.Schema
	// Services maps service names to their factories.
	Services map[string]ServiceFactory
	// PriorityInit lists services constructed first, in order.
	PriorityInit []string
	// Libraries composes the application, in any order; the planner
	// linearizes them by their declared dependencies.
	Libraries []*Library
}

// Application is an opaque application definition with the bootstrap and
// teardown entry points.
type Application struct {
	definition
	libraries []*Library

	mu     sync.Mutex
	booted bool
	kernel *Kernel
}

// Libraries returns the composed libraries.
func (a *Application) Libraries() []*Library {
	return a.libraries
}

// NewApplication validates the options and returns an application
// definition.
func NewApplication(opts ApplicationOptions) (*Application, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, imperr.Wrap(imperr.CodeMissingLibraryName, err, "application requires a name")
	}
	def, err := newDefinition(opts.Name, opts.Configuration, opts.Services, opts.PriorityInit)
	if err != nil {
		return nil, err
	}
	for _, lib := range opts.Libraries {
		if lib == nil {
			return nil, imperr.New(imperr.CodeMissingDependency, "application %q lists a nil library", opts.Name)
		}
	}
	return &Application{definition: def, libraries: opts.Libraries}, nil
}

// newDefinition applies the structural rules shared by both creators:
// every service value must be callable, and the priority list must be a
// duplicate-free subset of the declared services.
func newDefinition(name string, schema config.Schema, services map[string]ServiceFactory, priorityInit []string) (definition, error) {
	for svc, factory := range services {
		if factory == nil {
			return definition{}, imperr.New(imperr.CodeInvalidServiceDefinition, "service %s.%s has no factory", name, svc)
		}
	}
	seen := make(map[string]bool, len(priorityInit))
	for _, svc := range priorityInit {
		if seen[svc] {
			return definition{}, imperr.New(imperr.CodeDoublePriority, "service %s.%s appears twice in the priority list", name, svc)
		}
		seen[svc] = true
		if _, ok := services[svc]; !ok {
			return definition{}, imperr.New(imperr.CodeInvalidServiceDefinition, "priority entry %s.%s names no declared service", name, svc)
		}
	}
	if schema == nil {
		schema = config.Schema{}
	}
	return definition{
		name:          name,
		configuration: schema,
		services:      services,
		priorityInit:  priorityInit,
		lifecycle:     NewLifecycle(),
	}, nil
}

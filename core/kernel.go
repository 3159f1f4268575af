package core

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"imp/cache"
	"imp/config"
	imperr "imp/errors"
	"imp/events"
	"imp/logger"
	"imp/scheduler"
)

// activeKernel is the single-slot guard behind the no-dual-boot rule: at
// most one kernel is active per process.
var activeKernel atomic.Pointer[Kernel]

// BootstrapOptions tunes one bootstrap run.
type BootstrapOptions struct {
	// Configuration is a partial resolved config merged after every
	// loader, so these values win over CLI, environment and files.
	Configuration map[string]map[string]any
	// EnvFile overrides the dotenv path when no --env-file switch is set.
	EnvFile string
	// ConfigFile overrides config file discovery when no --CONFIG switch
	// is set.
	ConfigFile string
	// Argv and Environ feed the CLI and environment loaders. Both default
	// to the live process values; tests inject their own.
	Argv    []string
	Environ []string
	// LogLevel is the severity used until LOG_LEVEL resolves.
	LogLevel string
	// PrettyLog switches the root logger to the console writer.
	PrettyLog bool
	// WatchConfigFile re-reads the winning config file on disk changes.
	WatchConfigFile bool
	// DisableSignals skips installing the SIGTERM/SIGINT handlers.
	DisableSignals bool
}

// Kernel owns every mutable map of one application run: loaded modules,
// lifecycle state, resolved configuration, scheduler handles. It exists
// from Bootstrap to Teardown and is rebuilt fresh for every run.
type Kernel struct {
	app    *Application
	log    logger.Logger
	config *config.Manager
	cache  *cache.Deferred
	events *events.Bus
	sched  *scheduler.Registry
	engine *engine

	internal *Internal

	mu     sync.Mutex
	loaded map[string]map[string]any

	slots       []*moduleSlot
	boilerplate *Library

	signalCh    chan os.Signal
	signalStop  chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
	watchCancel context.CancelFunc
}

// Bootstrap wires and starts the application: the built-in boilerplate
// module first, then every library in plan order, then the application
// itself, followed by the PreInit, PostConfig, Bootstrap and Ready
// stages. It returns a typed failure instead of exiting; the CLI wrapper
// decides what a failed boot does to the process.
func (a *Application) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	a.mu.Lock()
	if a.booted {
		a.mu.Unlock()
		return imperr.New(imperr.CodeDoubleBoot, "application %q is already bootstrapped", a.name)
	}
	a.mu.Unlock()

	level := opts.LogLevel
	if level == "" {
		level = "info"
	}
	log := logger.New(logger.Config{Level: "trace", Pretty: opts.PrettyLog})
	logger.SetGlobalLevel(level)

	k := &Kernel{
		app:    a,
		log:    log,
		config: config.NewManager(log),
		cache:  cache.NewDeferred(),
		events: events.NewBus(log),
		sched:  scheduler.NewRegistry(log),
		engine: newEngine(log.With("boilerplate:lifecycle")),
		loaded: make(map[string]map[string]any),
		done:   make(chan struct{}),
	}
	k.internal = &Internal{
		Logger:    log,
		Config:    k.config,
		Cache:     k.cache,
		Scheduler: k.sched,
		Events:    k.events,
	}

	if !activeKernel.CompareAndSwap(nil, k) {
		return imperr.New(imperr.CodeNoDualBoot, "another application is already active in this process")
	}

	if err := k.boot(ctx, opts); err != nil {
		k.release()
		return err
	}

	a.mu.Lock()
	a.booted = true
	a.kernel = k
	a.mu.Unlock()
	return nil
}

// boot runs the bootstrap sequence against an already-claimed kernel slot.
func (k *Kernel) boot(ctx context.Context, opts BootstrapOptions) error {
	start := time.Now()
	a := k.app

	plan, err := planLibraries(a, k.log)
	if err != nil {
		return err
	}

	boilerplate, err := k.newBoilerplate()
	if err != nil {
		return err
	}
	k.boilerplate = boilerplate

	// The built-in module wires in isolation so its collaborators exist
	// before any user code runs.
	if err := k.config.LoadProject(BoilerplateModule, boilerplate.configuration); err != nil {
		return err
	}
	boilerplate.lifecycle.attach(k.engine)
	k.slots = append(k.slots, &moduleSlot{name: BoilerplateModule, lc: boilerplate.lifecycle})
	if err := k.wireModule(ctx, &boilerplate.definition); err != nil {
		return err
	}

	if !opts.DisableSignals {
		k.installSignals()
	}

	for _, lib := range plan {
		if err := k.config.LoadProject(lib.name, lib.configuration); err != nil {
			return err
		}
		lib.lifecycle.attach(k.engine)
		k.slots = append(k.slots, &moduleSlot{name: lib.name, lc: lib.lifecycle})
		if err := k.wireModule(ctx, &lib.definition); err != nil {
			return err
		}
	}

	if err := k.config.LoadProject(a.name, a.configuration); err != nil {
		return err
	}
	a.lifecycle.attach(k.engine)
	k.slots = append(k.slots, &moduleSlot{name: a.name, lc: a.lifecycle})
	if err := k.wireModule(ctx, &a.definition); err != nil {
		return err
	}

	if _, err := k.engine.runStage(ctx, StagePreInit, k.slots); err != nil {
		return err
	}

	configFile, err := k.config.Initialize(config.InitOptions{
		AppName:    a.name,
		Argv:       opts.Argv,
		Environ:    opts.Environ,
		EnvFile:    opts.EnvFile,
		ConfigFile: opts.ConfigFile,
		Overrides:  opts.Configuration,
	})
	if err != nil {
		k.log.Fatal(logger.Fields{"error": err.Error()}, "configuration could not be resolved")
		return err
	}
	if opts.WatchConfigFile && configFile != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		k.watchCancel = cancel
		if err := k.config.WatchFile(watchCtx, configFile, a.name); err != nil {
			k.log.Warn(logger.Fields{"path": configFile, "error": err.Error()}, "config file watch unavailable")
		}
	}

	for _, stage := range []Stage{StagePostConfig, StageBootstrap, StageReady} {
		if _, err := k.engine.runStage(ctx, stage, k.slots); err != nil {
			k.log.Fatal(logger.Fields{"stage": stage.String(), "error": err.Error()}, "bootstrap stage failed")
			return err
		}
	}

	k.log.Info(logger.Fields{
		"application": a.name,
		"libraries":   len(plan),
		"duration":    time.Since(start).String(),
	}, "application started")
	return nil
}

// wireModule constructs one module's services in wire order: the priority
// list first, the remainder after.
func (k *Kernel) wireModule(ctx context.Context, def *definition) error {
	for _, svc := range wireOrder(def.priorityInit, def.services) {
		if err := k.wireService(ctx, def, svc, def.services[svc]); err != nil {
			return err
		}
	}
	return nil
}

// wireService invokes one factory exactly once with its parameter bundle
// and publishes the returned API to later services. Factory failures are
// not recoverable: they log at fatal severity and abort bootstrap.
func (k *Kernel) wireService(ctx context.Context, def *definition, service string, factory ServiceFactory) error {
	k.mu.Lock()
	if _, exists := k.loaded[def.name][service]; exists {
		k.mu.Unlock()
		return imperr.New(imperr.CodeDuplicateService, "service %s:%s is already wired", def.name, service)
	}
	k.mu.Unlock()

	serviceContext := def.name + ":" + service
	params := &ServiceParams{
		Context:   serviceContext,
		Logger:    k.log.With(serviceContext),
		Config:    k.config.Bind(def.name),
		Lifecycle: def.lifecycle,
		Scheduler: k.sched.ForContext(serviceContext),
		Cache:     k.cache,
		Event:     k.events,
		Internal:  k.internal,
		Peers:     Peers{k: k},
	}

	api, err := safeFactory(ctx, factory, params)
	if err != nil {
		k.log.Fatal(logger.Fields{
			"code":    string(imperr.CodeServiceFactoryFailure),
			"context": serviceContext,
			"error":   err.Error(),
		}, "service factory failed")
		return imperr.Wrap(imperr.CodeServiceFactoryFailure, err, "factory %s failed", serviceContext)
	}

	k.mu.Lock()
	if k.loaded[def.name] == nil {
		k.loaded[def.name] = make(map[string]any)
	}
	k.loaded[def.name][service] = api
	k.mu.Unlock()
	return nil
}

// safeFactory shields the container from panicking factories so they
// surface as wiring failures rather than crashes.
func safeFactory(ctx context.Context, factory ServiceFactory, params *ServiceParams) (api any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = imperr.New(imperr.CodeServiceFactoryFailure, "factory panicked: %v", rec)
		}
	}()
	return factory(ctx, params)
}

// Teardown winds the application down: PreShutdown quiesces timers,
// ShutdownStart and ShutdownComplete run the user callbacks, then the
// kernel releases every process-wide claim so the application can be
// bootstrapped again. Calling it with no active application logs and
// returns.
func (a *Application) Teardown(ctx context.Context) error {
	a.mu.Lock()
	k := a.kernel
	a.mu.Unlock()

	if k == nil || activeKernel.Load() != k {
		logger.New(logger.Config{Level: "info"}).Warn(nil, "teardown called with no active application")
		return nil
	}

	for _, stage := range []Stage{StagePreShutdown, StageShutdownStart, StageShutdownComplete} {
		if _, err := k.engine.runStage(ctx, stage, k.slots); err != nil {
			k.log.Error(logger.Fields{"stage": stage.String(), "error": err.Error()}, "shutdown stage reported failure")
		}
	}

	k.release()

	a.mu.Lock()
	a.booted = false
	a.kernel = nil
	a.mu.Unlock()
	return nil
}

// Done closes when the application has been torn down, either explicitly
// or by a termination signal. It returns a closed channel when the
// application is not currently active.
func (a *Application) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.kernel != nil {
		return a.kernel.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// installSignals claims SIGTERM and SIGINT for the kernel. A signal runs
// Teardown on its own goroutine; the CLI wrapper observes Done and exits
// with status zero.
func (k *Kernel) installSignals() {
	k.signalCh = make(chan os.Signal, 1)
	k.signalStop = make(chan struct{})
	signal.Notify(k.signalCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-k.signalCh:
			k.log.Info(logger.Fields{"signal": sig.String()}, "termination signal received, shutting down")
			if err := k.app.Teardown(context.Background()); err != nil {
				k.log.Error(logger.Fields{"error": err.Error()}, "teardown failed")
			}
		case <-k.signalStop:
		}
	}()
}

// release drops every process-wide claim the kernel holds. Once-only so
// the failure path, an explicit teardown and a signal-driven teardown
// cannot race each other.
func (k *Kernel) release() {
	k.releaseOnce.Do(k.releaseAll)
}

func (k *Kernel) releaseAll() {
	k.sched.Stop()
	k.events.Shutdown()
	if k.watchCancel != nil {
		k.watchCancel()
		k.watchCancel = nil
	}
	if k.signalCh != nil {
		signal.Stop(k.signalCh)
		close(k.signalStop)
		k.signalCh = nil
	}

	if k.boilerplate != nil {
		k.boilerplate.lifecycle.detach()
	}
	for _, lib := range k.app.libraries {
		lib.lifecycle.detach()
	}
	k.app.lifecycle.detach()
	k.engine.reset()

	k.mu.Lock()
	k.loaded = make(map[string]map[string]any)
	k.slots = nil
	k.mu.Unlock()

	activeKernel.CompareAndSwap(k, nil)
	close(k.done)
}

// Package core implements the application runtime kernel: module
// definitions, the wire planner, the lifecycle engine and the service
// container that composes libraries and an application out of named
// services.
package core

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	imperr "imp/errors"
	"imp/logger"
)

// Stage names one point of the application lifecycle. The six documented
// stages run in declaration order; PreShutdown is the internal hook point
// that fires strictly before ShutdownStart so schedulers and resources can
// quiesce.
type Stage int

const (
	// StagePreInit runs before configuration loads.
	StagePreInit Stage = iota
	// StagePostConfig runs once configuration has resolved.
	StagePostConfig
	// StageBootstrap runs after configuration, before the app is live.
	StageBootstrap
	// StageReady marks the application live.
	StageReady
	// StagePreShutdown quiesces timers and resources before shutdown.
	StagePreShutdown
	// StageShutdownStart begins teardown.
	StageShutdownStart
	// StageShutdownComplete ends teardown.
	StageShutdownComplete
)

// String returns the stage name used in logs.
func (s Stage) String() string {
	switch s {
	case StagePreInit:
		return "PreInit"
	case StagePostConfig:
		return "PostConfig"
	case StageBootstrap:
		return "Bootstrap"
	case StageReady:
		return "Ready"
	case StagePreShutdown:
		return "PreShutdown"
	case StageShutdownStart:
		return "ShutdownStart"
	case StageShutdownComplete:
		return "ShutdownComplete"
	default:
		return "Unknown"
	}
}

// NoPriority marks a callback with no explicit ordering; unordered
// callbacks run after every prioritized one and carry no mutual order
// guarantee.
const NoPriority = math.MinInt

// Callback is a lifecycle hook body.
type Callback func(ctx context.Context) error

type hookEntry struct {
	cb       Callback
	priority int
	seq      int
}

// Lifecycle collects the stage callbacks of one module. Definitions own
// their lifecycle permanently; the engine attaches during bootstrap and
// detaches at teardown, which is what makes late registration detectable.
type Lifecycle struct {
	mu     sync.Mutex
	hooks  map[Stage][]hookEntry
	seq    int
	engine *engine
}

// NewLifecycle creates an empty lifecycle handle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{hooks: make(map[Stage][]hookEntry)}
}

// OnPreInit registers a callback for the PreInit stage. An optional single
// integer gives the callback an explicit priority; lower runs earlier.
func (l *Lifecycle) OnPreInit(cb Callback, priority ...int) {
	l.add(StagePreInit, cb, priority)
}

// OnPostConfig registers a callback for the PostConfig stage.
func (l *Lifecycle) OnPostConfig(cb Callback, priority ...int) {
	l.add(StagePostConfig, cb, priority)
}

// OnBootstrap registers a callback for the Bootstrap stage.
func (l *Lifecycle) OnBootstrap(cb Callback, priority ...int) {
	l.add(StageBootstrap, cb, priority)
}

// OnReady registers a callback for the Ready stage.
func (l *Lifecycle) OnReady(cb Callback, priority ...int) {
	l.add(StageReady, cb, priority)
}

// OnPreShutdown registers a callback that fires strictly before
// ShutdownStart.
func (l *Lifecycle) OnPreShutdown(cb Callback, priority ...int) {
	l.add(StagePreShutdown, cb, priority)
}

// OnShutdownStart registers a callback for the ShutdownStart stage.
func (l *Lifecycle) OnShutdownStart(cb Callback, priority ...int) {
	l.add(StageShutdownStart, cb, priority)
}

// OnShutdownComplete registers a callback for the ShutdownComplete stage.
func (l *Lifecycle) OnShutdownComplete(cb Callback, priority ...int) {
	l.add(StageShutdownComplete, cb, priority)
}

func (l *Lifecycle) add(stage Stage, cb Callback, priority []int) {
	p := NoPriority
	if len(priority) > 0 {
		p = priority[0]
	}

	l.mu.Lock()
	e := l.engine
	if e != nil && e.isComplete(stage) {
		l.mu.Unlock()
		if stage >= StagePreShutdown {
			e.log.Fatal(logger.Fields{"stage": stage.String()}, "callback attached after shutdown stage completed, dropping it")
			return
		}
		// Attaching to an already-completed early stage is tolerated: the
		// callback lands on the deferred queue and runs at the next drain.
		e.enqueueDeferred(cb)
		return
	}
	l.hooks[stage] = append(l.hooks[stage], hookEntry{cb: cb, priority: p, seq: l.seq})
	l.seq++
	l.mu.Unlock()
}

// attach binds this lifecycle to a running engine.
func (l *Lifecycle) attach(e *engine) {
	l.mu.Lock()
	l.engine = e
	l.mu.Unlock()
}

// detach unbinds the engine and drops any callbacks left over from the
// finished run, leaving the definition reusable for another bootstrap.
func (l *Lifecycle) detach() {
	l.mu.Lock()
	l.engine = nil
	l.hooks = make(map[Stage][]hookEntry)
	l.seq = 0
	l.mu.Unlock()
}

// take removes and returns this lifecycle's callbacks for one stage,
// prioritized entries first in ascending priority (ties by registration
// order), unordered entries after in registration order.
func (l *Lifecycle) take(stage Stage) (prioritized, unordered []hookEntry) {
	l.mu.Lock()
	entries := l.hooks[stage]
	delete(l.hooks, stage)
	l.mu.Unlock()

	for _, e := range entries {
		if e.priority == NoPriority {
			unordered = append(unordered, e)
		} else {
			prioritized = append(prioritized, e)
		}
	}
	sort.SliceStable(prioritized, func(i, j int) bool {
		return prioritized[i].priority < prioritized[j].priority
	})
	return prioritized, unordered
}

// moduleSlot pairs a module name with its lifecycle for the engine's fixed
// processing order.
type moduleSlot struct {
	name string
	lc   *Lifecycle
}

// engine drives stages across modules and owns the deferred-work queue
// for late-attached callbacks.
type engine struct {
	log       logger.Logger
	mu        sync.Mutex
	completed map[Stage]bool
	deferred  []Callback
}

func newEngine(log logger.Logger) *engine {
	return &engine{
		log:       log,
		completed: make(map[Stage]bool),
	}
}

func (e *engine) isComplete(stage Stage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed[stage]
}

func (e *engine) enqueueDeferred(cb Callback) {
	e.mu.Lock()
	e.deferred = append(e.deferred, cb)
	e.mu.Unlock()
}

// runStage executes one stage over the given modules, which must already
// be in processing order: the built-in boilerplate module first, then
// every other module in wire order. It returns the stage duration.
// Callback failures in stages before Ready abort the run; from Ready on
// they are logged and the stage continues.
func (e *engine) runStage(ctx context.Context, stage Stage, modules []*moduleSlot) (time.Duration, error) {
	start := time.Now()
	fatal := stage < StageReady

	for _, slot := range modules {
		prioritized, unordered := slot.lc.take(stage)

		for _, entry := range prioritized {
			if err := e.invoke(ctx, stage, slot.name, entry.cb, fatal); err != nil {
				return time.Since(start), err
			}
		}

		if len(unordered) > 0 {
			g, gctx := errgroup.WithContext(ctx)
			for _, entry := range unordered {
				cb := entry.cb
				g.Go(func() error {
					return e.invoke(gctx, stage, slot.name, cb, fatal)
				})
			}
			if err := g.Wait(); err != nil {
				return time.Since(start), err
			}
		}
	}

	e.mu.Lock()
	e.completed[stage] = true
	e.mu.Unlock()

	if err := e.drainDeferred(ctx); err != nil {
		return time.Since(start), err
	}

	elapsed := time.Since(start)
	e.log.Debug(logger.Fields{"stage": stage.String(), "duration": elapsed.String()}, "lifecycle stage complete")
	return elapsed, nil
}

// invoke runs one callback. In fatal mode the error is returned to abort
// bootstrap; otherwise it is logged and swallowed.
func (e *engine) invoke(ctx context.Context, stage Stage, module string, cb Callback, fatal bool) error {
	err := safeCall(ctx, cb)
	if err == nil {
		return nil
	}
	if fatal {
		return imperr.Wrap(imperr.CodeServiceFactoryFailure, err, "lifecycle callback failed in %s during %s", module, stage)
	}
	e.log.Error(logger.Fields{
		"code":   string(imperr.CodeUserCallbackFailure),
		"module": module,
		"stage":  stage.String(),
		"error":  err.Error(),
	}, "lifecycle callback failed")
	return nil
}

// drainDeferred runs callbacks that were attached after their stage
// completed. Failures here are user-callback failures: logged, never
// fatal.
func (e *engine) drainDeferred(ctx context.Context) error {
	for {
		e.mu.Lock()
		queue := e.deferred
		e.deferred = nil
		e.mu.Unlock()
		if len(queue) == 0 {
			return nil
		}
		for _, cb := range queue {
			if err := safeCall(ctx, cb); err != nil {
				e.log.Error(logger.Fields{
					"code":  string(imperr.CodeUserCallbackFailure),
					"error": err.Error(),
				}, "deferred callback failed")
			}
		}
	}
}

// reset clears completed-stage tracking between bootstraps.
func (e *engine) reset() {
	e.mu.Lock()
	e.completed = make(map[Stage]bool)
	e.deferred = nil
	e.mu.Unlock()
}

// safeCall shields the engine from panicking callbacks.
func safeCall(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = imperr.New(imperr.CodeUserCallbackFailure, "callback panicked: %v", rec)
		}
	}()
	return cb(ctx)
}

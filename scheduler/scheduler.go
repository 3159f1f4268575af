// Package scheduler provides the kernel timing facilities: cron entries,
// fixed intervals and sliding one-shot timers. Activation is tied to the
// application lifecycle: nothing fires before Ready, everything stops at
// pre-shutdown, and every job runs inside the safe-exec envelope so a
// failing job can never take the runtime down with it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"imp/logger"
)

// Cancel releases one scheduled entry. Calling it more than once is a
// no-op; it prevents future invocations and never interrupts a job that is
// already running.
type Cancel func()

// Exec is a scheduled job body.
type Exec func(ctx context.Context) error

// NextFunc computes the next execution instant for a sliding timer.
type NextFunc func() time.Time

// Registry owns every scheduler handle in the process. The kernel starts
// it at Ready and drains it at pre-shutdown.
type Registry struct {
	mu      sync.Mutex
	log     logger.Logger
	cron    *cron.Cron
	handles map[*handle]struct{}
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// handle is one registered entry. start is invoked when the registry
// activates (or immediately, for entries created after Ready); stop tears
// the entry down and is idempotent through the once guard.
type handle struct {
	start func()
	stop  func()
	once  sync.Once
	dead  bool
}

// NewRegistry creates an inactive scheduler registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		log:     log.With("boilerplate:scheduler"),
		cron:    cron.New(),
		handles: make(map[*handle]struct{}),
	}
}

// ForContext returns the per-service constructor view. The context string
// tags every log line the service's jobs produce.
func (r *Registry) ForContext(context string) *Scheduler {
	return &Scheduler{reg: r, context: context, log: r.log}
}

// Start activates all registered entries. Called by the kernel at Ready.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.cron.Start()
	for h := range r.handles {
		if !h.dead {
			h.start()
		}
	}
}

// Stop drains every handle and halts the cron runner. Called by the kernel
// at pre-shutdown; in-flight jobs are allowed to finish on their own.
func (r *Registry) Stop() {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.handles))
	for h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[*handle]struct{})
	cancel := r.cancel
	r.started = false
	r.mu.Unlock()

	for _, h := range handles {
		h.once.Do(h.stop)
	}
	r.cron.Stop()
	if cancel != nil {
		cancel()
	}
}

// register tracks a handle and activates it right away when the registry
// is already running.
func (r *Registry) register(h *handle) Cancel {
	r.mu.Lock()
	r.handles[h] = struct{}{}
	active := r.started
	r.mu.Unlock()

	if active {
		h.start()
	}
	return func() {
		h.once.Do(func() {
			r.mu.Lock()
			h.dead = true
			delete(r.handles, h)
			r.mu.Unlock()
			h.stop()
		})
	}
}

// baseContext returns the context jobs run under.
func (r *Registry) baseContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// Scheduler is the constructor view bound to one service context.
type Scheduler struct {
	reg     *Registry
	context string
	log     logger.Logger
}

// Cron registers one cron entry per expression. Entries start ticking at
// Ready; the returned cancel stops all of this call's entries.
func (s *Scheduler) Cron(exec Exec, exprs ...string) (Cancel, error) {
	var ids []cron.EntryID
	for _, expr := range exprs {
		id, err := s.reg.cron.AddFunc(expr, func() {
			s.safeExec(exec)
		})
		if err != nil {
			for _, placed := range ids {
				s.reg.cron.Remove(placed)
			}
			return nil, err
		}
		ids = append(ids, id)
	}

	h := &handle{
		start: func() {},
		stop: func() {
			for _, id := range ids {
				s.reg.cron.Remove(id)
			}
		},
	}
	return s.reg.register(h), nil
}

// Interval runs exec every d, first firing one period after Ready.
func (s *Scheduler) Interval(d time.Duration, exec Exec) Cancel {
	done := make(chan struct{})
	h := &handle{
		stop: func() { close(done) },
	}
	h.start = func() {
		go func() {
			ticker := time.NewTicker(d)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					s.safeExec(exec)
				}
			}
		}()
	}
	return s.reg.register(h)
}

// Sliding arms a one-shot timer recomputed on every tick of resetExpr:
// next() names the instant, a past instant skips the cycle, and a still
// pending shot is replaced with a warning.
func (s *Scheduler) Sliding(resetExpr string, next NextFunc, exec Exec) (Cancel, error) {
	var mu sync.Mutex
	var pending *time.Timer

	reset := func() {
		target := next()
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			if pending.Stop() {
				s.log.Warn(logger.Fields{"expression": resetExpr}, "sliding timer reset while a shot was still pending")
			}
			pending = nil
		}
		wait := time.Until(target)
		if wait <= 0 {
			s.log.Trace(logger.Fields{"target": target.String()}, "sliding timer target already passed, skipping cycle")
			return
		}
		pending = time.AfterFunc(wait, func() {
			mu.Lock()
			pending = nil
			mu.Unlock()
			s.safeExec(exec)
		})
	}

	id, err := s.reg.cron.AddFunc(resetExpr, reset)
	if err != nil {
		return nil, err
	}

	h := &handle{
		start: func() {},
		stop: func() {
			s.reg.cron.Remove(id)
			mu.Lock()
			if pending != nil {
				pending.Stop()
				pending = nil
			}
			mu.Unlock()
		},
	}
	return s.reg.register(h), nil
}

// safeExec wraps one job invocation: panics and errors are caught and
// logged with the owning context, duration is measured, and nothing
// propagates to the scheduler runtime.
func (s *Scheduler) safeExec(exec Exec) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error(logger.Fields{"panic": rec, "context": s.context}, "scheduled job panicked")
		}
	}()

	if err := exec(s.reg.baseContext()); err != nil {
		s.log.Error(logger.Fields{"error": err.Error(), "context": s.context}, "scheduled job failed")
	}
	s.log.Trace(logger.Fields{"context": s.context, "duration": time.Since(start).String()}, "scheduled job finished")
}

package corekit

import (
	"context"
	"fmt"
	"sync"
)

// Runner owns the lifecycle of every registered Service, starting them in
// registration order and stopping them in reverse, grounded on the
// teacher's applications/system.Manager.
type Runner struct {
	mu       sync.Mutex
	services []Service
	started  bool
}

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Register appends svc to the start queue. Registering after Start returns
// an error.
func (r *Runner) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("cannot register a nil service")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("service %q registered after runner start", svc.Name())
	}
	r.services = append(r.services, svc)
	return nil
}

// Start starts every registered service in order. If one fails, every
// already-started service is stopped in reverse order before the error is
// returned.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	services := append([]Service(nil), r.services...)
	r.mu.Unlock()

	for idx, svc := range services {
		if err := svc.Start(ctx); err != nil {
			for i := idx - 1; i >= 0; i-- {
				_ = services[i].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops every registered service in reverse order, returning the
// first error encountered but always attempting every service.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	services := append([]Service(nil), r.services...)
	r.mu.Unlock()

	var stopErr error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("stop %s: %w", services[i].Name(), err)
		}
	}
	return stopErr
}

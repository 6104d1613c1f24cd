package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"otogi-invite/pkg/otogi"
)

// Kernel connects drivers to modules through the event bus.
//
// Registration happens before Run. Run starts modules in registration order,
// supervises drivers until the context ends or one driver fails, and then
// shuts everything down in reverse order.
type Kernel struct {
	cfg      config
	bus      *EventBus
	services *ServiceRegistry
	recent   *redeliveryWindow

	mu       sync.RWMutex
	modules  []*moduleRecord
	commands map[string]commandRegistration
	drivers  []otogi.Driver

	running sync.Mutex
}

// New creates a kernel. The command catalog service is registered up front.
func New(options ...Option) *Kernel {
	cfg := newConfig(options)

	k := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.bus, cfg.onAsyncError),
		services: NewServiceRegistry(),
		recent:   newRedeliveryWindow(cfg.redeliveryWindow),
		commands: make(map[string]commandRegistration),
	}
	if err := k.services.Register(otogi.ServiceCommandCatalog, &kernelCommandCatalog{kernel: k}); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog", err)
	}

	return k
}

// EventBus returns the kernel event bus.
func (k *Kernel) EventBus() otogi.EventBus {
	return k.bus
}

// Services returns the kernel service registry.
func (k *Kernel) Services() otogi.ServiceRegistry {
	return k.services
}

// RegisterService registers a named service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// Run blocks until ctx is canceled or a driver fails, then shuts down.
// Cancellation of ctx is a clean exit and returns nil.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.TryLock() {
		return fmt.Errorf("kernel run: already running")
	}
	defer k.running.Unlock()

	if err := k.startModules(ctx); err != nil {
		return err
	}
	k.cfg.logger.InfoContext(ctx, "kernel started",
		"modules", len(k.moduleSnapshot()),
		"drivers", len(k.driverSnapshot()),
		"services", k.services.Names(),
	)

	runErr := k.superviseDrivers(ctx)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdown(ctx))
}

// shutdown stops drivers, then modules, then the bus. It ignores the
// cancellation of ctx and is bounded by the shutdown timeout instead.
func (k *Kernel) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	err := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}
	k.cfg.logger.InfoContext(shutdownCtx, "kernel stopped")

	return nil
}

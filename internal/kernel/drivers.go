package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"otogi-invite/pkg/otogi"
)

// RegisterDriver adds a platform driver. Names must be unique.
func (k *Kernel) RegisterDriver(driver otogi.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.drivers {
		if existing.Name() == name {
			return fmt.Errorf("register driver %s: %w", name, otogi.ErrDriverAlreadyRegistered)
		}
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

func (k *Kernel) driverSnapshot() []otogi.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.drivers)
}

// superviseDrivers starts every driver and waits until ctx ends, one driver
// fails, or all drivers return. A failing driver cancels its siblings.
// Drivers that ignore cancellation are abandoned after the shutdown timeout.
func (k *Kernel) superviseDrivers(ctx context.Context) error {
	dispatcher := k.newDriverDispatcher()
	group, groupCtx := errgroup.WithContext(ctx)
	for _, driver := range k.driverSnapshot() {
		group.Go(func() error {
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(groupCtx, dispatcher)
			})
			if err == nil || isContextCancellation(err) {
				return nil
			}
			return fmt.Errorf("run driver %s: %w", driver.Name(), err)
		})
	}

	finished := make(chan error, 1)
	go func() {
		finished <- group.Wait()
	}()

	select {
	case err := <-finished:
		return firstError(err, ctx.Err())
	case <-groupCtx.Done():
	}

	select {
	case err := <-finished:
		return firstError(err, ctx.Err())
	case <-time.After(k.cfg.shutdownTimeout):
		k.cfg.logger.WarnContext(ctx, "drivers did not stop before shutdown timeout",
			"timeout", k.cfg.shutdownTimeout,
		)
		return ctx.Err()
	}
}

// shutdownDrivers calls Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	drivers := k.driverSnapshot()
	slices.Reverse(drivers)

	var shutdownErr error
	for _, driver := range drivers {
		err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}

	return shutdownErr
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

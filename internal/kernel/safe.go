package kernel

import (
	"context"
	"errors"
	"fmt"
)

// runSafely calls fn, tagging its error with scope and turning a panic into an error.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
		}
	}()

	if err = fn(); err != nil {
		err = fmt.Errorf("%s: %w", scope, err)
	}

	return err
}

// runHook calls one module lifecycle hook under the module hook timeout.
func (k *Kernel) runHook(ctx context.Context, scope string, hook func(context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	return runSafely(scope, func() error {
		return hook(hookCtx)
	})
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

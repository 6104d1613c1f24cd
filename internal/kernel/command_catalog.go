package kernel

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"otogi-invite/pkg/otogi"
)

// kernelCommandCatalog is the otogi.CommandCatalog service backed by the
// kernel command registry.
type kernelCommandCatalog struct {
	kernel *Kernel
}

// ListCommands returns one entry per registered spec, ordered by prefixed
// name and then module. Alias keys are not listed separately.
func (c *kernelCommandCatalog) ListCommands(ctx context.Context) ([]otogi.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if c == nil || c.kernel == nil {
		return nil, fmt.Errorf("list commands: nil catalog")
	}

	c.kernel.mu.RLock()
	commands := make([]otogi.RegisteredCommand, 0, len(c.kernel.commands))
	for key, registration := range c.kernel.commands {
		if key != commandRegistryKey(registration.spec.Prefix, registration.spec.Name) {
			continue
		}
		commands = append(commands, otogi.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    cloneCommandSpec(registration.spec),
		})
	}
	c.kernel.mu.RUnlock()

	slices.SortFunc(commands, func(left, right otogi.RegisteredCommand) int {
		return cmp.Or(
			cmp.Compare(
				formatCommandKey(left.Command.Prefix, left.Command.Name),
				formatCommandKey(right.Command.Prefix, right.Command.Name),
			),
			cmp.Compare(left.ModuleName, right.ModuleName),
		)
	})

	return commands, nil
}

var _ otogi.CommandCatalog = (*kernelCommandCatalog)(nil)

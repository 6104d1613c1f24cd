package driver

import (
	"context"
	"fmt"
	"log/slog"

	"otogi-invite/internal/driver/discord"
	"otogi-invite/internal/driver/onebot"
	"otogi-invite/internal/driver/telegram"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     onebot.DriverType,
			Platform: onebot.DriverPlatform,
			Builder: builderFor(onebot.DriverType, onebot.BuildRuntimeFromConfig, func(c onebot.Components) Runtime {
				return Runtime{Source: c.Source, Driver: c.Driver, SinkDispatcher: c.Sink, Directory: c.Directory}
			}),
		},
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: builderFor(telegram.DriverType, telegram.BuildRuntimeFromConfig, func(c telegram.Components) Runtime {
				return Runtime{Source: c.Source, Driver: c.Driver, SinkDispatcher: c.Sink, Directory: c.Directory}
			}),
		},
		{
			Type:     discord.DriverType,
			Platform: discord.DriverPlatform,
			Builder: builderFor(discord.DriverType, discord.BuildRuntimeFromConfig, func(c discord.Components) Runtime {
				return Runtime{Source: c.Source, Driver: c.Driver, SinkDispatcher: c.Sink, Directory: c.Directory}
			}),
		},
	})
}

// builderFor adapts one driver package's runtime constructor to BuilderFunc.
func builderFor[C any](
	driverType string,
	build func(name string, logger *slog.Logger, rawConfig []byte) (C, error),
	convert func(C) Runtime,
) BuilderFunc {
	return func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
		components, err := build(definition.Name, logger, definition.Config)
		if err != nil {
			return Runtime{}, fmt.Errorf("build %s runtime from config: %w", driverType, err)
		}

		return convert(components), nil
	}
}

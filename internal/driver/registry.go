// Package driver builds configured platform drivers and routes outbound
// traffic to them.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"otogi-invite/pkg/otogi"
)

// Definition is one entry of the drivers list in the bot config file.
type Definition struct {
	Name    string
	Type    string
	Enabled bool
	// Config is the raw type-specific JSON object.
	Config []byte
}

// Runtime is everything one built driver contributes to the process.
// SinkDispatcher and Directory are nil when the platform lacks them.
type Runtime struct {
	Source         otogi.EventSource
	Driver         otogi.Driver
	SinkDispatcher otogi.SinkDispatcher
	Directory      otogi.MemberDirectory
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds a config type token to its platform and builder.
type Descriptor struct {
	Type     string
	Platform otogi.Platform
	Builder  BuilderFunc
}

// Registry maps driver type tokens to descriptors. It is immutable after
// NewRegistry.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry validates descriptors and indexes them by type.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	indexed := make(map[string]Descriptor, len(descriptors))
	for _, descriptor := range descriptors {
		var problem string
		switch {
		case descriptor.Type == "":
			problem = "empty descriptor type"
		case descriptor.Platform == "":
			problem = "empty platform"
		case descriptor.Builder == nil:
			problem = "nil builder"
		case indexed[descriptor.Type].Builder != nil:
			problem = "duplicate"
		}
		if problem != "" {
			return nil, fmt.Errorf("new registry type %q: %s", descriptor.Type, problem)
		}
		indexed[descriptor.Type] = descriptor
	}

	return &Registry{descriptors: indexed}, nil
}

// Types lists registered type tokens in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.descriptors))
}

// PlatformForType resolves a type token to its platform.
func (r *Registry) PlatformForType(driverType string) (otogi.Platform, error) {
	if r == nil {
		return "", errors.New("resolve platform: nil registry")
	}
	descriptor, ok := r.descriptors[driverType]
	if !ok {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds every enabled definition in order. Disabled entries are
// skipped without validation. A runtime without a source id takes the
// definition name.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if r == nil {
		return nil, errors.New("build drivers: nil registry")
	}

	var runtimes []Runtime
	names := make(map[string]bool, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, errors.New("build driver: empty name")
		}
		if names[definition.Name] {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		names[definition.Name] = true

		runtime, err := r.build(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) build(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	descriptor, ok := r.descriptors[definition.Type]
	if !ok {
		return Runtime{}, errors.New("unsupported type")
	}

	runtime, err := descriptor.Builder(ctx, definition, logger)
	switch {
	case err != nil:
		return Runtime{}, err
	case runtime.Driver == nil:
		return Runtime{}, errors.New("nil driver")
	case runtime.Source.Platform == "":
		return Runtime{}, errors.New("missing source platform")
	}
	if runtime.Source.ID == "" {
		runtime.Source.ID = definition.Name
	}

	return runtime, nil
}

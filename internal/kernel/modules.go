package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"otogi-invite/pkg/otogi"
)

// RegisterModule validates module, claims its commands, calls OnRegister and
// subscribes its declared handlers. Any failure undoes the partial registration.
func (k *Kernel) RegisterModule(ctx context.Context, module otogi.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: spec.Capabilities(),
	}
	if err := k.requireServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	if err := k.addModule(record); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	if err := k.bindModule(ctx, record, spec); err != nil {
		k.removeModule(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}
	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"handlers", len(spec.Handlers),
		"commands", len(spec.Commands),
	)

	return nil
}

func (k *Kernel) bindModule(ctx context.Context, record *moduleRecord, spec otogi.ModuleSpec) error {
	if err := k.registerModuleCommands(ctx, record.name, spec.Commands); err != nil {
		return err
	}

	runtime := &moduleRuntime{
		moduleName:    record.name,
		serviceLookup: k.services,
		bus:           k.bus,
		record:        record,
	}
	if registrar, ok := record.module.(otogi.ModuleRegistrar); ok {
		err := k.runHook(ctx, "module "+record.name+" OnRegister", func(hookCtx context.Context) error {
			return registrar.OnRegister(hookCtx, runtime)
		})
		if err != nil {
			return err
		}
	}

	route := k.routeFor(record.name)
	for index, declared := range spec.Handlers {
		interest := declared.Capability.Interest
		if len(route.Sources) > 0 {
			interest.Sources = append([]otogi.EventSource(nil), route.Sources...)
		}
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", record.name, index+1)
		}
		if _, err := runtime.Subscribe(ctx, interest, subscription, declared.Handler); err != nil {
			return fmt.Errorf(
				"register handler %s for capability %s: %w",
				subscription.Name,
				declared.Capability.Name,
				err,
			)
		}
	}

	return nil
}

func (k *Kernel) addModule(record *moduleRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.modules {
		if existing.name == record.name {
			return otogi.ErrModuleAlreadyRegistered
		}
	}
	k.modules = append(k.modules, record)

	return nil
}

// removeModule undoes a partial registration. Cleanup failures are reported
// asynchronously because the caller already returns the original error.
func (k *Kernel) removeModule(ctx context.Context, record *moduleRecord) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(cleanupCtx); err != nil {
		k.cfg.onAsyncError(cleanupCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	k.modules = slices.DeleteFunc(k.modules, func(candidate *moduleRecord) bool {
		return candidate == record
	})
	k.mu.Unlock()
}

func (k *Kernel) moduleSnapshot() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

// startModules calls OnStart in registration order and stops at the first failure.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleSnapshot() {
		if err := k.runHook(ctx, "module "+record.name+" OnStart", record.module.OnStart); err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// shutdownModules closes subscriptions and calls OnShutdown in reverse order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.moduleSnapshot()
	slices.Reverse(records)

	var shutdownErr error
	for _, record := range records {
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		if err := k.runHook(ctx, "module "+record.name+" OnShutdown", record.module.OnShutdown); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

// requireServices fails when a capability names a service nobody registered.
func (k *Kernel) requireServices(capabilities []otogi.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

func (k *Kernel) routeFor(moduleName string) ModuleRoute {
	if route, ok := k.cfg.moduleRoutes[moduleName]; ok {
		return route
	}
	if k.cfg.defaultRoute != nil {
		return *k.cfg.defaultRoute
	}

	return ModuleRoute{}
}

// validateModuleSpec rejects unnamed or duplicate capabilities, duplicate
// subscription names and commands whose names or aliases collide.
func validateModuleSpec(spec otogi.ModuleSpec) error {
	capabilities := make(map[string]struct{})
	claim := func(name string) error {
		if name == "" {
			return fmt.Errorf("empty capability name")
		}
		if _, seen := capabilities[name]; seen {
			return fmt.Errorf("duplicate capability name %s", name)
		}
		capabilities[name] = struct{}{}
		return nil
	}

	subscriptions := make(map[string]struct{})
	for index, handler := range spec.Handlers {
		if err := claim(handler.Capability.Name); err != nil {
			return fmt.Errorf("module handler %d: %w", index, err)
		}
		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", handler.Capability.Name)
		}
		if name := handler.Subscription.Name; name != "" {
			if _, seen := subscriptions[name]; seen {
				return fmt.Errorf("module handler %s: duplicate subscription name %s", handler.Capability.Name, name)
			}
			subscriptions[name] = struct{}{}
		}
	}
	for index, capability := range spec.AdditionalCapabilities {
		if err := claim(capability.Name); err != nil {
			return fmt.Errorf("additional capability %d: %w", index, err)
		}
	}

	commands := make(map[string]struct{})
	for index, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", index, err)
		}
		for _, name := range command.Names() {
			key := commandRegistryKey(command.Prefix, name)
			if _, seen := commands[key]; seen {
				return fmt.Errorf("module command %d: duplicate command %s", index, formatCommandKey(command.Prefix, name))
			}
			commands[key] = struct{}{}
		}
	}

	return nil
}

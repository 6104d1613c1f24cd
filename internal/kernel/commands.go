package kernel

import (
	"context"
	"fmt"
	"maps"

	"otogi-invite/pkg/otogi"
)

// commandRegistration records which module owns one command word.
type commandRegistration struct {
	moduleName string
	spec       otogi.CommandSpec
}

// registerModuleCommands claims every name and alias of commands for
// moduleName. Either all keys are claimed or none are.
func (k *Kernel) registerModuleCommands(_ context.Context, moduleName string, commands []otogi.CommandSpec) error {
	claims, err := commandClaims(moduleName, commands)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for key := range claims {
		if owner, taken := k.commands[key]; taken {
			return fmt.Errorf("register command %s for module %s: already registered by module %s",
				key, moduleName, owner.moduleName)
		}
	}
	maps.Copy(k.commands, claims)

	return nil
}

// commandClaims expands specs into one registration per invocation word.
func commandClaims(moduleName string, commands []otogi.CommandSpec) (map[string]commandRegistration, error) {
	claims := make(map[string]commandRegistration)
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return nil, fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}

		normalized := cloneCommandSpec(command)
		for _, name := range normalized.Names() {
			key := commandRegistryKey(normalized.Prefix, name)
			if _, dup := claims[key]; dup {
				return nil, fmt.Errorf("register command %s for module %s: duplicate declaration",
					formatCommandKey(normalized.Prefix, name), moduleName)
			}
			claims[key] = commandRegistration{moduleName: moduleName, spec: normalized}
		}
	}

	return claims, nil
}

func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	maps.DeleteFunc(k.commands, func(_ string, registration commandRegistration) bool {
		return registration.moduleName == moduleName
	})
}

// lookupCommand resolves a name or alias to a copy of its spec.
func (k *Kernel) lookupCommand(prefix otogi.CommandPrefix, name string) (otogi.CommandSpec, bool) {
	k.mu.RLock()
	registration, ok := k.commands[commandRegistryKey(prefix, name)]
	k.mu.RUnlock()
	if !ok {
		return otogi.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

func commandRegistryKey(prefix otogi.CommandPrefix, name string) string {
	return string(prefix) + ":" + otogi.NormalizeCommandName(name)
}

func formatCommandKey(prefix otogi.CommandPrefix, name string) string {
	return string(prefix) + otogi.NormalizeCommandName(name)
}

// commandUsage renders "/name usage" for error replies.
func commandUsage(spec otogi.CommandSpec) string {
	usage := formatCommandKey(spec.Prefix, spec.Name)
	if spec.Usage != "" {
		usage += " " + spec.Usage
	}

	return usage
}

func cloneCommandSpec(spec otogi.CommandSpec) otogi.CommandSpec {
	spec.Name = otogi.NormalizeCommandName(spec.Name)
	if spec.Aliases != nil {
		aliases := make([]string, len(spec.Aliases))
		for i, alias := range spec.Aliases {
			aliases[i] = otogi.NormalizeCommandName(alias)
		}
		spec.Aliases = aliases
	}

	return spec
}

package help

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"otogi-invite/pkg/otogi"
)

const unknownModule = "unknown"

// renderIndex groups ordinary commands by owning module. System commands
// are operator tooling and are never listed.
func renderIndex(commands []otogi.RegisteredCommand) string {
	groups := make(map[string][]otogi.CommandSpec)
	for _, registered := range commands {
		if registered.Command.Prefix != otogi.CommandPrefixOrdinary {
			continue
		}
		owner := cmp.Or(strings.TrimSpace(registered.ModuleName), unknownModule)
		groups[owner] = append(groups[owner], registered.Command)
	}

	var out strings.Builder
	out.WriteString("可用命令:")
	if len(groups) == 0 {
		out.WriteString("\n(无)")
		return out.String()
	}
	for _, owner := range slices.Sorted(maps.Keys(groups)) {
		specs := groups[owner]
		slices.SortFunc(specs, func(a, b otogi.CommandSpec) int { return cmp.Compare(a.Name, b.Name) })

		fmt.Fprintf(&out, "\n\n[%s]", owner)
		for _, spec := range specs {
			out.WriteString("\n" + summaryLine(spec))
		}
	}

	return out.String()
}

// renderDetail describes the ordinary command called query by name or alias.
func renderDetail(commands []otogi.RegisteredCommand, query string) string {
	name := otogi.NormalizeCommandName(strings.TrimPrefix(query, string(otogi.CommandPrefixOrdinary)))
	for _, registered := range commands {
		spec := registered.Command
		if spec.Prefix == otogi.CommandPrefixOrdinary && slices.Contains(spec.Names(), name) {
			return detailBlock(spec, registered.ModuleName)
		}
	}

	return fmt.Sprintf("未知命令: %s", query)
}

func summaryLine(spec otogi.CommandSpec) string {
	line := invocation(spec)
	if description := strings.TrimSpace(spec.Description); description != "" {
		line += " - " + description
	}
	if aliases := aliasList(spec); aliases != "" {
		line += " (" + aliases + ")"
	}

	return line
}

func detailBlock(spec otogi.CommandSpec, owner string) string {
	lines := []string{"用法: " + invocation(spec)}
	if description := strings.TrimSpace(spec.Description); description != "" {
		lines = append(lines, "说明: "+description)
	}
	if aliases := aliasList(spec); aliases != "" {
		lines = append(lines, "别名: "+aliases)
	}
	lines = append(lines, "模块: "+cmp.Or(strings.TrimSpace(owner), unknownModule))

	return strings.Join(lines, "\n")
}

func invocation(spec otogi.CommandSpec) string {
	line := string(spec.Prefix) + strings.TrimSpace(spec.Name)
	if usage := strings.TrimSpace(spec.Usage); usage != "" {
		line += " " + usage
	}

	return line
}

func aliasList(spec otogi.CommandSpec) string {
	aliases := make([]string, len(spec.Aliases))
	for i, alias := range spec.Aliases {
		aliases[i] = string(spec.Prefix) + alias
	}

	return strings.Join(aliases, ", ")
}

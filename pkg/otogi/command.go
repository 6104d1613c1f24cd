package otogi

import (
	"context"
	"fmt"
	"strings"
)

// CommandPrefix identifies the prefix introducing one command invocation.
type CommandPrefix string

const (
	// CommandPrefixOrdinary identifies ordinary command syntax.
	CommandPrefixOrdinary CommandPrefix = "/"
	// CommandPrefixSystem identifies system command syntax.
	CommandPrefixSystem CommandPrefix = "~"
)

// Validate checks whether one command prefix is supported.
func (p CommandPrefix) Validate() error {
	switch p {
	case CommandPrefixOrdinary, CommandPrefixSystem:
		return nil
	default:
		return fmt.Errorf("validate command prefix: unsupported prefix %q", p)
	}
}

// CommandCandidate is a parsed command-looking article before spec binding.
type CommandCandidate struct {
	// Prefix is the leading command prefix.
	Prefix CommandPrefix
	// Name is the normalized command token without prefix and mention suffix.
	Name string
	// Mention is the optional bot mention suffix from `<name>@<mention>`.
	Mention string
	// Tokens stores whitespace-separated tokens after the command header.
	Tokens []string
	// RawInput is the original untrimmed article text.
	RawInput string
}

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Prefix identifies which command prefix triggers this command.
	Prefix CommandPrefix
	// Name is the canonical command name without prefix.
	Name string
	// Aliases are alternative names that bind to this command.
	Aliases []string
	// Usage is a short argument synopsis such as "[@user|id]".
	Usage string
	// Description describes command behavior for help text.
	Description string
}

// Names returns the canonical name followed by every alias, normalized.
func (s CommandSpec) Names() []string {
	names := make([]string, 0, len(s.Aliases)+1)
	names = append(names, NormalizeCommandName(s.Name))
	for _, alias := range s.Aliases {
		if normalized := NormalizeCommandName(alias); normalized != "" {
			names = append(names, normalized)
		}
	}

	return names
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	if err := s.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}

	seen := make(map[string]struct{}, len(s.Aliases)+1)
	for _, name := range append([]string{s.Name}, s.Aliases...) {
		normalized := NormalizeCommandName(name)
		if normalized == "" {
			return fmt.Errorf("validate command spec %q: empty name", s.Name)
		}
		if strings.ContainsAny(normalized, " \t\r\n@") {
			return fmt.Errorf("validate command spec %q: invalid name %q", s.Name, name)
		}
		if _, exists := seen[normalized]; exists {
			return fmt.Errorf("validate command spec %q: duplicate name %q", s.Name, name)
		}
		seen[normalized] = struct{}{}
	}

	return nil
}

// CommandInvocation carries one validated command event payload.
type CommandInvocation struct {
	// Name is the canonical command name of the bound spec.
	Name string
	// InvokedAs is the name or alias the sender actually typed.
	InvokedAs string
	// Mention is the optional bot mention suffix.
	Mention string
	// Args stores the tokens after the command header.
	Args []string
	// Value stores Args joined by single spaces.
	Value string
	// SourceEventID identifies the inbound article event that produced this command.
	SourceEventID string
	// SourceEventKind identifies the inbound source event kind.
	SourceEventKind EventKind
	// RawInput stores the original inbound article text.
	RawInput string
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if NormalizeCommandName(c.Name) == "" {
		return fmt.Errorf("validate command invocation: missing name")
	}
	if c.SourceEventID == "" {
		return fmt.Errorf("validate command invocation: missing source_event_id")
	}
	if c.SourceEventKind == "" {
		return fmt.Errorf("validate command invocation: missing source_event_kind")
	}

	return nil
}

// ParseCommandCandidate parses one article text into a command candidate.
//
// matched is false when text does not look like a command at all.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return candidate, false, nil
	}

	header := fields[0]
	switch {
	case strings.HasPrefix(header, string(CommandPrefixOrdinary)):
		candidate.Prefix = CommandPrefixOrdinary
	case strings.HasPrefix(header, string(CommandPrefixSystem)):
		candidate.Prefix = CommandPrefixSystem
	default:
		return candidate, false, nil
	}

	body := strings.TrimPrefix(header, string(candidate.Prefix))
	name, mention, _ := strings.Cut(body, "@")
	candidate.Name = NormalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}
	if len(fields) > 1 {
		candidate.Tokens = append([]string(nil), fields[1:]...)
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against one command spec.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command: %w", err)
	}
	if candidate.Prefix != spec.Prefix {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: prefix mismatch, got %q want %q",
			spec.Name,
			candidate.Prefix,
			spec.Prefix,
		)
	}

	invokedAs := NormalizeCommandName(candidate.Name)
	known := false
	for _, name := range spec.Names() {
		if name == invokedAs {
			known = true
			break
		}
	}
	if !known {
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}

	invocation := CommandInvocation{
		Name:            NormalizeCommandName(spec.Name),
		InvokedAs:       invokedAs,
		Mention:         candidate.Mention,
		Args:            append([]string(nil), candidate.Tokens...),
		Value:           strings.Join(candidate.Tokens, " "),
		SourceEventID:   sourceEvent.ID,
		SourceEventKind: sourceEvent.Kind,
		RawInput:        candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

// NormalizeCommandName trims and lower-cases one command token.
func NormalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ServiceCommandCatalog is the service key of the CommandCatalog the kernel registers.
const ServiceCommandCatalog = "otogi.command_catalog"

// RegisteredCommand pairs a command with the module that claimed it.
type RegisteredCommand struct {
	ModuleName string
	// Command carries the aliases it was declared with.
	Command CommandSpec
}

// CommandCatalog lists claimed commands, for example to render /help.
//
// Each command appears once under its primary name; aliases are only listed
// inside the spec. Entries are copies and safe to modify.
type CommandCatalog interface {
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}

// Package help answers /help with the public command reference.
package help

import (
	"context"
	"fmt"

	"otogi-invite/pkg/otogi"
)

const commandName = "help"

// Module lists ordinary commands, or describes one of them when /help is
// followed by a command name.
type Module struct {
	sink    otogi.SinkDispatcher
	catalog otogi.CommandCatalog
}

// New creates a help module.
func New() *Module {
	return &Module{}
}

// Name returns "help".
func (m *Module) Name() string {
	return commandName
}

// Spec claims /help (alias /帮助) and subscribes to its command events.
func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Commands: []otogi.CommandSpec{{
			Prefix:      otogi.CommandPrefixOrdinary,
			Name:        commandName,
			Aliases:     []string{"帮助"},
			Usage:       "[命令]",
			Description: "列出所有可用命令",
		}},
		Handlers: []otogi.ModuleHandler{{
			Capability: otogi.Capability{
				Name:        "help-command-handler",
				Description: "renders the command reference from the command catalog",
				Interest: otogi.InterestSet{
					Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
					RequireArticle: true,
					RequireCommand: true,
					CommandNames:   []string{commandName},
				},
				RequiredServices: []string{otogi.ServiceSinkDispatcher, otogi.ServiceCommandCatalog},
			},
			Subscription: otogi.NewDefaultSubscriptionSpec("help-commands"),
			Handler:      m.handle,
		}},
	}
}

// OnRegister resolves the sink dispatcher and the command catalog.
func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	sink, err := otogi.ResolveAs[otogi.SinkDispatcher](runtime.Services(), otogi.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("help resolve sink dispatcher: %w", err)
	}
	catalog, err := otogi.ResolveAs[otogi.CommandCatalog](runtime.Services(), otogi.ServiceCommandCatalog)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}
	m.sink, m.catalog = sink, catalog

	return nil
}

func (m *Module) OnStart(context.Context) error { return nil }

func (m *Module) OnShutdown(context.Context) error { return nil }

func (m *Module) handle(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Article == nil || event.Command == nil || event.Command.Name != commandName {
		return nil
	}
	if m.sink == nil || m.catalog == nil {
		return fmt.Errorf("help handle command: module not registered")
	}

	commands, err := m.catalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}
	text := renderIndex(commands)
	if len(event.Command.Args) > 0 {
		text = renderDetail(commands, event.Command.Args[0])
	}

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	if _, err := m.sink.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             text,
		ReplyToMessageID: event.Article.ID,
	}); err != nil {
		return fmt.Errorf("help send reply: %w", err)
	}

	return nil
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
